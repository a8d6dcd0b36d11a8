package config

import (
	"log/slog"

	"github.com/alexflint/go-arg"
	"github.com/joho/godotenv"
)

// RelayConfig holds configuration for the relay service: the ingest/search API
// and its delivery worker pool.
type RelayConfig struct {
	DevMode  bool   `arg:"--dev,env:DEV_MODE" default:"false"`
	Port     int    `arg:"-p,--port,env:LISTEN_PORT" default:"8000"`
	LogLevel string `arg:"--log-level,env:LOG_LEVEL" default:"default" help:"Log level to use.  Valid values are: debug, info, and warn/warning.  If default the level will be info or debug in dev mode."`

	MongoURL      string `arg:"--mongodb-url,env:MONGODB_URL" default:"mongodb://localhost:27017" help:"MongoDB connection string for the event store."`
	RedisURL      string `arg:"--redis-url,env:REDIS_URL" default:"redis://localhost:6379/0" help:"Redis connection string for the delivery job queue."`
	DownstreamURL string `arg:"--downstream-url,env:DOWNSTREAM_URL" default:"http://localhost:8001/downstream/receive" help:"Endpoint the delivery workers POST events to."`
	SecretKey     string `arg:"--secret-key,env:SECRET_KEY,required" help:"Shared HMAC-SHA256 secret for ingest signature verification."`

	DeliveryWorkers int `arg:"--delivery-workers,env:DELIVERY_WORKERS" default:"4" help:"Number of delivery worker goroutines."`
	MaxAttempts     int `arg:"--max-attempts,env:MAX_ATTEMPTS" default:"5" help:"Delivery attempts before an event is failed permanently."`
}

// DownstreamConfig holds configuration for the downstream mock service.
type DownstreamConfig struct {
	DevMode  bool   `arg:"--dev,env:DEV_MODE" default:"false"`
	Port     int    `arg:"-p,--port,env:LISTEN_PORT" default:"8001"`
	LogLevel string `arg:"--log-level,env:LOG_LEVEL" default:"default"`

	RedisURL    string  `arg:"--redis-url,env:REDIS_URL" default:"redis://localhost:6379/0" help:"Redis connection string for the shared rate limiter."`
	RateLimit   int     `arg:"--rate-limit,env:RATE_LIMIT" default:"3" help:"Requests allowed per client IP per window."`
	WindowSecs  int     `arg:"--window,env:RATE_WINDOW_SECONDS" default:"1" help:"Fixed rate-limit window in seconds."`
	FailureRate float64 `arg:"--failure-rate,env:FAILURE_RATE" default:"0.20" help:"Probability of an injected failure outcome.  Set to 0 for a deterministic receiver."`
}

// LoadRelayConfig parses relay configuration from flags and environment.
func LoadRelayConfig() (*RelayConfig, error) {
	var cfg RelayConfig
	loadDotenv()
	arg.MustParse(&cfg)
	setLogLevel(cfg.LogLevel, cfg.DevMode)
	return &cfg, nil
}

// LoadDownstreamConfig parses downstream mock configuration from flags and environment.
func LoadDownstreamConfig() (*DownstreamConfig, error) {
	var cfg DownstreamConfig
	loadDotenv()
	arg.MustParse(&cfg)
	setLogLevel(cfg.LogLevel, cfg.DevMode)
	return &cfg, nil
}

func loadDotenv() {
	if err := godotenv.Load(".env"); err == nil {
		slog.Info("Loaded .env")
	}
}
