// downstreamd is the downstream mock service: a rate-limited receiver with
// probabilistic failure injection, used as a realistic delivery target for
// end-to-end testing of the relay.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweater-ventures/relay/config"
	"github.com/sweater-ventures/relay/middleware"
	"github.com/sweater-ventures/relay/ratelimit"
	"github.com/sweater-ventures/relay/receiver"
)

func main() {
	config.InitLogging()
	appConfig, err := config.LoadDownstreamConfig()
	if err != nil {
		log.Fatal("Unable to load configuration", err)
	}

	limiter, err := ratelimit.Connect(
		context.Background(),
		appConfig.RedisURL,
		appConfig.RateLimit,
		time.Duration(appConfig.WindowSecs)*time.Second,
	)
	if err != nil {
		log.Fatal("Unable to connect rate limiter", err)
	}
	defer limiter.Close()

	handler := &receiver.Handler{
		Limiter:     limiter,
		FailureRate: appConfig.FailureRate,
	}

	router := http.NewServeMux()
	handler.Routes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", appConfig.Port),
		Handler: middleware.AllStandardMiddleware(router),
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("Starting downstream mock", "port", appConfig.Port,
			"rate_limit", appConfig.RateLimit, "failure_rate", appConfig.FailureRate)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	<-sigChan
	slog.Info("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	slog.Info("Shutdown complete")
}
