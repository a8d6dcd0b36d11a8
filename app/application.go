package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/sweater-ventures/relay/config"
	"github.com/sweater-ventures/relay/queue"
	"github.com/sweater-ventures/relay/store"
)

// EventStore is the slice of the event store the relay uses.
type EventStore interface {
	Insert(ctx context.Context, event store.Event) (string, error)
	FindIDByIdempotencyKey(ctx context.Context, key string) (string, error)
	Claim(ctx context.Context, id string) (*store.Event, error)
	RecordAttempt(ctx context.Context, id string, attempt store.AttemptRecord, status string) error
	SetStatus(ctx context.Context, id string, status string) error
	Search(ctx context.Context, q store.SearchQuery) (*store.SearchResult, error)
}

// JobQueue hands delivery jobs from ingest to the worker pool.
type JobQueue interface {
	Enqueue(ctx context.Context, job queue.Job) error
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error)
}

type Application struct {
	Config config.RelayConfig
	Store  EventStore
	Queue  JobQueue

	// Downstream is the HTTP client used for outbound deliveries. Its
	// timeout bounds each attempt.
	Downstream *http.Client

	// SleepFn, when set, replaces the inter-attempt backoff wait. Tests use
	// it to record delays without sleeping.
	SleepFn func(time.Duration)

	eventStore *store.EventStore
	redisQueue *queue.RedisQueue
}

// NewApp acquires the relay's external capabilities: the Mongo event store
// (ping and index check included) and the Redis job queue.
func NewApp(ctx context.Context, cfg *config.RelayConfig) (*Application, error) {
	eventStore, err := store.Connect(ctx, cfg.MongoURL)
	if err != nil {
		slog.Error("Failed to connect to event store", "error", err)
		return nil, err
	}

	redisQueue, err := queue.Connect(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to job queue", "error", err)
		_ = eventStore.Close(context.Background())
		return nil, err
	}

	return &Application{
		Config:     *cfg,
		Store:      eventStore,
		Queue:      redisQueue,
		Downstream: &http.Client{Timeout: 10 * time.Second},
		eventStore: eventStore,
		redisQueue: redisQueue,
	}, nil
}

// Close releases the store and queue connections.
func (a *Application) Close() {
	if a.redisQueue != nil {
		if err := a.redisQueue.Close(); err != nil {
			slog.Error("Failed to close job queue", "error", err)
		}
	}
	if a.eventStore != nil {
		if err := a.eventStore.Close(context.Background()); err != nil {
			slog.Error("Failed to close event store", "error", err)
		}
	}
	slog.Info("Application connections closed")
}
