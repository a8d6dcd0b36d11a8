package testutil

import (
	"net/http"
	"time"

	"github.com/sweater-ventures/relay/app"
	"github.com/sweater-ventures/relay/config"
	"github.com/sweater-ventures/relay/store"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// TestSecretKey is the HMAC secret used by test applications.
const TestSecretKey = "test-secret-key"

// NewTestApp builds an Application wired to mocks, with backoff sleeps
// disabled.
func NewTestApp(mockStore app.EventStore, mockQueue app.JobQueue) *app.Application {
	return &app.Application{
		Config: config.RelayConfig{
			SecretKey:       TestSecretKey,
			DeliveryWorkers: 1,
			MaxAttempts:     5,
		},
		Store:      mockStore,
		Queue:      mockQueue,
		Downstream: &http.Client{Timeout: 10 * time.Second},
		SleepFn:    func(time.Duration) {},
	}
}

// NewEventID returns a fresh hex ObjectID.
func NewEventID() string {
	return bson.NewObjectID().Hex()
}

// EventOpt is a functional option for building test Events.
type EventOpt func(*store.Event)

// NewEvent creates a store.Event with sensible defaults. Use options to override.
func NewEvent(opts ...EventOpt) store.Event {
	eventType := "order.created"
	e := store.Event{
		ID:               bson.NewObjectID(),
		Payload:          map[string]any{"event_type": eventType, "data": map[string]any{"order_id": "ORD-123"}},
		Status:           store.StatusReceived,
		ReceivedAt:       time.Now().UTC(),
		EventType:        &eventType,
		DeliveryAttempts: []store.AttemptRecord{},
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// WithIdempotencyKey sets the event's idempotency key.
func WithIdempotencyKey(key string) EventOpt {
	return func(e *store.Event) {
		e.IdempotencyKey = &key
	}
}

// WithStatus sets the event's status.
func WithStatus(status string) EventOpt {
	return func(e *store.Event) {
		e.Status = status
	}
}

// WithPayload replaces the event's payload.
func WithPayload(payload map[string]any) EventOpt {
	return func(e *store.Event) {
		e.Payload = payload
	}
}
