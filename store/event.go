package store

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Event statuses. Transitions form a DAG: RECEIVED -> DELIVERING ->
// {DELIVERED, RECEIVED, FAILED_PERMANENTLY}. DELIVERED and FAILED_PERMANENTLY
// are terminal.
const (
	StatusReceived          = "RECEIVED"
	StatusDelivering        = "DELIVERING"
	StatusDelivered         = "DELIVERED"
	StatusFailedPermanently = "FAILED_PERMANENTLY"
)

// ValidStatus reports whether s is one of the four event statuses.
func ValidStatus(s string) bool {
	switch s {
	case StatusReceived, StatusDelivering, StatusDelivered, StatusFailedPermanently:
		return true
	}
	return false
}

// Event is the single persistent entity: one producer-originated record,
// persisted once, delivered at least once.
type Event struct {
	ID               bson.ObjectID   `bson:"_id,omitempty" json:"_id"`
	Payload          map[string]any  `bson:"payload" json:"payload"`
	Status           string          `bson:"status" json:"status"`
	ReceivedAt       time.Time       `bson:"received_at" json:"received_at"`
	EventType        *string         `bson:"event_type" json:"event_type"`
	DeliveryAttempts []AttemptRecord `bson:"delivery_attempts" json:"delivery_attempts"`
	// IdempotencyKey must be absent (not null) when unset so the sparse
	// unique index does not collide on keyless events.
	IdempotencyKey *string    `bson:"idempotency_key,omitempty" json:"idempotency_key,omitempty"`
	LockedAt       *time.Time `bson:"locked_at,omitempty" json:"locked_at,omitempty"`
}

// AttemptRecord is one outbound HTTP completion for an event. HTTPStatusCode
// is nil on transport errors (connection refused, timeout, DNS).
type AttemptRecord struct {
	AttemptNumber  int       `bson:"attempt_number" json:"attempt_number"`
	HTTPStatusCode *int      `bson:"http_status_code" json:"http_status_code"`
	Success        bool      `bson:"success" json:"success"`
	Timestamp      time.Time `bson:"timestamp" json:"timestamp"`
}

// NewEvent builds a fresh RECEIVED event from a producer payload, lifting
// event_type and idempotency_key out of the payload for indexing.
func NewEvent(payload map[string]any) Event {
	e := Event{
		Payload:          payload,
		Status:           StatusReceived,
		ReceivedAt:       time.Now().UTC(),
		DeliveryAttempts: []AttemptRecord{},
	}
	if v, ok := payload["event_type"].(string); ok {
		e.EventType = &v
	}
	if v, ok := payload["idempotency_key"].(string); ok {
		e.IdempotencyKey = &v
	}
	return e
}

// ValidID reports whether id is a well-formed event identifier (hex ObjectID).
func ValidID(id string) bool {
	_, err := bson.ObjectIDFromHex(id)
	return err == nil
}
