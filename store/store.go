// Package store persists webhook events in MongoDB. The collection is the
// source of truth for delivery state; workers coordinate exclusively through
// the atomic claim update and the sparse unique idempotency_key index.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ErrDuplicateKey is returned by Insert when the event's idempotency_key
// already exists.
var ErrDuplicateKey = errors.New("duplicate idempotency key")

// ErrNotFound is returned by lookups that matched no document.
var ErrNotFound = errors.New("event not found")

const (
	databaseName   = "webhooks"
	collectionName = "events"
)

// EventStore is a MongoDB-backed event collection.
type EventStore struct {
	client *mongo.Client
	events *mongo.Collection
}

// Connect establishes the MongoDB client, verifies the connection with a ping,
// and ensures the collection indexes.
func Connect(ctx context.Context, url string) (*EventStore, error) {
	opts := options.Client().
		ApplyURI(url).
		SetMaxPoolSize(5).
		SetMinPoolSize(1).
		SetRetryWrites(true).
		SetRetryReads(true)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongodb ping: %w", err)
	}

	s := &EventStore{
		client: client,
		events: client.Database(databaseName).Collection(collectionName),
	}

	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	slog.Info("MongoDB connected and indexes ensured", "database", databaseName)
	return s, nil
}

// Close releases the underlying client.
func (s *EventStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *EventStore) ensureIndexes(ctx context.Context) error {
	_, err := s.events.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "status", Value: 1}},
			Options: options.Index().SetName("idx_status"),
		},
		{
			Keys:    bson.D{{Key: "event_type", Value: 1}},
			Options: options.Index().SetName("idx_event_type"),
		},
		{
			Keys:    bson.D{{Key: "received_at", Value: 1}},
			Options: options.Index().SetName("idx_received_at"),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "received_at", Value: 1}},
			Options: options.Index().SetName("idx_status_received_at"),
		},
		{
			Keys:    bson.D{{Key: "event_type", Value: 1}, {Key: "received_at", Value: 1}},
			Options: options.Index().SetName("idx_event_type_received_at"),
		},
		{
			Keys:    bson.D{{Key: "idempotency_key", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true),
		},
	})
	if err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}
	return nil
}

// Insert stores a new event and returns its assigned hex id. A collision on
// idempotency_key returns ErrDuplicateKey.
func (s *EventStore) Insert(ctx context.Context, event Event) (string, error) {
	res, err := s.events.InsertOne(ctx, event)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", ErrDuplicateKey
		}
		return "", fmt.Errorf("insert event: %w", err)
	}

	oid, ok := res.InsertedID.(bson.ObjectID)
	if !ok {
		return "", fmt.Errorf("insert event: unexpected inserted id type %T", res.InsertedID)
	}
	return oid.Hex(), nil
}

// FindIDByIdempotencyKey returns the hex id of the event holding the given
// idempotency key, or ErrNotFound.
func (s *EventStore) FindIDByIdempotencyKey(ctx context.Context, key string) (string, error) {
	var doc struct {
		ID bson.ObjectID `bson:"_id"`
	}
	err := s.events.FindOne(ctx,
		bson.M{"idempotency_key": key},
		options.FindOne().SetProjection(bson.M{"_id": 1}),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("find by idempotency key: %w", err)
	}
	return doc.ID.Hex(), nil
}

// Claim atomically transitions a RECEIVED event to DELIVERING and stamps
// locked_at, returning the post-image. It returns (nil, nil) when no document
// matched: the event is missing, already claimed, or terminal. The conditional
// update is what guarantees at most one worker owns an event at a time.
func (s *EventStore) Claim(ctx context.Context, id string) (*Event, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}

	var event Event
	err = s.events.FindOneAndUpdate(ctx,
		bson.M{"_id": oid, "status": StatusReceived},
		bson.M{"$set": bson.M{"status": StatusDelivering, "locked_at": time.Now().UTC()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&event)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim event: %w", err)
	}
	return &event, nil
}

// RecordAttempt appends a delivery attempt and sets the event status in a
// single update.
func (s *EventStore) RecordAttempt(ctx context.Context, id string, attempt AttemptRecord, status string) error {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}

	_, err = s.events.UpdateOne(ctx,
		bson.M{"_id": oid},
		bson.M{
			"$push": bson.M{"delivery_attempts": attempt},
			"$set":  bson.M{"status": status},
		},
	)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// SetStatus updates only the event status.
func (s *EventStore) SetStatus(ctx context.Context, id string, status string) error {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}

	_, err = s.events.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M{"status": status}})
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	return nil
}
