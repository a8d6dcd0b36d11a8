package testutil

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/sweater-ventures/relay/app"
	"github.com/sweater-ventures/relay/queue"
	"github.com/sweater-ventures/relay/store"
)

// MockEventStore is a testify mock implementation of app.EventStore.
type MockEventStore struct {
	mock.Mock
}

var _ app.EventStore = (*MockEventStore)(nil)

func (m *MockEventStore) Insert(ctx context.Context, event store.Event) (string, error) {
	args := m.Called(ctx, event)
	return args.String(0), args.Error(1)
}

func (m *MockEventStore) FindIDByIdempotencyKey(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *MockEventStore) Claim(ctx context.Context, id string) (*store.Event, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Event), args.Error(1)
}

func (m *MockEventStore) RecordAttempt(ctx context.Context, id string, attempt store.AttemptRecord, status string) error {
	args := m.Called(ctx, id, attempt, status)
	return args.Error(0)
}

func (m *MockEventStore) SetStatus(ctx context.Context, id string, status string) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockEventStore) Search(ctx context.Context, q store.SearchQuery) (*store.SearchResult, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.SearchResult), args.Error(1)
}

// MockJobQueue is a testify mock implementation of app.JobQueue.
type MockJobQueue struct {
	mock.Mock
}

var _ app.JobQueue = (*MockJobQueue)(nil)

func (m *MockJobQueue) Enqueue(ctx context.Context, job queue.Job) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *MockJobQueue) Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error) {
	args := m.Called(ctx, timeout)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*queue.Job), args.Error(1)
}
