package app_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/sweater-ventures/relay/queue"
	"github.com/sweater-ventures/relay/store"
	"github.com/sweater-ventures/relay/testutil"
)

func TestProcessJob_InvalidEventID(t *testing.T) {
	mockStore := new(testutil.MockEventStore)
	mockQueue := new(testutil.MockJobQueue)
	relay := testutil.NewTestApp(mockStore, mockQueue)

	relay.ProcessJob(context.Background(), &queue.Job{EventID: "not-an-object-id"})

	// Dropped before any store lookup.
	mockStore.AssertNotCalled(t, "Claim", mock.Anything, mock.Anything)
}

func TestProcessJob_AlreadyClaimedOrMissing(t *testing.T) {
	mockStore := new(testutil.MockEventStore)
	mockQueue := new(testutil.MockJobQueue)
	relay := testutil.NewTestApp(mockStore, mockQueue)

	eventID := testutil.NewEventID()
	mockStore.On("Claim", mock.Anything, eventID).Return(nil, nil)

	relay.ProcessJob(context.Background(), &queue.Job{EventID: eventID})

	mockStore.AssertNotCalled(t, "RecordAttempt", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	mockStore.AssertNotCalled(t, "SetStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessJob_DeliversOn200(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	mockStore := new(testutil.MockEventStore)
	mockQueue := new(testutil.MockJobQueue)
	relay := testutil.NewTestApp(mockStore, mockQueue)
	relay.Config.DownstreamURL = srv.URL

	event := testutil.NewEvent(
		testutil.WithStatus(store.StatusDelivering),
		testutil.WithPayload(map[string]any{"order_id": "ORD-9"}),
	)
	eventID := event.ID.Hex()

	mockStore.On("Claim", mock.Anything, eventID).Return(&event, nil)
	mockStore.On("RecordAttempt", mock.Anything, eventID, mock.MatchedBy(func(a store.AttemptRecord) bool {
		return a.AttemptNumber == 1 && a.Success && a.HTTPStatusCode != nil && *a.HTTPStatusCode == 200
	}), store.StatusDelivered).Return(nil)

	relay.ProcessJob(context.Background(), &queue.Job{EventID: eventID, RequestID: "req-1"})

	mockStore.AssertExpectations(t)
	mockStore.AssertNotCalled(t, "SetStatus", mock.Anything, mock.Anything, mock.Anything)
	assert.JSONEq(t, `{"order_id":"ORD-9"}`, string(gotBody))
}

func TestProcessJob_FailsPermanentlyAfterMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	mockStore := new(testutil.MockEventStore)
	mockQueue := new(testutil.MockJobQueue)
	relay := testutil.NewTestApp(mockStore, mockQueue)
	relay.Config.DownstreamURL = srv.URL

	var delays []time.Duration
	relay.SleepFn = func(d time.Duration) { delays = append(delays, d) }

	event := testutil.NewEvent(testutil.WithStatus(store.StatusDelivering))
	eventID := event.ID.Hex()

	var attempts []store.AttemptRecord
	mockStore.On("Claim", mock.Anything, eventID).Return(&event, nil)
	mockStore.On("RecordAttempt", mock.Anything, eventID, mock.Anything, store.StatusReceived).
		Run(func(args mock.Arguments) {
			attempts = append(attempts, args.Get(2).(store.AttemptRecord))
		}).Return(nil)
	mockStore.On("SetStatus", mock.Anything, eventID, store.StatusFailedPermanently).Return(nil)

	relay.ProcessJob(context.Background(), &queue.Job{EventID: eventID})

	mockStore.AssertExpectations(t)
	require.Len(t, attempts, 5)
	for i, a := range attempts {
		assert.Equal(t, i+1, a.AttemptNumber, "attempt numbers must be gapless and ordered")
		assert.False(t, a.Success)
		require.NotNil(t, a.HTTPStatusCode)
		assert.Equal(t, 500, *a.HTTPStatusCode)
	}

	// Exponential backoff between attempts, none after the last.
	assert.Equal(t, []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
	}, delays)
}

func TestProcessJob_TransportErrorHasNilStatusCode(t *testing.T) {
	mockStore := new(testutil.MockEventStore)
	mockQueue := new(testutil.MockJobQueue)
	relay := testutil.NewTestApp(mockStore, mockQueue)
	// Nothing listens here: every attempt is a transport error.
	relay.Config.DownstreamURL = "http://127.0.0.1:1/downstream/receive"
	relay.Config.MaxAttempts = 1

	event := testutil.NewEvent(testutil.WithStatus(store.StatusDelivering))
	eventID := event.ID.Hex()

	mockStore.On("Claim", mock.Anything, eventID).Return(&event, nil)
	mockStore.On("RecordAttempt", mock.Anything, eventID, mock.MatchedBy(func(a store.AttemptRecord) bool {
		return !a.Success && a.HTTPStatusCode == nil
	}), store.StatusReceived).Return(nil)
	mockStore.On("SetStatus", mock.Anything, eventID, store.StatusFailedPermanently).Return(nil)

	relay.ProcessJob(context.Background(), &queue.Job{EventID: eventID})

	mockStore.AssertExpectations(t)
}

func TestProcessJob_SucceedsAfterRetries(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	mockStore := new(testutil.MockEventStore)
	mockQueue := new(testutil.MockJobQueue)
	relay := testutil.NewTestApp(mockStore, mockQueue)
	relay.Config.DownstreamURL = srv.URL

	event := testutil.NewEvent(testutil.WithStatus(store.StatusDelivering))
	eventID := event.ID.Hex()

	var attempts []store.AttemptRecord
	var statuses []string
	mockStore.On("Claim", mock.Anything, eventID).Return(&event, nil)
	mockStore.On("RecordAttempt", mock.Anything, eventID, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			attempts = append(attempts, args.Get(2).(store.AttemptRecord))
			statuses = append(statuses, args.String(3))
		}).Return(nil)

	relay.ProcessJob(context.Background(), &queue.Job{EventID: eventID})

	require.Len(t, attempts, 3)
	assert.Equal(t, []string{store.StatusReceived, store.StatusReceived, store.StatusDelivered}, statuses)
	assert.True(t, attempts[2].Success)
	assert.Equal(t, 502, *attempts[0].HTTPStatusCode)
	mockStore.AssertNotCalled(t, "SetStatus", mock.Anything, mock.Anything, mock.Anything)
}

// claimOnceStore hands the event to exactly one claimer, mimicking the
// store's conditional update.
type claimOnceStore struct {
	testutil.MockEventStore
	mu      sync.Mutex
	event   *store.Event
	claimed bool
}

func (s *claimOnceStore) Claim(_ context.Context, _ string) (*store.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed {
		return nil, nil
	}
	s.claimed = true
	return s.event, nil
}

func (s *claimOnceStore) RecordAttempt(context.Context, string, store.AttemptRecord, string) error {
	return nil
}

func TestProcessJob_ConcurrentClaimRace(t *testing.T) {
	var mu sync.Mutex
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	event := testutil.NewEvent(testutil.WithStatus(store.StatusDelivering))
	eventID := event.ID.Hex()

	fakeStore := &claimOnceStore{event: &event}
	mockQueue := new(testutil.MockJobQueue)
	relay := testutil.NewTestApp(fakeStore, mockQueue)
	relay.Config.DownstreamURL = srv.URL

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			relay.ProcessJob(context.Background(), &queue.Job{EventID: eventID})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, hits, "only the claim winner may deliver")
}

func TestStartWorkers_DrainsQueueAndStops(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	event := testutil.NewEvent(testutil.WithStatus(store.StatusDelivering))
	eventID := event.ID.Hex()

	delivered := make(chan struct{}, 1)
	mockStore := new(testutil.MockEventStore)
	mockStore.On("Claim", mock.Anything, eventID).Return(&event, nil)
	mockStore.On("RecordAttempt", mock.Anything, eventID, mock.Anything, store.StatusDelivered).
		Run(func(mock.Arguments) { delivered <- struct{}{} }).Return(nil)

	mockQueue := new(testutil.MockJobQueue)
	mockQueue.On("Dequeue", mock.Anything, mock.Anything).Return(&queue.Job{EventID: eventID}, nil).Once()
	mockQueue.On("Dequeue", mock.Anything, mock.Anything).Return(nil, nil)

	relay := testutil.NewTestApp(mockStore, mockQueue)
	relay.Config.DownstreamURL = srv.URL
	relay.Config.DeliveryWorkers = 2

	stop := relay.StartWorkers(context.Background())

	select {
	case <-delivered:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never dequeued the job")
	}
	stop()

	mockStore.AssertExpectations(t)
}

func TestBackoffScheduleMatchesSpecTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	mockStore := new(testutil.MockEventStore)
	mockQueue := new(testutil.MockJobQueue)
	relay := testutil.NewTestApp(mockStore, mockQueue)
	relay.Config.DownstreamURL = srv.URL
	relay.Config.MaxAttempts = 6

	var delays []time.Duration
	relay.SleepFn = func(d time.Duration) { delays = append(delays, d) }

	event := testutil.NewEvent(testutil.WithStatus(store.StatusDelivering))
	eventID := event.ID.Hex()

	mockStore.On("Claim", mock.Anything, eventID).Return(&event, nil)
	mockStore.On("RecordAttempt", mock.Anything, eventID, mock.Anything, store.StatusReceived).Return(nil)
	mockStore.On("SetStatus", mock.Anything, eventID, store.StatusFailedPermanently).Return(nil)

	relay.ProcessJob(context.Background(), &queue.Job{EventID: eventID})

	// The table caps at 16s for attempts past its end.
	assert.Equal(t, []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}, delays)
}
