package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sweater-ventures/relay/metrics"
	"github.com/sweater-ventures/relay/queue"
	"github.com/sweater-ventures/relay/store"
)

// deliveryBackoff holds the inter-attempt delays. Worst case per event is
// 5 attempts x 10s HTTP plus 1+2+4+8s of waiting.
var deliveryBackoff = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
}

// attemptOutcome classifies one outbound POST: a 200 response, a non-200
// response with its status, or a transport error with no status at all.
type attemptOutcome struct {
	StatusCode *int
	Success    bool
}

// StartWorkers launches the delivery worker pool and returns a stop function
// that cancels the workers and waits for in-flight jobs to finish.
func (a *Application) StartWorkers(ctx context.Context) func() {
	workerCtx, cancel := context.WithCancel(ctx)

	numWorkers := a.Config.DeliveryWorkers
	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func() {
			defer wg.Done()
			a.workerLoop(workerCtx)
		}()
	}
	slog.Info("Delivery workers started", "workers", numWorkers)

	return func() {
		cancel()
		wg.Wait()
		slog.Info("Delivery workers stopped")
	}
}

func (a *Application) workerLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := a.Queue.Dequeue(ctx, 2*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("Failed to dequeue delivery job", "error", err)
			if !a.waitBackoff(ctx, time.Second) {
				return
			}
			continue
		}
		if job == nil {
			continue
		}

		a.ProcessJob(ctx, job)
	}
}

// ProcessJob drives one delivery job through claim, retry loop, and terminal
// classification. Duplicate queue deliveries are harmless: the claim only
// matches RECEIVED events.
func (a *Application) ProcessJob(ctx context.Context, job *queue.Job) {
	logger := slog.Default().With("event_id", job.EventID)
	if job.RequestID != "" {
		logger = logger.With("request_id", job.RequestID)
	}
	logger.Info("Delivery started")

	if !store.ValidID(job.EventID) {
		logger.Error("Invalid event id, dropping job")
		metrics.DeliveryFailed()
		return
	}

	event, err := a.Store.Claim(ctx, job.EventID)
	if err != nil {
		logger.Error("Failed to claim event", "error", err)
		metrics.DeliveryFailed()
		return
	}
	if event == nil {
		logger.Info("Event already claimed or missing")
		return
	}

	maxAttempts := a.Config.MaxAttempts

	for attemptNumber := 1; attemptNumber <= maxAttempts; attemptNumber++ {
		logger.Info("Delivery attempt started", "attempt", attemptNumber)

		outcome := a.postDownstream(ctx, event.Payload, logger)

		// Failed attempts drop the event back to RECEIVED rather than
		// holding DELIVERING, so a crash mid-loop leaves it claimable.
		status := store.StatusReceived
		if outcome.Success {
			status = store.StatusDelivered
		}

		attempt := store.AttemptRecord{
			AttemptNumber:  attemptNumber,
			HTTPStatusCode: outcome.StatusCode,
			Success:        outcome.Success,
			Timestamp:      time.Now().UTC(),
		}
		if err := a.Store.RecordAttempt(ctx, job.EventID, attempt, status); err != nil {
			logger.Error("Failed to record delivery attempt", "attempt", attemptNumber, "error", err)
		}

		if outcome.Success {
			metrics.DeliverySucceeded()
			logger.Info("Delivery succeeded", "attempt", attemptNumber)
			return
		}

		metrics.DeliveryFailed()
		logger.Warn("Delivery attempt failed",
			"attempt", attemptNumber,
			"http_status", statusOrNil(outcome.StatusCode),
		)

		if attemptNumber < maxAttempts {
			metrics.RetryScheduled()
			delay := backoffDelay(attemptNumber)
			logger.Info("Retry scheduled", "attempt", attemptNumber, "backoff_seconds", delay.Seconds())
			if !a.waitBackoff(ctx, delay) {
				// Shutdown mid-loop: the event is already back in
				// RECEIVED and can be re-claimed later.
				return
			}
		}
	}

	if err := a.Store.SetStatus(ctx, job.EventID, store.StatusFailedPermanently); err != nil {
		logger.Error("Failed to mark event failed permanently", "error", err)
	}
	logger.Error("Delivery failed permanently", "max_attempts", maxAttempts)
}

// postDownstream performs a single outbound POST of the event payload.
func (a *Application) postDownstream(ctx context.Context, payload map[string]any, logger *slog.Logger) attemptOutcome {
	body, err := json.Marshal(payload)
	if err != nil {
		logger.Error("Failed to marshal event payload", "error", err)
		return attemptOutcome{}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.Config.DownstreamURL, bytes.NewReader(body))
	if err != nil {
		logger.Error("Failed to create delivery request", "error", err)
		return attemptOutcome{}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.Downstream.Do(req)
	if err != nil {
		logger.Warn("Delivery request failed", "error", err)
		return attemptOutcome{}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024*1024))

	code := resp.StatusCode
	return attemptOutcome{StatusCode: &code, Success: code == http.StatusOK}
}

// backoffDelay returns the wait before the attempt after attemptNumber,
// clamped to the last table entry.
func backoffDelay(attemptNumber int) time.Duration {
	idx := attemptNumber - 1
	if idx >= len(deliveryBackoff) {
		idx = len(deliveryBackoff) - 1
	}
	return deliveryBackoff[idx]
}

// waitBackoff sleeps for d, returning false when the context was canceled
// first.
func (a *Application) waitBackoff(ctx context.Context, d time.Duration) bool {
	if a.SleepFn != nil {
		a.SleepFn(d)
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func statusOrNil(code *int) any {
	if code == nil {
		return nil
	}
	return *code
}
