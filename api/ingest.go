package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/sweater-ventures/relay/app"
	"github.com/sweater-ventures/relay/metrics"
	"github.com/sweater-ventures/relay/middleware"
	"github.com/sweater-ventures/relay/queue"
	"github.com/sweater-ventures/relay/store"
)

func init() {
	registerRoute(func(relay *app.Application, router *http.ServeMux) {
		router.Handle("POST /webhooks/ingest", routeHandler(relay, ingestHandler))
	})
}

// IngestResult is the per-event outcome returned to the producer, in input
// order.
type IngestResult struct {
	Status     string `json:"status"`
	EventID    string `json:"event_id"`
	Idempotent bool   `json:"idempotent"`
}

// verifySignature checks a lowercase-hex HMAC-SHA256 signature over the exact
// request bytes, in constant time.
func verifySignature(secret, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// normalizeBatch parses the raw body into a batch of payload objects. A
// single object becomes a one-element batch; an array is taken as-is.
func normalizeBatch(body []byte) ([]map[string]any, error) {
	var batch []map[string]any
	if err := json.Unmarshal(body, &batch); err == nil {
		return batch, nil
	}

	var single map[string]any
	if err := json.Unmarshal(body, &single); err != nil {
		return nil, err
	}
	return []map[string]any{single}, nil
}

func ingestHandler(relay *app.Application, w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log(ctx).Info("Webhook ingest started")

	// Signature verification runs on the raw bytes, before any parsing.
	body, err := io.ReadAll(r.Body)
	if err != nil {
		log(ctx).Error("Failed to read request body", "error", err)
		writeJsonResponse(w, http.StatusBadRequest, map[string]string{"error": "Unable to read request body"})
		return
	}

	signature := r.Header.Get("X-Signature")
	if signature == "" {
		log(ctx).Warn("Missing signature")
		writeJsonResponse(w, http.StatusBadRequest, map[string]string{"error": "Missing signature"})
		return
	}

	if !verifySignature([]byte(relay.Config.SecretKey), body, signature) {
		log(ctx).Warn("Invalid signature")
		writeJsonResponse(w, http.StatusUnauthorized, map[string]string{"error": "Invalid signature"})
		return
	}

	batch, err := normalizeBatch(body)
	if err != nil {
		log(ctx).Warn("Invalid JSON payload")
		writeJsonResponse(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON payload"})
		return
	}

	requestID := middleware.RequestIDFromContext(ctx)
	results := []IngestResult{}

	// Each event is processed independently; an idempotent replay never
	// aborts its siblings.
	for _, payload := range batch {
		event := store.NewEvent(payload)

		eventID, err := relay.Store.Insert(ctx, event)
		switch {
		case err == nil:
			metrics.EventReceived()
			log(ctx).Info("Event stored", "event_id", eventID, "event_type", event.EventType)

			// Best-effort enqueue: a queue failure leaves the event in
			// RECEIVED for a later trigger, it never fails the request.
			job := queue.Job{EventID: eventID, RequestID: requestID}
			if err := relay.Queue.Enqueue(ctx, job); err != nil {
				log(ctx).Error("Failed to enqueue delivery job", "event_id", eventID, "error", err)
			}

			results = append(results, IngestResult{Status: "received", EventID: eventID, Idempotent: false})

		case errors.Is(err, store.ErrDuplicateKey):
			if event.IdempotencyKey == nil {
				log(ctx).Error("Duplicate key error on event without idempotency key")
				writeJsonResponse(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
				return
			}

			existingID, lookupErr := relay.Store.FindIDByIdempotencyKey(ctx, *event.IdempotencyKey)
			if errors.Is(lookupErr, store.ErrNotFound) {
				log(ctx).Error("Duplicate key but event not found", "idempotency_key", *event.IdempotencyKey)
				writeJsonResponse(w, http.StatusInternalServerError, map[string]string{"error": "Idempotency conflict"})
				return
			}
			if lookupErr != nil {
				log(ctx).Error("Failed to look up idempotent event", "error", lookupErr)
				writeJsonResponse(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
				return
			}

			log(ctx).Info("Duplicate event", "event_id", existingID, "event_type", event.EventType)
			results = append(results, IngestResult{Status: "received", EventID: existingID, Idempotent: true})

		default:
			log(ctx).Error("Failed to insert event", "error", err)
			writeJsonResponse(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
			return
		}
	}

	writeJsonResponse(w, http.StatusOK, results)
}
