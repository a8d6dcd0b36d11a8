package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sweater-ventures/relay/app"
	"github.com/sweater-ventures/relay/store"
)

func init() {
	registerRoute(func(relay *app.Application, router *http.ServeMux) {
		router.Handle("POST /webhooks/search", routeHandler(relay, searchHandler))
	})
}

type SearchRequest struct {
	Status        *string    `json:"status"`
	EventType     *string    `json:"event_type"`
	FromTimestamp *time.Time `json:"from_timestamp"`
	ToTimestamp   *time.Time `json:"to_timestamp"`
	Skip          int64      `json:"skip"`
	Limit         int64      `json:"limit"`
}

// validateSearchRequest returns a human-readable validation error, or "".
func validateSearchRequest(req *SearchRequest) string {
	if req.Status != nil && !store.ValidStatus(*req.Status) {
		return "status must be one of RECEIVED, DELIVERING, DELIVERED, FAILED_PERMANENTLY"
	}
	if req.FromTimestamp != nil && req.ToTimestamp != nil && !req.ToTimestamp.After(*req.FromTimestamp) {
		return "to_timestamp must be greater than from_timestamp"
	}
	if req.Skip < 0 {
		return "skip must not be negative"
	}
	if req.Limit < 0 {
		return "limit must not be negative"
	}
	return ""
}

func searchHandler(relay *app.Application, w http.ResponseWriter, r *http.Request) {
	req := SearchRequest{Limit: 10}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJsonResponse(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	if msg := validateSearchRequest(&req); msg != "" {
		writeJsonResponse(w, http.StatusUnprocessableEntity, map[string]string{"error": msg})
		return
	}

	query := store.SearchQuery{
		Status:    req.Status,
		EventType: req.EventType,
		From:      req.FromTimestamp,
		To:        req.ToTimestamp,
		Skip:      req.Skip,
		Limit:     req.Limit,
	}
	log(r.Context()).Info("Search started",
		"status", req.Status,
		"event_type", req.EventType,
		"skip", req.Skip,
		"limit", req.Limit,
	)

	result, err := relay.Store.Search(r.Context(), query)
	if err != nil {
		log(r.Context()).Error("Search failed", "error", err)
		writeJsonResponse(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}

	log(r.Context()).Info("Search completed", "returned", len(result.Data))
	writeJsonResponse(w, http.StatusOK, result)
}
