// Package receiver implements the downstream mock service: a rate-limited,
// deliberately flaky endpoint used as a realistic target for the relay's
// delivery workers.
package receiver

import (
	"context"
	"encoding/json"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"strings"
	"time"
)

// RateLimiter admits or denies a request for a client IP.
type RateLimiter interface {
	Allow(ctx context.Context, ip string) bool
}

// Handler serves the downstream mock endpoints. FailureRate is the
// probability of an injected failure outcome; zero makes the receiver
// deterministic. RandFn and SleepFn are injectable for tests.
type Handler struct {
	Limiter     RateLimiter
	FailureRate float64
	RandFn      func() float64
	SleepFn     func(time.Duration)
}

// Routes registers the downstream endpoints on the router.
func (h *Handler) Routes(router *http.ServeMux) {
	router.HandleFunc("GET /health", h.health)
	router.HandleFunc("POST /downstream/receive", h.receive)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// outcome is the categorical result of failure injection.
type outcome string

const (
	outcome500     outcome = "500"
	outcome429     outcome = "429"
	outcomeTimeout outcome = "timeout"
	outcomeSuccess outcome = "success"
)

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	clientIP := resolveClientIP(r)
	logger := log(r.Context()).With("ip", clientIP)

	if !h.Limiter.Allow(r.Context(), clientIP) {
		logger.Warn("Rate limited")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error": "Rate limit exceeded for IP " + clientIP,
		})
		return
	}

	switch h.drawOutcome() {
	case outcome500:
		logger.Info("Injecting 500")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Simulated internal error"})

	case outcome429:
		logger.Info("Injecting 429")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Simulated external rate limit"})

	case outcomeTimeout:
		delay := time.Duration((2.0 + 3.0*h.randFloat()) * float64(time.Second))
		delaySec := math.Round(delay.Seconds()*100) / 100
		logger.Info("Simulating timeout", "delay", delaySec)
		h.sleep(delay)
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "received_with_delay",
			"ip":        clientIP,
			"delay_sec": delaySec,
			"timestamp": time.Now().Unix(),
		})

	default:
		logger.Info("Received successfully")
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "received",
			"ip":        clientIP,
			"timestamp": time.Now().Unix(),
		})
	}
}

// drawOutcome picks one of {500, 429, timeout, success} with weights
// {F*0.5, F*0.25, F*0.25, 1-F}.
func (h *Handler) drawOutcome() outcome {
	r := h.randFloat()
	f := h.FailureRate
	switch {
	case r < f*0.5:
		return outcome500
	case r < f*0.75:
		return outcome429
	case r < f:
		return outcomeTimeout
	default:
		return outcomeSuccess
	}
}

func (h *Handler) randFloat() float64 {
	if h.RandFn != nil {
		return h.RandFn()
	}
	return rand.Float64()
}

func (h *Handler) sleep(d time.Duration) {
	if h.SleepFn != nil {
		h.SleepFn(d)
		return
	}
	time.Sleep(d)
}

// resolveClientIP prefers the leftmost X-Forwarded-For entry, then the
// transport peer address, then "unknown".
func resolveClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}
