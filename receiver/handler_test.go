package receiver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type allowAllLimiter struct{}

func (allowAllLimiter) Allow(context.Context, string) bool { return true }

type denyAllLimiter struct{}

func (denyAllLimiter) Allow(context.Context, string) bool { return false }

func callReceive(t *testing.T, h *Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.receive(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestReceive_DeterministicWithZeroFailureRate(t *testing.T) {
	h := &Handler{Limiter: allowAllLimiter{}, FailureRate: 0}

	for i := 0; i < 10; i++ {
		req := httptest.NewRequest(http.MethodPost, "/downstream/receive", nil)
		rec := callReceive(t, h, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "received", body["status"])
	}
}

func TestReceive_RateLimited(t *testing.T) {
	h := &Handler{Limiter: denyAllLimiter{}, FailureRate: 0}

	req := httptest.NewRequest(http.MethodPost, "/downstream/receive", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	rec := callReceive(t, h, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Rate limit exceeded for IP 203.0.113.7", body["error"])
}

func TestReceive_Injected500(t *testing.T) {
	h := &Handler{
		Limiter:     allowAllLimiter{},
		FailureRate: 1,
		RandFn:      func() float64 { return 0.1 },
	}

	rec := callReceive(t, h, httptest.NewRequest(http.MethodPost, "/downstream/receive", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Simulated internal error", body["error"])
}

func TestReceive_Injected429(t *testing.T) {
	h := &Handler{
		Limiter:     allowAllLimiter{},
		FailureRate: 1,
		RandFn:      func() float64 { return 0.6 },
	}

	rec := callReceive(t, h, httptest.NewRequest(http.MethodPost, "/downstream/receive", nil))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Simulated external rate limit", body["error"])
}

func TestReceive_InjectedTimeout(t *testing.T) {
	var slept time.Duration
	h := &Handler{
		Limiter:     allowAllLimiter{},
		FailureRate: 1,
		// 2 + 3*0.8 = 4.4s delay
		RandFn:  func() float64 { return 0.8 },
		SleepFn: func(d time.Duration) { slept = d },
	}

	rec := callReceive(t, h, httptest.NewRequest(http.MethodPost, "/downstream/receive", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "received_with_delay", body["status"])
	assert.InDelta(t, 4.4, body["delay_sec"].(float64), 0.001)
	assert.InDelta(t, 4.4, slept.Seconds(), 0.001)
}

func TestDrawOutcome_Weights(t *testing.T) {
	h := &Handler{FailureRate: 0.20}

	cases := []struct {
		r    float64
		want outcome
	}{
		{0.0, outcome500},
		{0.099, outcome500},
		{0.10, outcome429},
		{0.149, outcome429},
		{0.15, outcomeTimeout},
		{0.199, outcomeTimeout},
		{0.20, outcomeSuccess},
		{0.99, outcomeSuccess},
	}
	for _, tc := range cases {
		h.RandFn = func() float64 { return tc.r }
		assert.Equal(t, tc.want, h.drawOutcome(), "draw %v", tc.r)
	}
}

func TestResolveClientIP(t *testing.T) {
	newReq := func(remoteAddr, xff string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/downstream/receive", nil)
		req.RemoteAddr = remoteAddr
		if xff != "" {
			req.Header.Set("X-Forwarded-For", xff)
		}
		return req
	}

	assert.Equal(t, "203.0.113.7", resolveClientIP(newReq("10.0.0.1:1234", "203.0.113.7, 10.0.0.2")))
	assert.Equal(t, "203.0.113.7", resolveClientIP(newReq("10.0.0.1:1234", " 203.0.113.7 ")))
	assert.Equal(t, "10.0.0.1", resolveClientIP(newReq("10.0.0.1:1234", "")))
	assert.Equal(t, "10.0.0.1", resolveClientIP(newReq("10.0.0.1", "")))
	assert.Equal(t, "unknown", resolveClientIP(newReq("", "")))
}

func TestHealth(t *testing.T) {
	h := &Handler{Limiter: allowAllLimiter{}}
	router := http.NewServeMux()
	h.Routes(router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
}
