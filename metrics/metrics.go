// Package metrics exposes the relay's Prometheus counters.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mu  sync.RWMutex
	reg *prometheus.Registry

	eventsReceived       prometheus.Counter
	deliveriesSuccessful prometheus.Counter
	deliveriesFailed     prometheus.Counter
	retryAttempts        prometheus.Counter
)

func init() {
	resetLocked()
}

// Reset clears and reinitializes all counters. Primarily used by tests.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	resetLocked()
}

func resetLocked() {
	reg = prometheus.NewRegistry()

	eventsReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "webhooks_received_total",
		Help: "Total webhooks received",
	})
	deliveriesSuccessful = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "webhooks_deliveries_successful_total",
		Help: "Successful deliveries",
	})
	deliveriesFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "webhooks_deliveries_failed_total",
		Help: "Failed deliveries",
	})
	retryAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "webhooks_retry_attempts_total",
		Help: "Total retry attempts",
	})

	reg.MustRegister(eventsReceived, deliveriesSuccessful, deliveriesFailed, retryAttempts)
}

// Handler returns an HTTP handler serving the Prometheus exposition format.
func Handler() http.Handler {
	mu.RLock()
	registry := reg
	mu.RUnlock()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// EventReceived records a newly stored ingest event.
func EventReceived() {
	mu.RLock()
	defer mu.RUnlock()
	eventsReceived.Inc()
}

// DeliverySucceeded records a delivery attempt that got a 200 back.
func DeliverySucceeded() {
	mu.RLock()
	defer mu.RUnlock()
	deliveriesSuccessful.Inc()
}

// DeliveryFailed records a delivery attempt that did not succeed.
func DeliveryFailed() {
	mu.RLock()
	defer mu.RUnlock()
	deliveriesFailed.Inc()
}

// RetryScheduled records a scheduled delivery retry.
func RetryScheduled() {
	mu.RLock()
	defer mu.RUnlock()
	retryAttempts.Inc()
}

// Registry returns the active registry. Used by tests to read counter values.
func Registry() *prometheus.Registry {
	mu.RLock()
	defer mu.RUnlock()
	return reg
}
