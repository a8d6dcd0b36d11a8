package api

import (
	"net/http"

	"github.com/sweater-ventures/relay/app"
	"github.com/sweater-ventures/relay/metrics"
)

func init() {
	registerRoute(func(relay *app.Application, router *http.ServeMux) {
		router.Handle("GET /health", routeHandler(relay, healthHandler))
		router.Handle("GET /metrics", metrics.Handler())
	})
}

func healthHandler(_ *app.Application, w http.ResponseWriter, _ *http.Request) {
	writeJsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}
