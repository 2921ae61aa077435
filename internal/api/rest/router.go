// Package rest implements the admin/operator HTTP surface: connection
// management, direct CoT injection, plugin control, and health/metrics
// endpoints, routed with the teacher's own go-chi/chi router
// (internal/handler/lp/delivery.go).
package rest

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/takrelay/aggregator/internal/api/auth"
	"github.com/takrelay/aggregator/internal/api/ws"
	"github.com/takrelay/aggregator/internal/connpool"
	"github.com/takrelay/aggregator/internal/filter"
	"github.com/takrelay/aggregator/internal/health"
	"github.com/takrelay/aggregator/internal/metrics"
	"github.com/takrelay/aggregator/internal/plugin"
)

// NewRouter builds the chi mux for the whole HTTP surface: REST admin
// routes plus the WebSocket stream endpoint, served from one process.
func NewRouter(
	pool connpool.Pool,
	runtime *plugin.Runtime,
	snapshot *filter.Snapshot,
	monitor *health.Monitor,
	reg *metrics.Registry,
	authn *auth.Authenticator,
	stream *ws.StreamHandler,
	logger *slog.Logger,
) http.Handler {
	h := &handlers{
		pool:     pool,
		runtime:  runtime,
		snapshot: snapshot,
		monitor:  monitor,
		logger:   logger.With("component", "api.rest"),
	}

	r := chi.NewRouter()

	r.Get("/health", h.healthz)
	r.Get("/ready", h.readyz)
	r.Handle("/api/v1/metrics", promhttp.HandlerFor(reg.Gatherer, promhttp.HandlerOpts{}))
	r.Handle("/api/v1/stream", stream)

	r.Group(func(r chi.Router) {
		r.Use(RequireRole(authn, auth.RoleRead))
		r.Get("/api/v1/status", h.status)
		r.Get("/api/v1/connections", h.listConnections)
		r.Get("/api/v1/connections/{id}", h.getConnection)
		r.Get("/api/v1/plugins", h.listPlugins)
		r.Get("/api/v1/plugins/{id}/health", h.pluginHealth)
		r.Get("/api/v1/plugins/{id}/metrics", h.pluginMetrics)
	})

	r.Group(func(r chi.Router) {
		r.Use(RequireRole(authn, auth.RoleOperator))
		r.Post("/api/v1/cot/send", h.sendCoT)
		r.Post("/api/v1/plugins/{id}/toggle", h.togglePlugin)
		r.Post("/api/v1/plugins/{id}/config", h.configurePlugin)
		r.Post("/api/v1/plugins/{id}/reload", h.reloadPlugin)
	})

	r.Group(func(r chi.Router) {
		r.Use(RequireRole(authn, auth.RoleAdmin))
		r.Post("/api/v1/connections", h.addConnection)
		r.Delete("/api/v1/connections/{id}", h.removeConnection)
		r.Post("/api/v1/plugins/reload-all", h.reloadAllPlugins)
	})

	return r
}
