// Package httpapi assembles the HTTP surface: middleware chain, public
// health and metrics endpoints, and the authenticated queue API.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	platformmetrics "govqueue/internal/platform/metrics"
	"govqueue/internal/platform/middleware"
	"govqueue/internal/ticket/handler"
	"govqueue/pkg/platform/httputil"
)

// HealthChecker reports the liveness of one backing dependency.
type HealthChecker interface {
	Health(ctx context.Context) error
}

type namedChecker struct {
	name    string
	checker HealthChecker
}

// Router builds the HTTP handler tree.
type Router struct {
	tickets   *handler.Handler
	validator middleware.TokenValidator
	logger    *slog.Logger
	checkers  []namedChecker
	httpStats *platformmetrics.HTTP
}

// NewRouter constructs the router assembly.
func NewRouter(tickets *handler.Handler, validator middleware.TokenValidator, logger *slog.Logger) *Router {
	return &Router{
		tickets:   tickets,
		validator: validator,
		logger:    logger,
	}
}

// WithHealthCheck registers a dependency probed by /healthz. Nil checkers
// are ignored so optional dependencies can be passed through unconditionally.
func (rt *Router) WithHealthCheck(name string, checker HealthChecker) *Router {
	if checker != nil {
		rt.checkers = append(rt.checkers, namedChecker{name: name, checker: checker})
	}
	return rt
}

// WithHTTPMetrics instruments all routes with request metrics.
func (rt *Router) WithHTTPMetrics(m *platformmetrics.HTTP) *Router {
	rt.httpStats = m
	return rt
}

// Handler returns the assembled http.Handler.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	if rt.httpStats != nil {
		r.Use(rt.httpStats.Middleware)
	}

	r.Get("/healthz", rt.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(rt.validator, rt.logger))
		rt.tickets.Register(r)
	})

	return r
}

func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(rt.checkers))
	for _, c := range rt.checkers {
		if err := c.checker.Health(ctx); err != nil {
			rt.logger.WarnContext(ctx, "health check failed", "dependency", c.name, "error", err)
			deps[c.name] = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		deps[c.name] = "ok"
	}

	body := map[string]any{"status": "ok"}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	if len(deps) > 0 {
		body["dependencies"] = deps
	}
	httputil.WriteJSON(w, status, body)
}
