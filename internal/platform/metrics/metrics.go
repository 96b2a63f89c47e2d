// Package metrics holds process-wide HTTP metrics; per-module metrics live
// next to their module.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP holds Prometheus metrics for the HTTP surface.
type HTTP struct {
	RequestDuration *prometheus.HistogramVec
	InFlight        prometheus.Gauge
}

// NewHTTP creates and registers the HTTP metrics.
func NewHTTP() *HTTP {
	return &HTTP{
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "govqueue_http_request_duration_seconds",
			Help:    "HTTP request duration by method and status",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "status"}),

		InFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "govqueue_http_requests_in_flight",
			Help: "HTTP requests currently being served",
		}),
	}
}

// Middleware instruments every request with duration and in-flight tracking.
func (m *HTTP) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.InFlight.Inc()
		defer m.InFlight.Dec()

		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		m.RequestDuration.
			WithLabelValues(r.Method, strconv.Itoa(ww.Status())).
			Observe(time.Since(start).Seconds())
	})
}
