package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the ticket module.
type Metrics struct {
	// Lifecycle transitions by office and resulting status
	Transitions *prometheus.CounterVec

	// Tickets issued by office and service
	Issued *prometheus.CounterVec

	// Time from creation to being called, by office
	WaitDuration *prometheus.HistogramVec

	// Time from being called to resolution, by office
	ServiceDuration *prometheus.HistogramVec

	// Waiting tickets per office
	QueueDepth *prometheus.GaugeVec
}

// New creates a Metrics instance with all ticket module metrics registered.
func New() *Metrics {
	return &Metrics{
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "govqueue_ticket_transitions_total",
			Help: "Total ticket transitions by office and resulting status",
		}, []string{"office", "status"}),

		Issued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "govqueue_tickets_issued_total",
			Help: "Total tickets issued by office and service",
		}, []string{"office", "service"}),

		WaitDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "govqueue_ticket_wait_seconds",
			Help:    "Time from ticket creation to being called",
			Buckets: []float64{30, 60, 300, 600, 1200, 1800, 3600, 7200, 14400},
		}, []string{"office"}),

		ServiceDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "govqueue_ticket_service_seconds",
			Help:    "Time from ticket being called to resolution",
			Buckets: []float64{30, 60, 120, 300, 600, 1200, 1800, 3600},
		}, []string{"office"}),

		QueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "govqueue_queue_depth",
			Help: "Waiting tickets per office",
		}, []string{"office"}),
	}
}

// IncIssued records a newly issued ticket.
func (m *Metrics) IncIssued(office, service string) {
	if m != nil {
		m.Issued.WithLabelValues(office, service).Inc()
	}
}

// IncTransition records a ticket reaching a status.
func (m *Metrics) IncTransition(office, status string) {
	if m != nil {
		m.Transitions.WithLabelValues(office, status).Inc()
	}
}

// ObserveWait records how long a ticket waited before being called.
func (m *Metrics) ObserveWait(office string, d time.Duration) {
	if m != nil {
		m.WaitDuration.WithLabelValues(office).Observe(d.Seconds())
	}
}

// ObserveService records how long a ticket was being served.
func (m *Metrics) ObserveService(office string, d time.Duration) {
	if m != nil {
		m.ServiceDuration.WithLabelValues(office).Observe(d.Seconds())
	}
}

// SetQueueDepth records the current number of waiting tickets in an office.
func (m *Metrics) SetQueueDepth(office string, depth int) {
	if m != nil {
		m.QueueDepth.WithLabelValues(office).Set(float64(depth))
	}
}
