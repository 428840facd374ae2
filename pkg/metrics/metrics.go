package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the API's collectors. A nil *Metrics records nothing.
type Metrics struct {
	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
	Transitions       *prometheus.CounterVec
	OutboxPublished   *prometheus.CounterVec
	Notifications     *prometheus.CounterVec
	RateLimitRejected prometheus.Counter
}

// New registers all collectors on reg. main passes prometheus.DefaultRegisterer,
// tests a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tolet_http_requests_total",
			Help: "HTTP requests by method, route pattern and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tolet_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route pattern",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tolet_lifecycle_transitions_total",
			Help: "Listing and booking state transitions",
		}, []string{"entity", "transition"}),
		OutboxPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tolet_outbox_published_total",
			Help: "Outbox records handed to the event bus, by subject and result",
		}, []string{"subject", "result"}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tolet_notifications_total",
			Help: "Emails attempted by the notifier, by kind and result",
		}, []string{"kind", "result"}),
		RateLimitRejected: f.NewCounter(prometheus.CounterOpts{
			Name: "tolet_ratelimit_rejected_total",
			Help: "Requests refused by the rate limiter",
		}),
	}
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) Transition(entity, transition string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(entity, transition).Inc()
}

func (m *Metrics) Published(subject string, err error) {
	if m == nil {
		return
	}
	m.OutboxPublished.WithLabelValues(subject, result(err)).Inc()
}

func (m *Metrics) Notified(kind string, err error) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(kind, result(err)).Inc()
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.RateLimitRejected.Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
