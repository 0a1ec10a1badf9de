package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	WebhookEvents     *prometheus.CounterVec // provider, outcome
	LedgerOperations  *prometheus.CounterVec // operation, result
	ListingsActivated *prometheus.CounterVec // tier, method
	ListingsExpired   prometheus.Counter
	RenewalCandidates prometheus.Gauge
	SweepDuration     prometheus.Histogram
	HTTPRequests      *prometheus.HistogramVec // route, method, status
}

// New registers every collector under namespace.
func New(namespace string) *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Webhook deliveries by provider and outcome.",
		}, []string{"provider", "outcome"}),
		LedgerOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_operations_total",
			Help:      "Credit ledger mutations by operation and result.",
		}, []string{"operation", "result"}),
		ListingsActivated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listings_activated_total",
			Help:      "Listings moved from draft to active.",
		}, []string{"tier", "method"}),
		ListingsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listings_expired_total",
			Help:      "Listings moved from active to expired by the sweep.",
		}),
		RenewalCandidates: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "renewal_candidates",
			Help:      "Auto-renew listings expiring within the horizon at the last sweep.",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of lifecycle sweeps.",
			Buckets:   prometheus.DefBuckets,
		}),
		HTTPRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route, method and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}

	m.Registry.MustRegister(
		m.WebhookEvents,
		m.LedgerOperations,
		m.ListingsActivated,
		m.ListingsExpired,
		m.RenewalCandidates,
		m.SweepDuration,
		m.HTTPRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) ObserveHTTP(route, method, status string, d time.Duration) {
	m.HTTPRequests.WithLabelValues(route, method, status).Observe(d.Seconds())
}
