package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for one registry.
type Metrics struct {
	Registry *prometheus.Registry

	TemperatureUpdates *prometheus.CounterVec
	StageTransitions   *prometheus.CounterVec
	DealsClosed        *prometheus.CounterVec
	SweepDuration      prometheus.Histogram
	SweepLeads         *prometheus.CounterVec
	HTTPRequests       *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		TemperatureUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "leadline_temperature_updates_total",
			Help: "Temperature writes by trigger event",
		}, []string{"trigger"}),
		StageTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "leadline_stage_transitions_total",
			Help: "Stage moves by source and target stage",
		}, []string{"from", "to"}),
		DealsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "leadline_deals_closed_total",
			Help: "Leads finalized as won or lost",
		}, []string{"outcome"}),
		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "leadline_sweep_duration_seconds",
			Help:    "Cooling sweep wall time",
			Buckets: prometheus.DefBuckets,
		}),
		SweepLeads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "leadline_sweep_leads_total",
			Help: "Leads visited by the cooling sweep by result",
		}, []string{"result"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "leadline_http_requests_total",
			Help: "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "leadline_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Nil-safe recorders so callers can run without metrics.

func (m *Metrics) TemperatureUpdated(trigger string) {
	if m == nil {
		return
	}
	m.TemperatureUpdates.WithLabelValues(trigger).Inc()
}

func (m *Metrics) StageMoved(from, to string) {
	if m == nil {
		return
	}
	m.StageTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) DealClosed(outcome string) {
	if m == nil {
		return
	}
	m.DealsClosed.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SweepFinished(seconds float64, cooled, skipped, failed int) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(seconds)
	m.SweepLeads.WithLabelValues("cooled").Add(float64(cooled))
	m.SweepLeads.WithLabelValues("skipped").Add(float64(skipped))
	m.SweepLeads.WithLabelValues("failed").Add(float64(failed))
}
