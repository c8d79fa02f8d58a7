// Package metrics provides Prometheus collectors for the stream processor,
// the detection engine and the HTTP surface
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "amlstream"

// Collector groups every amlstream metric registered on one registry
type Collector struct {
	transactionsProcessed *prometheus.CounterVec
	processingDuration    prometheus.Histogram
	slaBreaches           prometheus.Counter
	patternsDetected      *prometheus.CounterVec
	alertsGenerated       *prometheus.CounterVec
	detectorFailures      *prometheus.CounterVec
	degradations          *prometheus.CounterVec
	escalations           prometheus.Counter
	highRiskAccounts      prometheus.Gauge
	batchSize             prometheus.Histogram

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New registers the collectors on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Collector{
		transactionsProcessed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "processor",
				Name:      "transactions_total",
				Help:      "Transactions processed by status",
			},
			[]string{"status"},
		),
		processingDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "processor",
				Name:      "duration_seconds",
				Help:      "Per-transaction pipeline latency",
				Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		slaBreaches: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "processor",
				Name:      "sla_breaches_total",
				Help:      "Transactions that exceeded the latency SLA",
			},
		),
		patternsDetected: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "detection",
				Name:      "patterns_total",
				Help:      "Patterns detected by type",
			},
			[]string{"pattern"},
		),
		alertsGenerated: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "processor",
				Name:      "alerts_total",
				Help:      "Alerts raised by type and severity",
			},
			[]string{"type", "severity"},
		),
		detectorFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "detector_failures_total",
				Help:      "Detector and batch analysis failures, including recovered panics",
			},
			[]string{"detector"},
		),
		degradations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "processor",
				Name:      "degraded_total",
				Help:      "Best-effort steps that fell back after a store or sink failure",
			},
			[]string{"component"},
		),
		escalations: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "risk",
				Name:      "escalations_total",
				Help:      "Accounts escalated to the high-risk registry",
			},
		),
		highRiskAccounts: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "risk",
				Name:      "high_risk_accounts",
				Help:      "Accounts currently held in the high-risk registry",
			},
		),
		batchSize: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "processor",
				Name:      "batch_size",
				Help:      "Transactions per batch",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
			},
		),
		httpRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests processed",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests",
			},
			[]string{"method", "path"},
		),
	}
}

func (c *Collector) TransactionProcessed(status string, took time.Duration) {
	c.transactionsProcessed.WithLabelValues(status).Inc()
	c.processingDuration.Observe(took.Seconds())
}

func (c *Collector) SLABreached() { c.slaBreaches.Inc() }

func (c *Collector) PatternDetected(pattern string) {
	c.patternsDetected.WithLabelValues(pattern).Inc()
}

func (c *Collector) AlertRaised(alertType, severity string) {
	c.alertsGenerated.WithLabelValues(alertType, severity).Inc()
}

func (c *Collector) DetectorFailed(detector string) {
	c.detectorFailures.WithLabelValues(detector).Inc()
}

// Degraded counts a best-effort step that continued after a failure
func (c *Collector) Degraded(component string) {
	c.degradations.WithLabelValues(component).Inc()
}

func (c *Collector) Escalated(registrySize int) {
	c.escalations.Inc()
	c.highRiskAccounts.Set(float64(registrySize))
}

func (c *Collector) BatchProcessed(size int) {
	c.batchSize.Observe(float64(size))
}

func (c *Collector) HTTPRequest(method, path, status string, took time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(took.Seconds())
}
