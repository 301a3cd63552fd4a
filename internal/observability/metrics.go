package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// alert monitor and the damage estimator.
type Metrics struct {
	// Alert proximity monitor.
	MonitorRunning       prometheus.Gauge
	MonitorCycles        prometheus.Counter
	MonitorCycleErrors   prometheus.Counter
	MonitorCycleDuration prometheus.Histogram
	AlertMatches         prometheus.Histogram
	NotificationsSent    prometheus.Counter
	NotificationsFailed  prometheus.Counter
	ContactsUnresolved   prometheus.Counter

	// Change-detection estimator.
	Analyses         *prometheus.CounterVec // labels: outcome={completed,no_data,failed}
	AnalysisDuration prometheus.Histogram
	OverlayFailures  prometheus.Counter

	// External collaborators.
	ImageryRequests *prometheus.CounterVec // labels: op={composite,reduce,thumbnail}, outcome={success,error}
	FirmsFallbacks  prometheus.Counter
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.MonitorRunning,
		m.MonitorCycles,
		m.MonitorCycleErrors,
		m.MonitorCycleDuration,
		m.AlertMatches,
		m.NotificationsSent,
		m.NotificationsFailed,
		m.ContactsUnresolved,
		m.Analyses,
		m.AnalysisDuration,
		m.OverlayFailures,
		m.ImageryRequests,
		m.FirmsFallbacks,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, so tests
// can construct fresh instances without "already registered" panics.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		MonitorRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "spotyfire",
			Name:      "monitor_running",
			Help:      "1 while the alert proximity monitor loop is active.",
		}),
		MonitorCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spotyfire",
			Name:      "monitor_cycles_total",
			Help:      "Completed alert scan cycles.",
		}),
		MonitorCycleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spotyfire",
			Name:      "monitor_cycle_errors_total",
			Help:      "Scan cycles aborted by an error.",
		}),
		MonitorCycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "spotyfire",
			Name:      "monitor_cycle_duration_seconds",
			Help:      "Duration of one full scan-and-notify cycle.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}),
		AlertMatches: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "spotyfire",
			Name:      "monitor_alert_matches",
			Help:      "Relevant (property, alert) pairs found per cycle.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250},
		}),
		NotificationsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spotyfire",
			Name:      "notifications_sent_total",
			Help:      "Notification bundles dispatched, one per user per cycle.",
		}),
		NotificationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spotyfire",
			Name:      "notifications_failed_total",
			Help:      "Notification dispatch failures.",
		}),
		ContactsUnresolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spotyfire",
			Name:      "contacts_unresolved_total",
			Help:      "Affected users skipped because no real address resolved.",
		}),
		Analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spotyfire",
			Name:      "analyses_total",
			Help:      "Damage analyses by outcome.",
		}, []string{"outcome"}),
		AnalysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "spotyfire",
			Name:      "analysis_duration_seconds",
			Help:      "Wall time of one single-window damage analysis.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		OverlayFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spotyfire",
			Name:      "overlay_failures_total",
			Help:      "Overlay renders that failed while the numeric result succeeded.",
		}),
		ImageryRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spotyfire",
			Name:      "imagery_requests_total",
			Help:      "Remote imagery service requests by operation and outcome.",
		}, []string{"op", "outcome"}),
		FirmsFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spotyfire",
			Name:      "firms_fallbacks_total",
			Help:      "Hotspot queries answered with placeholder data.",
		}),
	}
}
