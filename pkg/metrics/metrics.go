package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry metrics
	LabsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "labrange_labs_running",
			Help: "Number of lab instances currently believed running",
		},
	)

	LabsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labrange_labs_started_total",
			Help: "Total lab instances started, by lab type",
		},
		[]string{"lab_type"},
	)

	LabsCleaned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labrange_labs_cleaned_total",
			Help: "Total lab instances removed, by reason (expired, drift, forced, deleted)",
		},
		[]string{"reason"},
	)

	// Admission metrics
	AdmissionRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labrange_admission_rejections_total",
			Help: "Requests rejected before reaching the lifecycle controller, by stage",
		},
		[]string{"stage"},
	)

	QuotaDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labrange_quota_denials_total",
			Help: "Create requests denied by quota, by scope (owner, global)",
		},
		[]string{"scope"},
	)

	// Driver metrics
	DriverCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "labrange_driver_call_duration_seconds",
			Help:    "Runtime driver call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	DriverFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labrange_driver_failures_total",
			Help: "Runtime driver call failures, by operation",
		},
		[]string{"op"},
	)

	// Sweep metrics
	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "labrange_sweep_duration_seconds",
			Help:    "Auto-cleanup sweep duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SweepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "labrange_sweeps_total",
			Help: "Total auto-cleanup sweeps executed",
		},
	)
)

func init() {
	prometheus.MustRegister(LabsRunning)
	prometheus.MustRegister(LabsStarted)
	prometheus.MustRegister(LabsCleaned)
	prometheus.MustRegister(AdmissionRejections)
	prometheus.MustRegister(QuotaDenials)
	prometheus.MustRegister(DriverCallDuration)
	prometheus.MustRegister(DriverFailures)
	prometheus.MustRegister(SweepDuration)
	prometheus.MustRegister(SweepsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures a duration and records it into a histogram
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time into the given histogram
func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(time.Since(t.start).Seconds())
}

// ObserveDriverCall records the elapsed time of one driver call
func (t *Timer) ObserveDriverCall(op string) {
	DriverCallDuration.WithLabelValues(op).Observe(time.Since(t.start).Seconds())
}
