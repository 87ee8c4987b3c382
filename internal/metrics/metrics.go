// Package metrics exposes Prometheus collectors for the scan grid.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	gridJobsTotal           *prometheus.CounterVec
	gridActiveWorkers       prometheus.Gauge
	gridRunningJobs         prometheus.Gauge
	gridRetriesTotal        prometheus.Counter
	gridRateLimitDeferrals  *prometheus.CounterVec
	gridScanDurationSeconds prometheus.Histogram

	once sync.Once
)

// Init registers the collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		gridJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scangrid_jobs_total",
				Help: "Terminal jobs by status and error kind.",
			},
			[]string{"status", "error_kind"},
		)

		gridActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scangrid_active_workers",
				Help: "Workers currently executing a job.",
			},
		)

		gridRunningJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scangrid_running_jobs",
				Help: "Jobs in running status.",
			},
		)

		gridRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scangrid_retries_total",
				Help: "Re-enqueues caused by recoverable scan failures.",
			},
		)

		gridRateLimitDeferrals = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scangrid_rate_limit_deferrals_total",
				Help: "Dispatch deferrals caused by per-domain rate limiting.",
			},
			[]string{"domain"},
		)

		gridScanDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scangrid_scan_duration_seconds",
				Help:    "Histogram of successful scan durations.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60},
			},
		)
	})
}

// JobFinished records a terminal job outcome.
func JobFinished(status, errorKind string) {
	if gridJobsTotal == nil {
		return
	}
	gridJobsTotal.WithLabelValues(status, errorKind).Inc()
}

// WorkerBusy adjusts the active worker gauge by delta.
func WorkerBusy(delta float64) {
	if gridActiveWorkers == nil {
		return
	}
	gridActiveWorkers.Add(delta)
}

// SetRunningJobs records the current running-job count.
func SetRunningJobs(n int) {
	if gridRunningJobs == nil {
		return
	}
	gridRunningJobs.Set(float64(n))
}

// RetryScheduled counts one retry re-enqueue.
func RetryScheduled() {
	if gridRetriesTotal == nil {
		return
	}
	gridRetriesTotal.Inc()
}

// RateLimitDeferred counts one rate-limit deferral for domain.
func RateLimitDeferred(domain string) {
	if gridRateLimitDeferrals == nil {
		return
	}
	gridRateLimitDeferrals.WithLabelValues(domain).Inc()
}

// ObserveScanDuration records the duration of a completed scan.
func ObserveScanDuration(d time.Duration) {
	if gridScanDurationSeconds == nil {
		return
	}
	gridScanDurationSeconds.Observe(d.Seconds())
}
