package scheduler

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for maintenance jobs.
type Metrics struct {
	JobRuns     *prometheus.CounterVec
	JobDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers scheduler metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Maintenance job runs by job and result.",
		}, []string{"job", "result"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "warden",
			Subsystem: "scheduler",
			Name:      "job_duration_seconds",
			Help:      "Duration of each maintenance job run.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"job"}),
	}

	reg.MustRegister(m.JobRuns, m.JobDuration)
	return m
}
