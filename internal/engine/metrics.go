package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	jobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strand_jobs_total",
			Help: "Total number of jobs reaching a terminal status.",
		},
		[]string{"kind", "status"},
	)

	jobsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "strand_jobs_running",
			Help: "Number of jobs currently executing.",
		},
	)

	jobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "strand_job_duration_seconds",
			Help:    "Wall-clock duration of finished jobs in seconds.",
			Buckets: []float64{.1, .5, 1, 5, 15, 60, 300, 900, 3600},
		},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "strand_queue_depth",
			Help: "Number of jobs waiting for a worker.",
		},
	)
)

func init() {
	prometheus.MustRegister(jobsFinished)
	prometheus.MustRegister(jobsRunning)
	prometheus.MustRegister(jobDuration)
	prometheus.MustRegister(queueDepth)
}
