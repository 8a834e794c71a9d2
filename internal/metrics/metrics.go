package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coderunner_executions_total",
			Help: "Total number of finished submissions",
		},
		[]string{"language", "status"},
	)

	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coderunner_attempt_duration_ms",
			Help:    "Wall-clock duration of a compile or run attempt in milliseconds",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"language", "phase"},
	)

	MemoryUsage = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coderunner_memory_usage_kb",
			Help:    "Peak resident memory of the run attempt in KB",
			Buckets: []float64{1024, 4096, 16384, 65536, 131072, 262144, 524288},
		},
		[]string{"language"},
	)

	EngineFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coderunner_engine_failures_total",
			Help: "Submissions that failed because of the engine, not the program",
		},
		[]string{"kind"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coderunner_queue_depth",
			Help: "Current number of submissions waiting for a worker",
		},
	)

	QueueRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coderunner_queue_rejections_total",
			Help: "Submissions rejected because the queue was full",
		},
	)

	ActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coderunner_active_workers",
			Help: "Number of workers currently executing a submission",
		},
	)

	ContainerCreationTime = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coderunner_container_creation_ms",
			Help:    "Time to create and start a container (docker backend)",
			Buckets: []float64{50, 100, 200, 500, 1000, 2000},
		},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coderunner_rate_limit_hits_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)
)
