package pool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksDrained = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credal_pool_tasks_drained_total",
		Help: "Test tasks pulled from the shared task channel",
	})

	predictionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credal_pool_prediction_failures_total",
		Help: "Predictions that failed and were recorded against their task",
	})

	trainingFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credal_pool_training_failures_total",
		Help: "Fold training runs that failed inside a worker",
	})

	trainingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "credal_pool_training_duration_seconds",
		Help:    "Time spent retraining a worker model for one fold",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4min
	})

	roundsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credal_pool_rounds_total",
		Help: "Training descriptors broadcast to the pool",
	})

	workersAlive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "credal_pool_workers_alive",
		Help: "Worker goroutines currently running",
	})
)
