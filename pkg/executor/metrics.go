package executor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlassist_executor_executions_total",
			Help: "Statements executed, by backend and status",
		},
		[]string{"backend", "status"},
	)

	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlassist_executor_execution_duration_seconds",
			Help:    "Duration of statement executions in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	RejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlassist_executor_rejected_total",
			Help: "Statements rejected before reaching the database",
		},
	)

	TruncatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlassist_executor_truncated_total",
			Help: "Results truncated to the row limit",
		},
	)
)
