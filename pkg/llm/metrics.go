package llm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlassist_llm_calls_total",
			Help: "Calls to the inference provider, by provider and status",
		},
		[]string{"provider", "status"},
	)

	CallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlassist_llm_call_duration_seconds",
			Help:    "Duration of inference calls in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"provider"},
	)

	CacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlassist_llm_cache_hits_total",
			Help: "Completions served from the response cache",
		},
	)

	RetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlassist_llm_retries_total",
			Help: "Completion attempts retried after a transient failure",
		},
	)
)
