package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlassist_pipeline_turns_total",
			Help: "Turns by terminal outcome",
		},
		[]string{"outcome"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlassist_pipeline_stage_duration_seconds",
			Help:    "Duration of each pipeline stage",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	StageErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlassist_pipeline_stage_errors_total",
			Help: "Stages that ended the turn with an error",
		},
		[]string{"stage"},
	)

	MalformedResponsesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlassist_pipeline_malformed_responses_total",
			Help: "Inference responses rejected by the stage output contract",
		},
		[]string{"stage"},
	)

	RetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sqlassist_pipeline_retries_total",
		Help: "Executions of a corrected statement",
	})
)
