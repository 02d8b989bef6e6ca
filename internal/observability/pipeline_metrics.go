package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	pipelineRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querygate_pipeline_requests_total",
			Help: "Total number of questions accepted by the pipeline.",
		},
	)
	pipelineTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querygate_pipeline_transitions_total",
			Help: "Pipeline state transitions by source and target state.",
		},
		[]string{"from", "to"},
	)
	pipelineFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querygate_pipeline_failures_total",
			Help: "Pipeline runs that ended in the failed state, by stage and kind.",
		},
		[]string{"stage", "kind"},
	)
	pipelineStageDurationMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querygate_pipeline_stage_duration_ms",
			Help:    "Time spent in each pipeline stage in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"stage"},
	)
	schemaRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querygate_schema_refresh_total",
			Help: "Schema cache refresh attempts by outcome.",
		},
		[]string{"status"},
	)
	patternRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querygate_pattern_records_total",
			Help: "Query pattern store writes by outcome.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(
		pipelineRequestsTotal,
		pipelineTransitionsTotal,
		pipelineFailuresTotal,
		pipelineStageDurationMs,
		schemaRefreshTotal,
		patternRecordsTotal,
	)
}

func ObservePipelineRequest() {
	pipelineRequestsTotal.Inc()
}

func ObservePipelineTransition(from, to string) {
	pipelineTransitionsTotal.WithLabelValues(from, to).Inc()
}

func ObservePipelineFailure(stage, kind string) {
	pipelineFailuresTotal.WithLabelValues(stage, kind).Inc()
}

func ObserveStageDuration(stage string, elapsed time.Duration) {
	pipelineStageDurationMs.WithLabelValues(stage).Observe(float64(elapsed.Microseconds()) / 1000)
}

func ObserveSchemaRefresh(err error) {
	schemaRefreshTotal.WithLabelValues(outcome(err)).Inc()
}

func ObservePatternRecord(err error) {
	patternRecordsTotal.WithLabelValues(outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
