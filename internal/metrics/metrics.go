// Package metrics 定义 Prometheus 指标，由 server 的 /metrics 暴露
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StageFallbacks 各阶段走兜底的次数（expand / embed / filter / synthesize）
	StageFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guide_stage_fallbacks_total",
		Help: "Pipeline stages that fell back to their default behaviour.",
	}, []string{"stage"})

	PipelineDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "guide_pipeline_duration_seconds",
		Help:    "End-to-end answer latency.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
	}, []string{"outcome"})

	CandidatesRetrieved = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "guide_candidates_retrieved",
		Help:    "Unique candidates after dedupe, before filtering.",
		Buckets: prometheus.LinearBuckets(0, 2, 10),
	})

	CandidatesKept = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "guide_candidates_kept",
		Help:    "Candidates left after the constraint filter.",
		Buckets: prometheus.LinearBuckets(0, 2, 10),
	})

	UpstreamCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guide_upstream_calls_total",
		Help: "Gemini calls by kind and result.",
	}, []string{"kind", "result"})

	// BreakerState 0 = closed, 1 = half-open, 2 = open
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "guide_circuit_breaker_state",
		Help: "Circuit breaker state per upstream.",
	}, []string{"name"})
)
