package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the dialogue pipeline.
type Metrics struct {
	TurnsTotal     *prometheus.CounterVec
	StageDuration  *prometheus.HistogramVec
	RiskTotal      *prometheus.CounterVec
	FallbacksTotal *prometheus.CounterVec
	CacheHitsTotal prometheus.Counter
}

// NewMetrics registers the pipeline collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "careline_turns_total",
			Help: "Completed dialogue turns by intent and reply class.",
		}, []string{"intent", "reply_class"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "careline_stage_duration_seconds",
			Help:    "Wall time per pipeline stage.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		RiskTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "careline_risk_level_total",
			Help: "Turns by classified risk level.",
		}, []string{"level"}),
		FallbacksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "careline_stage_fallbacks_total",
			Help: "Stage failures that fell back to a degraded path.",
		}, []string{"stage"}),
		CacheHitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "careline_reply_cache_hits_total",
			Help: "Turns answered from the short-reply cache.",
		}),
	}
}

// ObserveStage records one stage duration. Safe on a nil receiver so tests
// can run the pipeline without collectors.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// CountFallback records a degraded stage. Safe on a nil receiver.
func (m *Metrics) CountFallback(stage string) {
	if m == nil {
		return
	}
	m.FallbacksTotal.WithLabelValues(stage).Inc()
}

// CountTurn records a completed turn. Safe on a nil receiver.
func (m *Metrics) CountTurn(intent, replyClass, riskLevel string) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(intent, replyClass).Inc()
	m.RiskTotal.WithLabelValues(riskLevel).Inc()
}

// CountCacheHit records a cache-served turn. Safe on a nil receiver.
func (m *Metrics) CountCacheHit() {
	if m == nil {
		return
	}
	m.CacheHitsTotal.Inc()
}
