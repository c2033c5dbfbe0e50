// Package metrics exposes Prometheus collectors for rule evaluation and
// alert deduplication.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "alertcore"

// Metrics holds the collectors. It satisfies the recorder interfaces of the
// evaluator and the deduplicator.
type Metrics struct {
	EvaluationsTotal     *prometheus.CounterVec
	EvaluationDuration   *prometheus.HistogramVec
	EvaluationsSkipped   *prometheus.CounterVec
	EvaluationErrors     *prometheus.CounterVec
	CacheLookups         *prometheus.CounterVec
	DedupProcessed       *prometheus.CounterVec
	DedupDuplicates      *prometheus.CounterVec
	DedupDuration        prometheus.Histogram
	DedupMerged          prometheus.Counter
	ClassificationErrors *prometheus.CounterVec
	AlertsEmitted        *prometheus.CounterVec
}

// New registers the collectors with reg. A nil reg uses a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		EvaluationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evaluator",
			Name:      "evaluations_total",
			Help:      "Rule evaluations that ran conditions, by rule type and result",
		}, []string{"rule_type", "triggered"}),
		EvaluationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "evaluator",
			Name:      "evaluation_duration_seconds",
			Help:      "Time spent running rule conditions",
			// 10μs to 100ms
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8),
		}, []string{"rule_type"}),
		EvaluationsSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evaluator",
			Name:      "evaluations_skipped_total",
			Help:      "Evaluations skipped before running conditions, by reason",
		}, []string{"reason"}),
		EvaluationErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evaluator",
			Name:      "evaluation_errors_total",
			Help:      "Evaluations that failed and counted as not triggered",
		}, []string{"rule_type"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evaluator",
			Name:      "cache_lookups_total",
			Help:      "Result cache lookups, by outcome",
		}, []string{"result"}),
		DedupProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "alerts_processed_total",
			Help:      "Alerts classified by the deduplicator",
		}, []string{"strategy"}),
		DedupDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "duplicates_total",
			Help:      "Alerts dropped as duplicates",
		}, []string{"strategy"}),
		DedupDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "pass_duration_seconds",
			Help:      "Time spent in one deduplication pass",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		DedupMerged: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "merged_total",
			Help:      "Alerts folded into another alert by the merge pass",
		}),
		ClassificationErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "classification_errors_total",
			Help:      "Alerts kept because their classification failed",
		}, []string{"strategy"}),
		AlertsEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "alerts_emitted_total",
			Help:      "Alerts that survived deduplication, by severity",
		}, []string{"severity"}),
	}
}

func (m *Metrics) RecordEvaluation(ruleType string, triggered bool, elapsed time.Duration) {
	m.EvaluationsTotal.WithLabelValues(ruleType, strconv.FormatBool(triggered)).Inc()
	m.EvaluationDuration.WithLabelValues(ruleType).Observe(elapsed.Seconds())
}

func (m *Metrics) RecordEvaluationSkipped(reason string) {
	m.EvaluationsSkipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordEvaluationError(ruleType string) {
	m.EvaluationErrors.WithLabelValues(ruleType).Inc()
}

func (m *Metrics) RecordDeduplication(strategy string, processed, duplicates int, elapsed time.Duration) {
	m.DedupProcessed.WithLabelValues(strategy).Add(float64(processed))
	m.DedupDuplicates.WithLabelValues(strategy).Add(float64(duplicates))
	m.DedupDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) RecordMerge(merged int) {
	m.DedupMerged.Add(float64(merged))
}

func (m *Metrics) RecordClassificationError(strategy string) {
	m.ClassificationErrors.WithLabelValues(strategy).Inc()
}

// RecordAlertEmitted counts one alert leaving the pipeline.
func (m *Metrics) RecordAlertEmitted(severity string) {
	m.AlertsEmitted.WithLabelValues(severity).Inc()
}

// Handler serves the collectors registered with g in the text exposition
// format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{EnableOpenMetrics: false})
}
