package alerting

import (
	"math"
	"sync"
	"time"

	"github.com/fleetpulse/alertcore/internal/hashutil"
	"github.com/fleetpulse/alertcore/internal/rules"
)

const (
	// maxSamplesPerMetric is the maximum number of samples retained per series.
	maxSamplesPerMetric = 120
	// maxSampleAge is the maximum age of a sample before eviction.
	maxSampleAge = 30 * time.Minute
)

// metricSample is a single timestamped metric value.
type metricSample struct {
	value     float64
	timestamp time.Time
}

// Baseline summarizes the recent samples of one series.
type Baseline struct {
	Count  int
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
}

// MetricTracker maintains per-series buffers of recent samples for sustained
// thresholds and anomaly baselines. A series is one metric on one piece of
// equipment.
type MetricTracker struct {
	buffers map[string][]metricSample
	mu      sync.RWMutex
}

// NewMetricTracker creates a new MetricTracker.
func NewMetricTracker() *MetricTracker {
	return &MetricTracker{
		buffers: make(map[string][]metricSample),
	}
}

// SeriesKey identifies the series of metric on equipment.
func SeriesKey(metric, equipment string) string {
	return hashutil.Join(metric, equipment)
}

// Record adds a sample and evicts stale entries. A second sample with the
// same timestamp replaces the first, so several rules reading the same
// metric from one event record it once.
func (t *MetricTracker) Record(key string, value float64, timestamp time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	samples := t.buffers[key]
	if n := len(samples); n > 0 && samples[n-1].timestamp.Equal(timestamp) {
		samples[n-1].value = value
		return
	}
	samples = append(samples, metricSample{value: value, timestamp: timestamp})

	cutoff := timestamp.Add(-maxSampleAge)
	start := 0
	for start < len(samples) && samples[start].timestamp.Before(cutoff) {
		start++
	}
	samples = samples[start:]

	if len(samples) > maxSamplesPerMetric {
		samples = samples[len(samples)-maxSamplesPerMetric:]
	}

	t.buffers[key] = samples
}

// IsSustained checks whether operator/threshold has held continuously for
// duration, based on recorded samples. Returns false if there are no samples
// within the window.
func (t *MetricTracker) IsSustained(key, operator string, threshold float64, duration time.Duration, now time.Time) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	samples := t.buffers[key]
	if len(samples) == 0 {
		return false
	}

	windowStart := now.Add(-duration)

	var inWindow []metricSample
	for _, s := range samples {
		if !s.timestamp.Before(windowStart) && !s.timestamp.After(now) {
			inWindow = append(inWindow, s)
		}
	}
	if len(inWindow) == 0 {
		return false
	}

	// The earliest sample must sit near the window start; 20% grace covers
	// typical collection intervals.
	grace := duration / 5
	if inWindow[0].timestamp.After(windowStart.Add(grace)) {
		return false
	}

	for _, s := range inWindow {
		if !compareFloat(s.value, operator, threshold) {
			return false
		}
	}
	return true
}

// Baseline returns statistics over the samples of key taken before now and
// not older than maxSampleAge.
func (t *MetricTracker) Baseline(key string, now time.Time) Baseline {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cutoff := now.Add(-maxSampleAge)
	var b Baseline
	var sum float64
	for _, s := range t.buffers[key] {
		if s.timestamp.Before(cutoff) || !s.timestamp.Before(now) {
			continue
		}
		if b.Count == 0 || s.value < b.Min {
			b.Min = s.value
		}
		if b.Count == 0 || s.value > b.Max {
			b.Max = s.value
		}
		sum += s.value
		b.Count++
	}
	if b.Count == 0 {
		return b
	}
	b.Mean = sum / float64(b.Count)

	var sq float64
	for _, s := range t.buffers[key] {
		if s.timestamp.Before(cutoff) || !s.timestamp.Before(now) {
			continue
		}
		d := s.value - b.Mean
		sq += d * d
	}
	b.StdDev = math.Sqrt(sq / float64(b.Count))
	return b
}

// Len returns the number of tracked series.
func (t *MetricTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.buffers)
}

// Reset drops every series.
func (t *MetricTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buffers = make(map[string][]metricSample)
}

func compareFloat(value float64, operator string, threshold float64) bool {
	switch operator {
	case rules.OperatorGreaterThan:
		return value > threshold
	case rules.OperatorLessThan:
		return value < threshold
	case rules.OperatorGreaterOrEqual:
		return value >= threshold
	case rules.OperatorLessOrEqual:
		return value <= threshold
	case rules.OperatorNumericEquals:
		return value == threshold
	default:
		return false
	}
}
