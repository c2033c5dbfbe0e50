package alerting

import (
	"fmt"
	"math"
	"strings"

	"github.com/fleetpulse/alertcore/internal/rules"
)

// AnomalyTest decides whether value deviates from its expected range.
// baseline summarizes the recent samples of the same series, not including
// value; minSamples is the smallest baseline a test may rely on.
type AnomalyTest interface {
	IsAnomaly(value float64, cond *rules.AnomalyCondition, baseline Baseline, minSamples int) bool
}

// AnomalyTestFunc adapts a function to AnomalyTest.
type AnomalyTestFunc func(value float64, cond *rules.AnomalyCondition, baseline Baseline, minSamples int) bool

func (f AnomalyTestFunc) IsAnomaly(value float64, cond *rules.AnomalyCondition, baseline Baseline, minSamples int) bool {
	return f(value, cond, baseline, minSamples)
}

// ZScoreTest flags values more than zThreshold standard deviations from the
// mean. Mean and deviation come from the condition or else the baseline.
type ZScoreTest struct{}

func (ZScoreTest) IsAnomaly(value float64, cond *rules.AnomalyCondition, baseline Baseline, minSamples int) bool {
	if (cond.Mean == nil || cond.StdDev == nil) && baseline.Count < minSamples {
		return false
	}
	mean, std := baseline.Mean, baseline.StdDev
	if cond.Mean != nil {
		mean = cond.Mean.Float()
	}
	if cond.StdDev != nil {
		std = cond.StdDev.Float()
	}
	if std == 0 {
		return value != mean
	}
	return math.Abs(value-mean)/std > cond.ZThresholdOrDefault()
}

// RangeTest flags values outside [min, max] widened on both sides by the
// tolerance fraction of the range. Bounds come from the condition or else
// the baseline.
type RangeTest struct{}

func (RangeTest) IsAnomaly(value float64, cond *rules.AnomalyCondition, baseline Baseline, minSamples int) bool {
	if (cond.Min == nil || cond.Max == nil) && baseline.Count < minSamples {
		return false
	}
	lo, hi := baseline.Min, baseline.Max
	if cond.Min != nil {
		lo = cond.Min.Float()
	}
	if cond.Max != nil {
		hi = cond.Max.Float()
	}
	margin := (hi - lo) * cond.ToleranceOrDefault()
	return value < lo-margin || value > hi+margin
}

// evaluateAnomaly tests the metric against its baseline, then records it so
// it becomes part of the baseline for later events.
func (e *Evaluator) evaluateAnomaly(a *rules.AnomalyCondition, in env) (bool, error) {
	test, ok := e.anomalyTests[strings.ToLower(a.Method)]
	if !ok {
		return false, fmt.Errorf("unknown anomaly method %q", a.Method)
	}
	raw, present := in.data[a.Metric]
	if !present {
		return false, nil
	}
	value := rules.Coerce(raw)
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return false, nil
	}

	key := SeriesKey(a.Metric, in.equipment)
	baseline := e.tracker.Baseline(key, in.now)
	result := test.IsAnomaly(value, a, baseline, e.cfg.MinBaselineSamples)
	e.tracker.Record(key, value, in.now)
	return result, nil
}
