package alerting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fleetpulse/alertcore/internal/rules"
)

var trackerBase = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func TestMetricTracker_ImmediateFire(t *testing.T) {
	tracker := NewMetricTracker()
	key := SeriesKey("engineTemperature", "TRK-01")

	// Single sample above threshold with 0 duration fires immediately
	tracker.Record(key, 110, trackerBase)
	assert.True(t, tracker.IsSustained(key, rules.OperatorGreaterThan, 105, 0, trackerBase))
}

func TestMetricTracker_SustainedThreshold(t *testing.T) {
	tracker := NewMetricTracker()
	key := SeriesKey("engineTemperature", "TRK-01")

	for i := range 6 {
		tracker.Record(key, 110, trackerBase.Add(time.Duration(i)*time.Minute))
	}

	now := trackerBase.Add(5 * time.Minute)
	assert.True(t, tracker.IsSustained(key, rules.OperatorGreaterThan, 105, 5*time.Minute, now))
}

func TestMetricTracker_DipBelowThreshold(t *testing.T) {
	tracker := NewMetricTracker()
	key := SeriesKey("engineTemperature", "TRK-01")

	values := []float64{110, 110, 90, 110, 110, 110}
	for i, v := range values {
		tracker.Record(key, v, trackerBase.Add(time.Duration(i)*time.Minute))
	}

	now := trackerBase.Add(5 * time.Minute)
	assert.False(t, tracker.IsSustained(key, rules.OperatorGreaterThan, 105, 5*time.Minute, now),
		"should not fire when a dip occurs within the window")
}

func TestMetricTracker_RecoverAfterDip(t *testing.T) {
	tracker := NewMetricTracker()
	key := SeriesKey("engineTemperature", "TRK-01")

	tracker.Record(key, 110, trackerBase)
	tracker.Record(key, 90, trackerBase.Add(time.Minute))
	for i := 5; i <= 12; i++ {
		tracker.Record(key, 110, trackerBase.Add(time.Duration(i)*time.Minute))
	}

	now := trackerBase.Add(12 * time.Minute)
	assert.True(t, tracker.IsSustained(key, rules.OperatorGreaterThan, 105, 5*time.Minute, now))
}

func TestMetricTracker_SeriesArePerEquipment(t *testing.T) {
	tracker := NewMetricTracker()

	tracker.Record(SeriesKey("engineTemperature", "TRK-01"), 110, trackerBase)
	tracker.Record(SeriesKey("engineTemperature", "TRK-02"), 80, trackerBase)

	assert.True(t, tracker.IsSustained(SeriesKey("engineTemperature", "TRK-01"), rules.OperatorGreaterThan, 105, 0, trackerBase))
	assert.False(t, tracker.IsSustained(SeriesKey("engineTemperature", "TRK-02"), rules.OperatorGreaterThan, 105, 0, trackerBase))
	assert.Equal(t, 2, tracker.Len())
}

func TestMetricTracker_NoSamples(t *testing.T) {
	tracker := NewMetricTracker()
	assert.False(t, tracker.IsSustained("missing", rules.OperatorGreaterThan, 1, 0, trackerBase))
}

func TestMetricTracker_GapAtWindowStart(t *testing.T) {
	tracker := NewMetricTracker()

	// Only the last two minutes of a five minute window are covered.
	tracker.Record("k", 110, trackerBase.Add(3*time.Minute))
	tracker.Record("k", 110, trackerBase.Add(5*time.Minute))

	assert.False(t, tracker.IsSustained("k", rules.OperatorGreaterThan, 105, 5*time.Minute, trackerBase.Add(5*time.Minute)))
}

func TestMetricTracker_SameTimestampReplaces(t *testing.T) {
	tracker := NewMetricTracker()

	tracker.Record("k", 1, trackerBase)
	tracker.Record("k", 2, trackerBase)

	b := tracker.Baseline("k", trackerBase.Add(time.Second))
	assert.Equal(t, 1, b.Count)
	assert.InDelta(t, 2.0, b.Mean, 1e-9)
	assert.Zero(t, tracker.Baseline("k", trackerBase).Count, "samples at now are excluded")
}

func TestMetricTracker_EvictsOldSamples(t *testing.T) {
	tracker := NewMetricTracker()

	tracker.Record("k", 1, trackerBase)
	tracker.Record("k", 1, trackerBase.Add(maxSampleAge+time.Minute))

	b := tracker.Baseline("k", trackerBase.Add(maxSampleAge+2*time.Minute))
	assert.Equal(t, 1, b.Count)
}

func TestMetricTracker_CapsBuffer(t *testing.T) {
	tracker := NewMetricTracker()

	for i := range maxSamplesPerMetric + 30 {
		tracker.Record("k", float64(i), trackerBase.Add(time.Duration(i)*time.Second))
	}

	b := tracker.Baseline("k", trackerBase.Add(time.Hour/4))
	assert.Equal(t, maxSamplesPerMetric, b.Count)
	assert.InDelta(t, 30.0, b.Min, 1e-9)
}

func TestMetricTracker_Baseline(t *testing.T) {
	tracker := NewMetricTracker()

	for i, v := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		tracker.Record("k", v, trackerBase.Add(time.Duration(i)*time.Minute))
	}

	b := tracker.Baseline("k", trackerBase.Add(10*time.Minute))
	assert.Equal(t, 8, b.Count)
	assert.InDelta(t, 5.0, b.Mean, 1e-9)
	assert.InDelta(t, 2.0, b.StdDev, 1e-9)
	assert.InDelta(t, 2.0, b.Min, 1e-9)
	assert.InDelta(t, 9.0, b.Max, 1e-9)

	tracker.Reset()
	assert.Zero(t, tracker.Baseline("k", trackerBase).Count)
}
