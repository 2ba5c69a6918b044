package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ev-telemetry/processing/internal/domain"
)

func series(speeds []float64) []*domain.TelemetryRecord {
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	records := make([]*domain.TelemetryRecord, len(speeds))
	for i, s := range speeds {
		records[i] = &domain.TelemetryRecord{
			SessionID: "s1",
			Timestamp: base.Add(time.Duration(i) * 200 * time.Millisecond),
			SpeedMS:   s,
			PowerW:    s * 40,
		}
	}
	return records
}

func TestDetectSegmentsMergesRuns(t *testing.T) {
	records := series([]float64{0, 0, 0, 5, 5.1, 5, 5.1, 2, 0, 0})
	segments := DetectSegments(records, DefaultSegmentConfig())

	// stationary, accelerating (one sample), cruising, braking, stationary
	require.Len(t, segments, 5)
	assert.Equal(t, domain.MotionStationary, segments[0].MotionState)
	assert.Equal(t, 3, segments[0].Samples)
	assert.Equal(t, domain.MotionAccelerating, segments[1].MotionState)
	assert.Equal(t, domain.MotionCruising, segments[2].MotionState)
	assert.Equal(t, 3, segments[2].Samples)
	assert.Equal(t, domain.MotionBraking, segments[3].MotionState)
	assert.Equal(t, domain.MotionStationary, segments[4].MotionState)

	total := 0
	for _, seg := range segments {
		total += seg.Samples
	}
	assert.Equal(t, len(records), total, "every sample belongs to exactly one segment")
}

func TestDetectSegmentsPrefersEnrichedState(t *testing.T) {
	records := series([]float64{5, 5, 5})
	for _, rec := range records {
		rec.MotionState = domain.MotionTurning
	}
	segments := DetectSegments(records, DefaultSegmentConfig())
	require.Len(t, segments, 1)
	assert.Equal(t, domain.MotionTurning, segments[0].MotionState)
}

func TestDetectSegmentsTooShort(t *testing.T) {
	assert.Nil(t, DetectSegments(nil, DefaultSegmentConfig()))
	assert.Nil(t, DetectSegments(series([]float64{5}), DefaultSegmentConfig()))
}

func TestDetectLapsStopStartCycles(t *testing.T) {
	var speeds []float64
	for cycle := 0; cycle < 3; cycle++ {
		for i := 0; i < 10; i++ {
			speeds = append(speeds, 5.0)
		}
		for i := 0; i < 5; i++ {
			speeds = append(speeds, 0.0)
		}
	}

	laps := DetectLaps(series(speeds), DefaultSegmentConfig())

	// Three motion phases close three laps; the trailing stationary run
	// forms a final idle lap.
	require.Len(t, laps, 4)
	for i, lap := range laps {
		assert.Equal(t, i+1, lap.Number)
		if i > 0 {
			assert.False(t, lap.StartTime.Before(laps[i-1].EndTime), "laps must not overlap going backwards")
		}
	}
	assert.InDelta(t, 5.0, laps[0].PeakSpeedMS, 1e-9)
	assert.Greater(t, laps[0].EnergyJ, 0.0)
	assert.Greater(t, laps[0].DistanceM, 0.0)
	assert.Equal(t, 0.0, laps[3].PeakSpeedMS)
}

func TestDetectLapsNeverStops(t *testing.T) {
	laps := DetectLaps(series([]float64{5, 5, 5, 5, 5, 5}), DefaultSegmentConfig())
	require.Len(t, laps, 1)
	assert.Equal(t, 1, laps[0].Number)
	assert.InDelta(t, 1.0, laps[0].DurationSec, 1e-9)
}

func TestBuildLapIntegration(t *testing.T) {
	// Constant 10 m/s and 400 W over 2 s.
	records := series([]float64{10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10})
	laps := DetectLaps(records, DefaultSegmentConfig())
	require.Len(t, laps, 1)

	lap := laps[0]
	assert.InDelta(t, 2.0, lap.DurationSec, 1e-9)
	assert.InDelta(t, 20.0, lap.DistanceM, 1e-9)
	assert.InDelta(t, 800.0, lap.EnergyJ, 1e-9)
	assert.InDelta(t, 10.0, lap.AvgSpeedMS, 1e-9)
	assert.InDelta(t, 0.025, lap.EfficiencyMJ, 1e-9)
}
