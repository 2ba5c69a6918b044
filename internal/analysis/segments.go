package analysis

import (
	"math"

	"ev-telemetry/processing/internal/domain"
)

// SegmentConfig holds the classification and lap-boundary policy
// parameters. These mirror the enrichment thresholds so segment output
// agrees with per-record motion states when both are computed.
type SegmentConfig struct {
	StationarySpeedMS float64
	SpeedDeltaMS      float64
	TurningGyroZDegS  float64

	// A lap boundary is a return to near-zero speed after at least
	// MinMotionSamples of sustained motion.
	MinMotionSamples int
}

func DefaultSegmentConfig() SegmentConfig {
	return SegmentConfig{
		StationarySpeedMS: 0.5,
		SpeedDeltaMS:      0.4,
		TurningGyroZDegS:  15.0,
		MinMotionSamples:  5,
	}
}

// classify falls back to speed/gyro thresholds when the record has not
// been through enrichment yet.
func (c SegmentConfig) classify(rec, prev *domain.TelemetryRecord) domain.MotionState {
	if rec.MotionState != "" {
		return rec.MotionState
	}
	if rec.SpeedMS < c.StationarySpeedMS {
		return domain.MotionStationary
	}
	if math.Abs(rec.GyroZ) > c.TurningGyroZDegS {
		return domain.MotionTurning
	}
	if prev != nil {
		delta := rec.SpeedMS - prev.SpeedMS
		if delta > c.SpeedDeltaMS {
			return domain.MotionAccelerating
		}
		if delta < -c.SpeedDeltaMS {
			return domain.MotionBraking
		}
	}
	return domain.MotionCruising
}

// DetectSegments merges consecutive same-state samples into segments.
// Fewer than 2 records yields no segments.
func DetectSegments(records []*domain.TelemetryRecord, cfg SegmentConfig) []domain.Segment {
	if len(records) < 2 {
		return nil
	}

	var segments []domain.Segment
	var prev *domain.TelemetryRecord
	for _, rec := range records {
		state := cfg.classify(rec, prev)
		prev = rec

		if n := len(segments); n > 0 && segments[n-1].MotionState == state {
			segments[n-1].EndTime = rec.Timestamp
			segments[n-1].Samples++
			continue
		}
		segments = append(segments, domain.Segment{
			StartTime:   rec.Timestamp,
			EndTime:     rec.Timestamp,
			MotionState: state,
			Samples:     1,
		})
	}
	return segments
}

// DetectLaps splits the session into stop-to-stop cycles. A session
// that never stops after moving is one lap.
func DetectLaps(records []*domain.TelemetryRecord, cfg SegmentConfig) []domain.Lap {
	if len(records) < 2 {
		return nil
	}

	var laps []domain.Lap
	lapStart := 0
	movingSamples := 0

	for i, rec := range records {
		moving := rec.SpeedMS >= cfg.StationarySpeedMS
		if moving {
			movingSamples++
			continue
		}
		if movingSamples >= cfg.MinMotionSamples {
			// Came back to a stop after sustained motion: close the lap here.
			laps = append(laps, buildLap(records[lapStart:i+1], len(laps)+1))
			lapStart = i
		}
		movingSamples = 0
	}

	if lapStart < len(records)-1 {
		laps = append(laps, buildLap(records[lapStart:], len(laps)+1))
	}
	if len(laps) == 0 {
		laps = append(laps, buildLap(records, 1))
	}
	return laps
}

func buildLap(records []*domain.TelemetryRecord, number int) domain.Lap {
	lap := domain.Lap{
		Number:    number,
		StartTime: records[0].Timestamp,
		EndTime:   records[len(records)-1].Timestamp,
	}
	lap.DurationSec = lap.EndTime.Sub(lap.StartTime).Seconds()

	var speedSum float64
	for _, rec := range records {
		speedSum += rec.SpeedMS
		if rec.SpeedMS > lap.PeakSpeedMS {
			lap.PeakSpeedMS = rec.SpeedMS
		}
	}
	lap.AvgSpeedMS = speedSum / float64(len(records))

	// Trapezoidal integration of power for energy and speed for distance.
	for i := 1; i < len(records); i++ {
		dt := records[i].Timestamp.Sub(records[i-1].Timestamp).Seconds()
		if dt <= 0 {
			continue
		}
		lap.EnergyJ += (records[i-1].PowerW + records[i].PowerW) / 2 * dt
		lap.DistanceM += (records[i-1].SpeedMS + records[i].SpeedMS) / 2 * dt
	}
	if lap.EnergyJ > 0 {
		lap.EfficiencyMJ = lap.DistanceM / lap.EnergyJ
	}
	return lap
}
