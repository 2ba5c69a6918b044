package analysis

import "ev-telemetry/processing/internal/domain"

// EnergyBreakdown splits total consumed energy by how the vehicle was
// being driven. The four parts always sum to Total because every
// inter-sample interval is assigned to exactly one bucket.
type EnergyBreakdown struct {
	AcceleratingJ float64 `json:"accelerating_j"`
	CruisingJ     float64 `json:"cruising_j"`
	IdlingJ       float64 `json:"idling_j"`
	BrakingJ      float64 `json:"braking_j"`
	TotalJ        float64 `json:"total_j"`
}

// ComputeEnergyBreakdown integrates power over time per motion class.
// Turning intervals count as cruising for energy purposes. Fewer than
// 2 records returns the zero breakdown.
func ComputeEnergyBreakdown(records []*domain.TelemetryRecord, cfg SegmentConfig) EnergyBreakdown {
	var out EnergyBreakdown
	if len(records) < 2 {
		return out
	}

	prev := records[0]
	for _, rec := range records[1:] {
		state := cfg.classify(rec, prev)
		dt := rec.Timestamp.Sub(prev.Timestamp).Seconds()
		if dt > 0 {
			energy := (prev.PowerW + rec.PowerW) / 2 * dt
			out.TotalJ += energy
			switch state {
			case domain.MotionAccelerating:
				out.AcceleratingJ += energy
			case domain.MotionBraking:
				out.BrakingJ += energy
			case domain.MotionStationary:
				out.IdlingJ += energy
			default: // cruising, turning
				out.CruisingJ += energy
			}
		}
		prev = rec
	}
	return out
}

// WhatIfProjection compares the actual run against a hypothetical one
// where speed is capped at the supplied optimum.
type WhatIfProjection struct {
	OptimalSpeedMS      float64 `json:"optimal_speed_ms"`
	ActualEfficiency    float64 `json:"actual_efficiency_m_per_j"`
	ProjectedEfficiency float64 `json:"projected_efficiency_m_per_j"`
	ActualEnergyJ       float64 `json:"actual_energy_j"`
	ProjectedEnergyJ    float64 `json:"projected_energy_j"`
	EnergySavedJ        float64 `json:"energy_saved_j"`
	PercentImprovement  float64 `json:"percent_improvement"`
}

// ComputeWhatIf clamps speed to optimalSpeed for the whole session.
// Power in clamped intervals scales with the cube of the speed ratio
// (aero drag dominates at the speeds where clamping bites), distance
// scales linearly, so capping speed trades a little distance rate for a
// disproportionate energy saving. Pure function of the snapshot;
// nothing is persisted.
func ComputeWhatIf(records []*domain.TelemetryRecord, optimalSpeed float64) WhatIfProjection {
	out := WhatIfProjection{OptimalSpeedMS: optimalSpeed}
	if len(records) < 2 || optimalSpeed <= 0 {
		return out
	}

	clamp := func(rec *domain.TelemetryRecord) (speed, power float64) {
		speed, power = rec.SpeedMS, rec.PowerW
		if speed > optimalSpeed {
			ratio := optimalSpeed / speed
			power *= ratio * ratio * ratio
			speed = optimalSpeed
		}
		return speed, power
	}

	var actualDist, projDist float64
	prev := records[0]
	prevSpeed, prevPower := clamp(prev)
	for _, rec := range records[1:] {
		dt := rec.Timestamp.Sub(prev.Timestamp).Seconds()
		speed, power := clamp(rec)
		if dt > 0 {
			out.ActualEnergyJ += (prev.PowerW + rec.PowerW) / 2 * dt
			actualDist += (prev.SpeedMS + rec.SpeedMS) / 2 * dt
			out.ProjectedEnergyJ += (prevPower + power) / 2 * dt
			projDist += (prevSpeed + speed) / 2 * dt
		}
		prev = rec
		prevSpeed, prevPower = speed, power
	}

	if out.ActualEnergyJ > 0 {
		out.ActualEfficiency = actualDist / out.ActualEnergyJ
	}
	if out.ProjectedEnergyJ > 0 {
		out.ProjectedEfficiency = projDist / out.ProjectedEnergyJ
	}
	out.EnergySavedJ = out.ActualEnergyJ - out.ProjectedEnergyJ
	if out.ActualEfficiency > 0 {
		out.PercentImprovement = (out.ProjectedEfficiency - out.ActualEfficiency) / out.ActualEfficiency * 100
	}
	return out
}
