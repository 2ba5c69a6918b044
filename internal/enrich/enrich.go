package enrich

import (
	"math"

	"ev-telemetry/processing/internal/domain"
)

const gravity = 9.81

// Thresholds are policy parameters for motion-state and driver-mode
// classification. The defaults come from tuning against the mock
// generator; treat them as configuration, not physical constants.
type Thresholds struct {
	StationarySpeedMS  float64 // below this the vehicle counts as stopped
	SpeedDeltaAccelMS  float64 // per-sample speed increase => accelerating
	SpeedDeltaBrakeMS  float64 // per-sample speed decrease => braking
	TurningGyroZDegS   float64 // |gyro_z| above this while moving => turning
	ThrottleEcoPct     float64
	ThrottleHardPct    float64
	BrakeActivePct     float64
	CoastingInputPct   float64
	EfficiencyWindowS  float64 // trailing window for rolling efficiency
	QualityOutlierCost map[domain.OutlierSeverity]float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		StationarySpeedMS: 0.5,
		SpeedDeltaAccelMS: 0.4,
		SpeedDeltaBrakeMS: 0.4,
		TurningGyroZDegS:  15.0,
		ThrottleEcoPct:    35.0,
		ThrottleHardPct:   70.0,
		BrakeActivePct:    10.0,
		CoastingInputPct:  5.0,
		EfficiencyWindowS: 10.0,
		QualityOutlierCost: map[domain.OutlierSeverity]float64{
			domain.SeverityLow:    5,
			domain.SeverityMedium: 15,
			domain.SeverityHigh:   30,
		},
	}
}

type effSample struct {
	t        float64 // unix seconds
	energy   float64
	distance float64
}

// State carries everything the calculator needs from earlier records of
// the same session: the previous record and the trailing efficiency
// window. It is owned by the pipeline and reset wholesale on session
// switch; nothing here is package-level.
type State struct {
	sessionID string
	prev      *domain.TelemetryRecord
	effWindow []effSample
}

func NewState(sessionID string) *State {
	return &State{sessionID: sessionID}
}

func (s *State) Reset(sessionID string) {
	s.sessionID = sessionID
	s.prev = nil
	s.effWindow = s.effWindow[:0]
}

func (s *State) SessionID() string { return s.sessionID }

type Calculator struct {
	cfg Thresholds
}

func NewCalculator(cfg Thresholds) *Calculator {
	if cfg.EfficiencyWindowS <= 0 {
		cfg = DefaultThresholds()
	}
	return &Calculator{cfg: cfg}
}

// Enrich fills the derived fields of rec given the session state, then
// advances the state. Raw fields are never touched. Quality scoring is
// separate (ScoreQuality) because it depends on outlier annotations
// produced downstream.
func (c *Calculator) Enrich(rec *domain.TelemetryRecord, st *State) {
	if st.sessionID != rec.SessionID {
		st.Reset(rec.SessionID)
	}

	kmh := rec.SpeedMS * 3.6
	rec.SpeedKmh = &kmh

	g := math.Sqrt(rec.AccelX*rec.AccelX+rec.AccelY*rec.AccelY+(rec.AccelZ-gravity)*(rec.AccelZ-gravity)) / gravity
	rec.GForce = &g

	rec.MotionState = c.motionState(rec, st.prev)
	rec.DriverMode = c.driverMode(rec)
	rec.RollingEfficiency = c.rollingEfficiency(rec, st)

	st.prev = rec
}

func (c *Calculator) motionState(rec, prev *domain.TelemetryRecord) domain.MotionState {
	if rec.SpeedMS < c.cfg.StationarySpeedMS {
		return domain.MotionStationary
	}
	if math.Abs(rec.GyroZ) > c.cfg.TurningGyroZDegS {
		return domain.MotionTurning
	}
	if prev != nil {
		delta := rec.SpeedMS - prev.SpeedMS
		if delta > c.cfg.SpeedDeltaAccelMS {
			return domain.MotionAccelerating
		}
		if delta < -c.cfg.SpeedDeltaBrakeMS {
			return domain.MotionBraking
		}
	}
	return domain.MotionCruising
}

func (c *Calculator) driverMode(rec *domain.TelemetryRecord) domain.DriverMode {
	switch {
	case rec.BrakePct > c.cfg.BrakeActivePct:
		return domain.ModeBraking
	case rec.ThrottlePct < c.cfg.CoastingInputPct &&
		rec.BrakePct < c.cfg.CoastingInputPct &&
		rec.SpeedMS >= c.cfg.StationarySpeedMS:
		return domain.ModeCoasting
	case rec.ThrottlePct > c.cfg.ThrottleHardPct:
		return domain.ModeAggressive
	case rec.ThrottlePct < c.cfg.ThrottleEcoPct:
		return domain.ModeEco
	default:
		return domain.ModeNormal
	}
}

// rollingEfficiency is distance covered over the trailing window divided
// by energy consumed over the same window, in m/J. Returns nil while the
// window is empty or the energy delta is zero; never Inf.
func (c *Calculator) rollingEfficiency(rec *domain.TelemetryRecord, st *State) *float64 {
	now := float64(rec.Timestamp.UnixNano()) / 1e9
	st.effWindow = append(st.effWindow, effSample{t: now, energy: rec.EnergyJ, distance: rec.DistanceM})

	cutoff := now - c.cfg.EfficiencyWindowS
	i := 0
	for i < len(st.effWindow)-1 && st.effWindow[i].t < cutoff {
		i++
	}
	if i > 0 {
		st.effWindow = append(st.effWindow[:0:0], st.effWindow[i:]...)
	}
	if len(st.effWindow) < 2 {
		return nil
	}

	first, last := st.effWindow[0], st.effWindow[len(st.effWindow)-1]
	dEnergy := last.energy - first.energy
	if dEnergy <= 0 {
		return nil
	}
	eff := (last.distance - first.distance) / dEnergy
	return &eff
}

// ScoreQuality aggregates completeness and outlier penalties into a
// 0-100 score. Called after outlier detection has annotated the record.
func (c *Calculator) ScoreQuality(rec *domain.TelemetryRecord) {
	score := 100.0

	// Completeness: a sample with no electrical and no speed signal is
	// close to useless for analytics.
	missing := 0
	if rec.VoltageV == 0 && rec.CurrentA == 0 {
		missing++
	}
	if rec.SpeedMS == 0 && rec.DistanceM == 0 {
		missing++
	}
	if rec.Latitude == 0 && rec.Longitude == 0 {
		missing++
	}
	score -= float64(missing) * 10

	if cost, ok := c.cfg.QualityOutlierCost[rec.OutlierSeverity]; ok {
		score -= cost
	}
	score -= float64(len(rec.Outliers)) * 2

	if score < 0 {
		score = 0
	}
	rec.QualityScore = &score
}
