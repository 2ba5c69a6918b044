package domain

import (
	"errors"
	"time"
)

var (
	ErrSessionMismatch  = errors.New("record belongs to a different session")
	ErrInvalidTimestamp = errors.New("record timestamp is missing or unparseable")
	ErrInsufficientData = errors.New("not enough records for analysis")
)

// MotionState classifies vehicle behaviour from speed and its rate of change.
type MotionState string

const (
	MotionStationary   MotionState = "stationary"
	MotionCruising     MotionState = "cruising"
	MotionAccelerating MotionState = "accelerating"
	MotionBraking      MotionState = "braking"
	MotionTurning      MotionState = "turning"
)

// DriverMode classifies driver input style from throttle, brake and speed.
type DriverMode string

const (
	ModeEco        DriverMode = "eco"
	ModeNormal     DriverMode = "normal"
	ModeAggressive DriverMode = "aggressive"
	ModeCoasting   DriverMode = "coasting"
	ModeBraking    DriverMode = "braking"
)

type OutlierSeverity string

const (
	SeverityNone   OutlierSeverity = "none"
	SeverityLow    OutlierSeverity = "low"
	SeverityMedium OutlierSeverity = "medium"
	SeverityHigh   OutlierSeverity = "high"
)

type OutlierReason string

const (
	ReasonZScoreExceeded      OutlierReason = "z_score_exceeded"
	ReasonAbsoluteBound       OutlierReason = "absolute_bound"
	ReasonSuddenJump          OutlierReason = "sudden_jump"
	ReasonStuckSensor         OutlierReason = "stuck_sensor"
	ReasonMagnitudeExceeded   OutlierReason = "magnitude_exceeded"
	ReasonRateOfChange        OutlierReason = "rate_of_change"
	ReasonCrossValidation     OutlierReason = "cross_validation_failed"
	ReasonGPSSpeedMismatch    OutlierReason = "gps_speed_mismatch"
	ReasonImpossibleSpeed     OutlierReason = "impossible_speed"
	ReasonAltitudeRate        OutlierReason = "altitude_rate"
	ReasonNegativeValue       OutlierReason = "negative_value"
	ReasonNonMonotonic        OutlierReason = "non_monotonic"
	ReasonImplausibleIncrease OutlierReason = "implausible_increase"
)

// FieldOutlier annotates a single raw field flagged by the detector.
type FieldOutlier struct {
	Reason     OutlierReason `json:"reason"`
	Confidence float64       `json:"confidence"`
}

// TelemetryRecord is one sensor sample. Raw fields are set once at
// ingestion and never modified afterwards; derived fields stay nil until
// the enrichment pass fills them in.
type TelemetryRecord struct {
	ReceivedAt time.Time `json:"-"`

	Timestamp   time.Time `json:"timestamp"`
	SessionID   string    `json:"session_id"`
	SessionName string    `json:"session_name,omitempty"`
	MessageID   int64     `json:"message_id"`
	DataSource  string    `json:"data_source,omitempty"`

	// Raw sensor fields
	SpeedMS     float64 `json:"speed_ms"`
	VoltageV    float64 `json:"voltage_v"`
	CurrentA    float64 `json:"current_a"`
	PowerW      float64 `json:"power_w"`
	EnergyJ     float64 `json:"energy_j"`
	DistanceM   float64 `json:"distance_m"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Altitude    float64 `json:"altitude"`
	GyroX       float64 `json:"gyro_x"`
	GyroY       float64 `json:"gyro_y"`
	GyroZ       float64 `json:"gyro_z"`
	AccelX      float64 `json:"accel_x"`
	AccelY      float64 `json:"accel_y"`
	AccelZ      float64 `json:"accel_z"`
	ThrottlePct float64 `json:"throttle_pct"`
	BrakePct    float64 `json:"brake_pct"`
	UptimeSec   float64 `json:"uptime_seconds,omitempty"`

	// Derived fields, nil until computed
	SpeedKmh          *float64    `json:"speed_kmh,omitempty"`
	GForce            *float64    `json:"g_force,omitempty"`
	MotionState       MotionState `json:"motion_state,omitempty"`
	DriverMode        DriverMode  `json:"driver_mode,omitempty"`
	RollingEfficiency *float64    `json:"rolling_efficiency,omitempty"`
	QualityScore      *float64    `json:"quality_score,omitempty"`

	Outliers        map[string]FieldOutlier `json:"outliers,omitempty"`
	OutlierSeverity OutlierSeverity         `json:"outlier_severity,omitempty"`
}

// Flag records an outlier annotation. The first reason recorded for a
// field wins; later checks never overwrite it.
func (r *TelemetryRecord) Flag(field string, reason OutlierReason, confidence float64) {
	if r.Outliers == nil {
		r.Outliers = make(map[string]FieldOutlier)
	}
	if _, exists := r.Outliers[field]; exists {
		return
	}
	r.Outliers[field] = FieldOutlier{Reason: reason, Confidence: confidence}
}

// Session is derived purely from the record stream; it is never created
// or persisted independently by this service.
type Session struct {
	SessionID   string    `json:"session_id"`
	SessionName string    `json:"session_name,omitempty"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	RecordCount int       `json:"record_count"`
}

// Segment is a maximal run of consecutive samples sharing one motion
// state. Segments are recomputed on every analysis request.
type Segment struct {
	StartTime   time.Time   `json:"start_time"`
	EndTime     time.Time   `json:"end_time"`
	MotionState MotionState `json:"motion_state"`
	Samples     int         `json:"samples"`
}

// Lap is one stop-to-stop cycle with aggregated stats.
type Lap struct {
	Number       int       `json:"number"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	DurationSec  float64   `json:"duration_sec"`
	AvgSpeedMS   float64   `json:"avg_speed_ms"`
	PeakSpeedMS  float64   `json:"peak_speed_ms"`
	EnergyJ      float64   `json:"energy_j"`
	DistanceM    float64   `json:"distance_m"`
	EfficiencyMJ float64   `json:"efficiency_m_per_j"`
}
