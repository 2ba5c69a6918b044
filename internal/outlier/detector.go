package outlier

import (
	"math"

	"ev-telemetry/processing/internal/domain"
)

// Config holds the detection thresholds. The static bounds are physical
// limits of the vehicle's electrical system and sensors; the dynamic
// thresholds were tuned against recorded sessions and are deliberately
// lenient to keep the false-positive rate down.
type Config struct {
	WindowSize      int
	ZScoreThreshold float64

	VoltageMin float64
	VoltageMax float64
	CurrentMin float64
	CurrentMax float64
	PowerMin   float64
	PowerMax   float64

	ElectricalJumpPct float64
	StuckSensorCount  int

	AccelMagnitudeMax float64
	GyroRateMax       float64

	AltitudeMin          float64
	AltitudeMax          float64
	GPSSpeedRatioMax     float64
	GPSImpossibleSpeedMS float64
	AltitudeRateMax      float64

	SpeedMaxMS           float64
	SpeedImpossibleAccel float64

	EnergyJumpMaxJ   float64
	DistanceJumpMaxM float64

	SampleIntervalSec float64
}

func DefaultConfig() Config {
	return Config{
		WindowSize:           50,
		ZScoreThreshold:      5.0,
		VoltageMin:           35.0,
		VoltageMax:           60.0,
		CurrentMin:           -10.0,
		CurrentMax:           35.0,
		PowerMin:             -500.0,
		PowerMax:             2500.0,
		ElectricalJumpPct:    0.50,
		StuckSensorCount:     15,
		AccelMagnitudeMax:    80.0,
		GyroRateMax:          1000.0,
		AltitudeMin:          -500.0,
		AltitudeMax:          10000.0,
		GPSSpeedRatioMax:     20.0,
		GPSImpossibleSpeedMS: 500.0,
		AltitudeRateMax:      50.0,
		SpeedMaxMS:           50.0,
		SpeedImpossibleAccel: 50.0,
		EnergyJumpMaxJ:       50000.0,
		DistanceJumpMaxM:     100.0,
		SampleIntervalSec:    0.2,
	}
}

// rollingFields are the raw fields tracked with rolling windows.
var rollingFields = []string{
	"voltage_v", "current_a", "power_w",
	"gyro_x", "gyro_y", "gyro_z",
	"accel_x", "accel_y", "accel_z",
	"speed_ms",
}

// criticalFields carry extra weight in the severity roll-up.
var criticalFields = map[string]bool{
	"voltage_v": true,
	"current_a": true,
	"power_w":   true,
}

type gpsPoint struct {
	lat, lon, alt float64
	unixSec       float64
}

// Stats is a snapshot of detection counters.
type Stats struct {
	TotalRecords   int64            `json:"total_records"`
	FlaggedRecords int64            `json:"flagged_records"`
	BySeverity     map[string]int64 `json:"by_severity"`
	ByField        map[string]int64 `json:"by_field"`
}

// Detector annotates records with outlier flags. All state is scoped to
// one session; Reset must be called together with any session switch or
// historical reload. The detector is purely additive: it never mutates
// or drops a raw value.
type Detector struct {
	cfg Config

	windows      map[string]*RollingStats
	stuckStreaks map[string]int
	lastValues   map[string]float64

	prevGPS      *gpsPoint
	lastEnergy   *float64
	lastDistance *float64

	stats Stats
}

func NewDetector(cfg Config) *Detector {
	if cfg.WindowSize <= 0 {
		cfg = DefaultConfig()
	}
	d := &Detector{cfg: cfg}
	d.Reset()
	return d
}

func (d *Detector) Reset() {
	d.windows = make(map[string]*RollingStats, len(rollingFields))
	for _, f := range rollingFields {
		d.windows[f] = NewRollingStats(d.cfg.WindowSize)
	}
	d.stuckStreaks = make(map[string]int)
	d.lastValues = make(map[string]float64)
	d.prevGPS = nil
	d.lastEnergy = nil
	d.lastDistance = nil
	d.stats = Stats{
		BySeverity: map[string]int64{},
		ByField:    map[string]int64{},
	}
}

func (d *Detector) Stats() Stats {
	out := Stats{
		TotalRecords:   d.stats.TotalRecords,
		FlaggedRecords: d.stats.FlaggedRecords,
		BySeverity:     make(map[string]int64, len(d.stats.BySeverity)),
		ByField:        make(map[string]int64, len(d.stats.ByField)),
	}
	for k, v := range d.stats.BySeverity {
		out.BySeverity[k] = v
	}
	for k, v := range d.stats.ByField {
		out.ByField[k] = v
	}
	return out
}

// Detect runs all checks against rec, writes the annotations into
// rec.Outliers / rec.OutlierSeverity and advances the rolling windows.
func (d *Detector) Detect(rec *domain.TelemetryRecord) {
	d.detectElectrical(rec)
	d.detectIMU(rec)
	d.detectGPS(rec)
	d.detectSpeed(rec)
	d.detectCumulative(rec)
	d.detectStuckSensors(rec)

	d.updateWindows(rec)

	rec.OutlierSeverity = d.rollUpSeverity(rec)

	d.stats.TotalRecords++
	if len(rec.Outliers) > 0 {
		d.stats.FlaggedRecords++
		d.stats.BySeverity[string(rec.OutlierSeverity)]++
		for f := range rec.Outliers {
			d.stats.ByField[f]++
		}
	}
}

func (d *Detector) rollUpSeverity(rec *domain.TelemetryRecord) domain.OutlierSeverity {
	if len(rec.Outliers) == 0 {
		return domain.SeverityNone
	}
	for f := range rec.Outliers {
		if criticalFields[f] {
			return domain.SeverityHigh
		}
	}
	if len(rec.Outliers) >= 3 {
		return domain.SeverityMedium
	}
	for _, o := range rec.Outliers {
		if o.Confidence > 0.9 {
			return domain.SeverityMedium
		}
	}
	return domain.SeverityLow
}

func (d *Detector) detectElectrical(rec *domain.TelemetryRecord) {
	cfg := d.cfg

	v := rec.VoltageV
	w := d.windows["voltage_v"]
	if v < cfg.VoltageMin || v > cfg.VoltageMax {
		rec.Flag("voltage_v", domain.ReasonAbsoluteBound, 1.0)
	} else if w.Count() >= 10 {
		mean := w.Mean()
		if z := math.Abs(w.ZScore(v)); z > cfg.ZScoreThreshold {
			rec.Flag("voltage_v", domain.ReasonZScoreExceeded, math.Min(1.0, z/(cfg.ZScoreThreshold*2)))
		}
		if mean > 0 && math.Abs(v-mean)/mean > cfg.ElectricalJumpPct {
			rec.Flag("voltage_v", domain.ReasonSuddenJump, 0.7)
		}
	}

	c := rec.CurrentA
	w = d.windows["current_a"]
	if c < cfg.CurrentMin || c > cfg.CurrentMax {
		rec.Flag("current_a", domain.ReasonAbsoluteBound, 1.0)
	} else if w.Count() >= 10 {
		if z := math.Abs(w.ZScore(c)); z > cfg.ZScoreThreshold {
			rec.Flag("current_a", domain.ReasonZScoreExceeded, math.Min(1.0, z/(cfg.ZScoreThreshold*2)))
		}
	}

	if rec.PowerW < cfg.PowerMin || rec.PowerW > cfg.PowerMax {
		rec.Flag("power_w", domain.ReasonAbsoluteBound, 1.0)
	}
}

func (d *Detector) detectIMU(rec *domain.TelemetryRecord) {
	cfg := d.cfg

	magnitude := math.Sqrt(rec.AccelX*rec.AccelX + rec.AccelY*rec.AccelY + rec.AccelZ*rec.AccelZ)
	if magnitude > cfg.AccelMagnitudeMax {
		// Flag the dominant axis.
		field, val := "accel_x", math.Abs(rec.AccelX)
		if math.Abs(rec.AccelY) > val {
			field, val = "accel_y", math.Abs(rec.AccelY)
		}
		if math.Abs(rec.AccelZ) > val {
			field = "accel_z"
		}
		rec.Flag(field, domain.ReasonMagnitudeExceeded, math.Min(1.0, magnitude/cfg.AccelMagnitudeMax))
	}

	for field, v := range map[string]float64{"gyro_x": rec.GyroX, "gyro_y": rec.GyroY, "gyro_z": rec.GyroZ} {
		if last, ok := d.windows[field].Last(); ok {
			if rate := math.Abs(v - last); rate > cfg.GyroRateMax {
				rec.Flag(field, domain.ReasonRateOfChange, math.Min(1.0, rate/(cfg.GyroRateMax*2)))
			}
		}
	}

	// Stationary cross-check: near-zero speed with large rotation.
	if rec.SpeedMS < 0.5 {
		gyroMag := math.Sqrt(rec.GyroX*rec.GyroX + rec.GyroY*rec.GyroY + rec.GyroZ*rec.GyroZ)
		if gyroMag > 10 {
			rec.Flag("gyro_z", domain.ReasonCrossValidation, 0.6)
		}
	}
}

func (d *Detector) detectGPS(rec *domain.TelemetryRecord) {
	cfg := d.cfg
	lat, lon, alt := rec.Latitude, rec.Longitude, rec.Altitude

	if lat < -90 || lat > 90 {
		rec.Flag("latitude", domain.ReasonAbsoluteBound, 1.0)
	}
	if lon < -180 || lon > 180 {
		rec.Flag("longitude", domain.ReasonAbsoluteBound, 1.0)
	}
	if alt < cfg.AltitudeMin || alt > cfg.AltitudeMax {
		rec.Flag("altitude", domain.ReasonAbsoluteBound, 1.0)
	}

	now := float64(rec.Timestamp.UnixNano()) / 1e9
	if prev := d.prevGPS; prev != nil {
		dt := now - prev.unixSec
		if dt <= 0 {
			dt = cfg.SampleIntervalSec
		}

		// Equirectangular approximation is fine at per-sample scale.
		dlat := lat - prev.lat
		dlon := lon - prev.lon
		distM := math.Sqrt((dlat*111000)*(dlat*111000) + (dlon*78000)*(dlon*78000))

		if expected := rec.SpeedMS * dt; expected > 0 {
			if ratio := distM / expected; ratio > cfg.GPSSpeedRatioMax {
				rec.Flag("latitude", domain.ReasonGPSSpeedMismatch, math.Min(1.0, ratio/(cfg.GPSSpeedRatioMax*2)))
			}
		}

		if implied := distM / dt; implied > cfg.GPSImpossibleSpeedMS {
			rec.Flag("latitude", domain.ReasonImpossibleSpeed, math.Min(1.0, implied/(cfg.GPSImpossibleSpeedMS*2)))
		}

		if change := math.Abs(alt - prev.alt); change > cfg.AltitudeRateMax {
			rec.Flag("altitude", domain.ReasonAltitudeRate, math.Min(1.0, change/(cfg.AltitudeRateMax*2)))
		}
	}
	d.prevGPS = &gpsPoint{lat: lat, lon: lon, alt: alt, unixSec: now}
}

func (d *Detector) detectSpeed(rec *domain.TelemetryRecord) {
	cfg := d.cfg
	speed := rec.SpeedMS

	if speed < 0 {
		rec.Flag("speed_ms", domain.ReasonNegativeValue, 1.0)
		return
	}
	if speed > cfg.SpeedMaxMS {
		rec.Flag("speed_ms", domain.ReasonAbsoluteBound, math.Min(1.0, speed/(cfg.SpeedMaxMS*1.5)))
		return
	}

	if last, ok := d.windows["speed_ms"].Last(); ok {
		accel := math.Abs(speed-last) / cfg.SampleIntervalSec
		if accel > cfg.SpeedImpossibleAccel {
			rec.Flag("speed_ms", domain.ReasonRateOfChange, math.Min(1.0, accel/(cfg.SpeedImpossibleAccel*2)))
		}
	}
}

// detectCumulative flags monotonicity violations on the energy and
// distance counters. Values are retained as-is; correction is not our
// job.
func (d *Detector) detectCumulative(rec *domain.TelemetryRecord) {
	if d.lastEnergy != nil {
		switch {
		case rec.EnergyJ < *d.lastEnergy:
			rec.Flag("energy_j", domain.ReasonNonMonotonic, 1.0)
		case rec.EnergyJ-*d.lastEnergy > d.cfg.EnergyJumpMaxJ:
			rec.Flag("energy_j", domain.ReasonImplausibleIncrease, 0.8)
		}
	}
	e := rec.EnergyJ
	d.lastEnergy = &e

	if d.lastDistance != nil {
		switch {
		case rec.DistanceM < *d.lastDistance:
			rec.Flag("distance_m", domain.ReasonNonMonotonic, 1.0)
		case rec.DistanceM-*d.lastDistance > d.cfg.DistanceJumpMaxM:
			rec.Flag("distance_m", domain.ReasonImplausibleIncrease, 0.8)
		}
	}
	m := rec.DistanceM
	d.lastDistance = &m
}

func (d *Detector) detectStuckSensors(rec *domain.TelemetryRecord) {
	cfg := d.cfg
	for field, v := range d.fieldValues(rec) {
		if last, seen := d.lastValues[field]; seen && last == v {
			d.stuckStreaks[field]++
		} else {
			d.stuckStreaks[field] = 1
		}
		d.lastValues[field] = v

		if d.stuckStreaks[field] >= cfg.StuckSensorCount {
			rec.Flag(field, domain.ReasonStuckSensor,
				math.Min(1.0, float64(d.stuckStreaks[field])/float64(cfg.StuckSensorCount*2)))
		}
	}
}

func (d *Detector) fieldValues(rec *domain.TelemetryRecord) map[string]float64 {
	return map[string]float64{
		"voltage_v": rec.VoltageV,
		"current_a": rec.CurrentA,
		"power_w":   rec.PowerW,
		"gyro_x":    rec.GyroX,
		"gyro_y":    rec.GyroY,
		"gyro_z":    rec.GyroZ,
		"accel_x":   rec.AccelX,
		"accel_y":   rec.AccelY,
		"accel_z":   rec.AccelZ,
		"speed_ms":  rec.SpeedMS,
	}
}

func (d *Detector) updateWindows(rec *domain.TelemetryRecord) {
	for field, v := range d.fieldValues(rec) {
		d.windows[field].Add(v)
	}
}
