package pipeline

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"ev-telemetry/processing/internal/buffer"
	"ev-telemetry/processing/internal/domain"
	"ev-telemetry/processing/internal/enrich"
	"ev-telemetry/processing/internal/metrics"
	"ev-telemetry/processing/internal/outlier"
)

// wireMessage is the inbound pub/sub payload. Optional numeric fields
// are pointers so the boundary can tell "absent" from zero; after
// normalization the rest of the system works with the strongly-typed
// record only.
type wireMessage struct {
	Timestamp   string   `json:"timestamp"`
	SessionID   string   `json:"session_id"`
	SessionName string   `json:"session_name"`
	MessageID   int64    `json:"message_id"`
	DataSource  string   `json:"data_source"`
	SpeedMS     *float64 `json:"speed_ms"`
	VoltageV    *float64 `json:"voltage_v"`
	CurrentA    *float64 `json:"current_a"`
	PowerW      *float64 `json:"power_w"`
	EnergyJ     *float64 `json:"energy_j"`
	DistanceM   *float64 `json:"distance_m"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	Altitude    *float64 `json:"altitude"`
	GyroX       *float64 `json:"gyro_x"`
	GyroY       *float64 `json:"gyro_y"`
	GyroZ       *float64 `json:"gyro_z"`
	AccelX      *float64 `json:"accel_x"`
	AccelY      *float64 `json:"accel_y"`
	AccelZ      *float64 `json:"accel_z"`
	ThrottlePct *float64 `json:"throttle_pct"`
	BrakePct    *float64 `json:"brake_pct"`
	Throttle    *float64 `json:"throttle"`
	Brake       *float64 `json:"brake"`
	UptimeSec   *float64 `json:"uptime_seconds"`
}

// SessionFetcher is the slice of the persistence collaborator the
// processor needs for historical loads.
type SessionFetcher interface {
	FetchSessionRecords(ctx context.Context, sessionID string, limit, pageSize int) ([]*domain.TelemetryRecord, error)
}

// Processor is the single-writer ingest path: parse, normalize, enrich,
// detect, buffer, dispatch. All rolling-window state lives here and is
// reset together with any session switch. The mutex serialises the two
// mutation entry points (live submit, historical load); analytics reads
// never take it.
type Processor struct {
	mu         sync.Mutex
	buf        *buffer.Buffer
	calc       *enrich.Calculator
	state      *enrich.State
	detector   *outlier.Detector
	dispatcher *Dispatcher
	fetcher    SessionFetcher

	parseErrors int64
}

func NewProcessor(
	buf *buffer.Buffer,
	calc *enrich.Calculator,
	detector *outlier.Detector,
	dispatcher *Dispatcher,
	fetcher SessionFetcher,
) *Processor {
	return &Processor{
		buf:        buf,
		calc:       calc,
		state:      enrich.NewState(""),
		detector:   detector,
		dispatcher: dispatcher,
		fetcher:    fetcher,
	}
}

// Run consumes raw payloads until the channel closes or ctx is
// cancelled. Malformed payloads are skipped and counted, never fatal.
func (p *Processor) Run(ctx context.Context, raw <-chan []byte) {
	for {
		select {
		case payload, ok := <-raw:
			if !ok {
				return
			}
			metrics.MessagesReceived.Inc()
			p.process(payload)

		case <-ctx.Done():
			return
		}
	}
}

func (p *Processor) process(payload []byte) {
	start := time.Now()

	rec, err := p.Normalize(payload)
	if err != nil {
		p.mu.Lock()
		p.parseErrors++
		p.mu.Unlock()
		metrics.ValidationErrors.WithLabelValues("malformed").Inc()
		return
	}

	if err := p.Submit(rec); err != nil {
		return
	}
	metrics.IngestDuration.Observe(time.Since(start).Seconds())
}

// Submit runs one already-parsed record through enrichment, detection
// and buffering, then dispatches it.
func (p *Processor) Submit(rec *domain.TelemetryRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	active := p.buf.SessionID()

	// Binary frames carry no session id; they belong to the active
	// session.
	if rec.SessionID == "" {
		if active == "" {
			metrics.ValidationErrors.WithLabelValues("rejected").Inc()
			return fmt.Errorf("unattributed record with no active session: %w", domain.ErrSessionMismatch)
		}
		rec.SessionID = active
	}

	// A stray record for another session, or one without a usable
	// timestamp, is rejected before it can touch the rolling state:
	// switching sessions happens only through a historical load or an
	// empty buffer, never as a side effect of a rejected record.
	if rec.Timestamp.IsZero() || (active != "" && rec.SessionID != active) {
		_, err := p.buf.Ingest([]*domain.TelemetryRecord{rec})
		metrics.ValidationErrors.WithLabelValues("rejected").Inc()
		return err
	}

	if rec.SessionID != p.state.SessionID() {
		p.state.Reset(rec.SessionID)
		p.detector.Reset()
	}

	p.calc.Enrich(rec, p.state)
	p.detector.Detect(rec)
	p.calc.ScoreQuality(rec)

	if _, err := p.buf.Ingest([]*domain.TelemetryRecord{rec}); err != nil {
		metrics.ValidationErrors.WithLabelValues("rejected").Inc()
		return err
	}
	metrics.BufferSize.Set(float64(p.buf.Len()))
	if rec.OutlierSeverity != domain.SeverityNone {
		metrics.OutliersDetected.WithLabelValues(string(rec.OutlierSeverity)).Inc()
	}

	p.dispatcher.Dispatch(rec)
	return nil
}

// LoadHistorical replaces the live buffer with one session's history
// and replays enrichment and detection over it from a clean state.
func (p *Processor) LoadHistorical(ctx context.Context, sessionID string, limit int) (int, error) {
	if p.fetcher == nil {
		return 0, fmt.Errorf("no session store configured")
	}

	records, err := p.fetcher.FetchSessionRecords(ctx, sessionID, limit, 1000)
	if err != nil {
		return 0, fmt.Errorf("historical load for %s: %w", sessionID, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.state.Reset(sessionID)
	p.detector.Reset()
	for _, rec := range records {
		p.calc.Enrich(rec, p.state)
		p.detector.Detect(rec)
		p.calc.ScoreQuality(rec)
	}

	inserted, err := p.buf.ReplaceAll(sessionID, records)
	if err != nil {
		log.Printf("historical load for %s: %v", sessionID, err)
	}
	metrics.BufferSize.Set(float64(p.buf.Len()))
	return inserted, nil
}

// ParseErrors reports payloads that never became records.
func (p *Processor) ParseErrors() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.parseErrors
}

// DetectorStats exposes the running detection counters.
func (p *Processor) DetectorStats() outlier.Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.detector.Stats()
}

// Normalize parses and validates one wire payload into a record,
// applying the boundary rules once so no consumer has to re-check:
// NaN/Inf scrubbed to zero, power backfilled from V·I, throttle and
// brake synced between percent and fraction forms.
func (p *Processor) Normalize(payload []byte) (*domain.TelemetryRecord, error) {
	var msg wireMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		if rec, ok := parseBinaryFrame(payload); ok {
			return rec, nil
		}
		return nil, fmt.Errorf("unparseable payload: %w", err)
	}

	// A message with none of the core signals is noise.
	if msg.SpeedMS == nil && msg.VoltageV == nil && msg.CurrentA == nil {
		return nil, fmt.Errorf("no core telemetry fields present")
	}

	ts, err := parseTimestamp(msg.Timestamp)
	if err != nil {
		return nil, err
	}

	rec := &domain.TelemetryRecord{
		ReceivedAt:  time.Now().UTC(),
		Timestamp:   ts,
		SessionID:   msg.SessionID,
		SessionName: msg.SessionName,
		MessageID:   msg.MessageID,
		DataSource:  msg.DataSource,
		SpeedMS:     scrub(msg.SpeedMS),
		VoltageV:    scrub(msg.VoltageV),
		CurrentA:    scrub(msg.CurrentA),
		PowerW:      scrub(msg.PowerW),
		EnergyJ:     scrub(msg.EnergyJ),
		DistanceM:   scrub(msg.DistanceM),
		Latitude:    scrub(msg.Latitude),
		Longitude:   scrub(msg.Longitude),
		Altitude:    scrub(msg.Altitude),
		GyroX:       scrub(msg.GyroX),
		GyroY:       scrub(msg.GyroY),
		GyroZ:       scrub(msg.GyroZ),
		AccelX:      scrub(msg.AccelX),
		AccelY:      scrub(msg.AccelY),
		AccelZ:      scrub(msg.AccelZ),
		ThrottlePct: scrub(msg.ThrottlePct),
		BrakePct:    scrub(msg.BrakePct),
		UptimeSec:   scrub(msg.UptimeSec),
	}

	if rec.PowerW == 0 {
		rec.PowerW = rec.VoltageV * rec.CurrentA
	}
	if rec.ThrottlePct == 0 && msg.Throttle != nil {
		rec.ThrottlePct = clamp01(scrub(msg.Throttle)) * 100
	}
	if rec.BrakePct == 0 && msg.Brake != nil {
		rec.BrakePct = clamp01(scrub(msg.Brake)) * 100
	}
	return rec, nil
}

// binaryFrameSize is the packed ESP32 frame: six little-endian float32
// values (speed_ms, voltage_v, current_a, latitude, longitude,
// altitude) followed by a uint32 message id.
const binaryFrameSize = 28

// parseBinaryFrame decodes the firmware's compact wire format. The
// frame carries no timestamp or session id: it is stamped with the
// arrival time here and attributed to the active session on submit.
func parseBinaryFrame(payload []byte) (*domain.TelemetryRecord, bool) {
	if len(payload) != binaryFrameSize {
		return nil, false
	}

	f32 := func(off int) float64 {
		v := float64(math.Float32frombits(binary.LittleEndian.Uint32(payload[off:])))
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0
		}
		return v
	}

	now := time.Now().UTC()
	rec := &domain.TelemetryRecord{
		ReceivedAt: now,
		Timestamp:  now,
		DataSource: "ESP32_REAL",
		SpeedMS:    f32(0),
		VoltageV:   f32(4),
		CurrentA:   f32(8),
		Latitude:   f32(12),
		Longitude:  f32(16),
		Altitude:   f32(20),
		MessageID:  int64(binary.LittleEndian.Uint32(payload[24:])),
	}
	rec.PowerW = rec.VoltageV * rec.CurrentA
	return rec, true
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, domain.ErrInvalidTimestamp
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", domain.ErrInvalidTimestamp, s)
}

func scrub(v *float64) float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return 0
	}
	return *v
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
