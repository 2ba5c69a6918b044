package pipeline

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ev-telemetry/processing/internal/buffer"
	"ev-telemetry/processing/internal/domain"
	"ev-telemetry/processing/internal/enrich"
	"ev-telemetry/processing/internal/outlier"
)

func newTestProcessor(fetcher SessionFetcher) *Processor {
	return NewProcessor(
		buffer.New(1000),
		enrich.NewCalculator(enrich.DefaultThresholds()),
		outlier.NewDetector(outlier.DefaultConfig()),
		NewDispatcher(16, 16, 16),
		fetcher,
	)
}

func payload(session string, i int, extra string) []byte {
	ts := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC).
		Add(time.Duration(i) * 200 * time.Millisecond).
		Format(time.RFC3339Nano)
	s := fmt.Sprintf(`{"timestamp":%q,"session_id":%q,"message_id":%d,"speed_ms":5.0,"voltage_v":48.0,"current_a":8.0%s}`,
		ts, session, i, extra)
	return []byte(s)
}

func TestNormalizeHappyPath(t *testing.T) {
	p := newTestProcessor(nil)

	rec, err := p.Normalize(payload("s1", 1, `,"power_w":384.0,"throttle_pct":40.0`))
	require.NoError(t, err)
	assert.Equal(t, "s1", rec.SessionID)
	assert.Equal(t, 5.0, rec.SpeedMS)
	assert.Equal(t, 384.0, rec.PowerW)
	assert.Equal(t, 40.0, rec.ThrottlePct)
	assert.False(t, rec.Timestamp.IsZero())
}

func TestNormalizeBackfillsPower(t *testing.T) {
	p := newTestProcessor(nil)

	rec, err := p.Normalize(payload("s1", 1, ""))
	require.NoError(t, err)
	assert.InDelta(t, 384.0, rec.PowerW, 1e-9)
}

func TestNormalizeFractionInputs(t *testing.T) {
	p := newTestProcessor(nil)

	rec, err := p.Normalize(payload("s1", 1, `,"throttle":0.45,"brake":0.1`))
	require.NoError(t, err)
	assert.InDelta(t, 45.0, rec.ThrottlePct, 1e-9)
	assert.InDelta(t, 10.0, rec.BrakePct, 1e-9)

	// Explicit percent fields win over the fraction aliases.
	rec, err = p.Normalize(payload("s1", 2, `,"throttle_pct":70.0,"throttle":0.2`))
	require.NoError(t, err)
	assert.InDelta(t, 70.0, rec.ThrottlePct, 1e-9)
}

func TestNormalizeRejectsMalformed(t *testing.T) {
	p := newTestProcessor(nil)

	cases := []struct {
		name    string
		payload string
	}{
		{"not json", `{{{`},
		{"no core fields", `{"timestamp":"2026-03-14T10:00:00Z","session_id":"s1","latitude":12.9}`},
		{"missing timestamp", `{"session_id":"s1","speed_ms":5.0}`},
		{"bad timestamp", `{"timestamp":"yesterday","session_id":"s1","speed_ms":5.0}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.Normalize([]byte(tc.payload))
			assert.Error(t, err)
		})
	}
}

func TestNormalizeScrubsNonFinite(t *testing.T) {
	p := newTestProcessor(nil)

	// JSON cannot carry NaN/Inf literals; the scrub applies to absent
	// optional fields, which must come out as plain zeros.
	rec, err := p.Normalize(payload("s1", 1, ""))
	require.NoError(t, err)
	assert.Equal(t, 0.0, rec.Latitude)
	assert.Equal(t, 0.0, rec.GyroZ)
	assert.Equal(t, 0.0, rec.UptimeSec)
}

func TestSubmitEnrichesAndBuffers(t *testing.T) {
	p := newTestProcessor(nil)

	rec, err := p.Normalize(payload("s1", 1, ""))
	require.NoError(t, err)
	require.NoError(t, p.Submit(rec))

	snap := p.buf.Snapshot()
	require.Len(t, snap, 1)
	require.NotNil(t, snap[0].SpeedKmh)
	assert.InDelta(t, 18.0, *snap[0].SpeedKmh, 1e-9)
	require.NotNil(t, snap[0].QualityScore)
	assert.NotEmpty(t, snap[0].MotionState)
}

func TestSubmitDispatchesToWorkers(t *testing.T) {
	p := newTestProcessor(nil)

	raw := `{"timestamp":"2026-03-14T10:00:00Z","session_id":"s1","message_id":1,"speed_ms":5.0,"voltage_v":5.0,"current_a":8.0}`
	rec, err := p.Normalize([]byte(raw))
	require.NoError(t, err)
	require.NoError(t, p.Submit(rec))

	select {
	case got := <-p.dispatcher.StoreChan:
		assert.Equal(t, rec, got)
	default:
		t.Fatal("store channel should have received the record")
	}
	select {
	case got := <-p.dispatcher.AlertChan:
		assert.Equal(t, domain.SeverityHigh, got.OutlierSeverity)
	default:
		t.Fatal("flagged record should reach the alert channel")
	}
}

func TestStrayRecordLeavesRollingStateIntact(t *testing.T) {
	p := newTestProcessor(nil)

	// Build a stuck streak one short of flagging on session s1.
	for i := 1; i <= 14; i++ {
		rec, err := p.Normalize(payload("s1", i, ""))
		require.NoError(t, err)
		require.NoError(t, p.Submit(rec))
	}

	// A stray record from another session is rejected and must not
	// disturb s1's rolling windows or streaks.
	stray, err := p.Normalize(payload("s2", 15, ""))
	require.NoError(t, err)
	assert.ErrorIs(t, p.Submit(stray), domain.ErrSessionMismatch)
	assert.Empty(t, stray.Outliers, "a rejected record is never run through detection")
	assert.Equal(t, int64(14), p.DetectorStats().TotalRecords,
		"the stray record must not reach the detector")

	// The pinned voltage streak continues across the rejection: the
	// very next identical s1 sample is the 15th and gets flagged.
	flagged, err := p.Normalize(payload("s1", 16, ""))
	require.NoError(t, err)
	require.NoError(t, p.Submit(flagged))
	require.Contains(t, flagged.Outliers, "voltage_v")
	assert.Equal(t, domain.ReasonStuckSensor, flagged.Outliers["voltage_v"].Reason)

	assert.Equal(t, 15, p.buf.Len())
	assert.Equal(t, "s1", p.buf.SessionID())
}

func binaryFrame(speed, voltage, current, lat, lon, alt float32, messageID uint32) []byte {
	buf := make([]byte, 28)
	for i, v := range []float32{speed, voltage, current, lat, lon, alt} {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	binary.LittleEndian.PutUint32(buf[24:], messageID)
	return buf
}

func TestNormalizeBinaryFrame(t *testing.T) {
	p := newTestProcessor(nil)

	rec, err := p.Normalize(binaryFrame(5.5, 48.25, 8.0, 12.9716, 77.5946, 920, 42))
	require.NoError(t, err)

	assert.InDelta(t, 5.5, rec.SpeedMS, 1e-6)
	assert.InDelta(t, 48.25, rec.VoltageV, 1e-6)
	assert.InDelta(t, 8.0, rec.CurrentA, 1e-6)
	assert.InDelta(t, 48.25*8.0, rec.PowerW, 1e-4, "power is backfilled from V and I")
	assert.InDelta(t, 920.0, rec.Altitude, 1e-3)
	assert.Equal(t, int64(42), rec.MessageID)
	assert.Equal(t, "ESP32_REAL", rec.DataSource)
	assert.Empty(t, rec.SessionID, "the frame carries no session id")
	assert.False(t, rec.Timestamp.IsZero(), "arrival-stamped")
}

func TestNormalizeBinaryFrameScrubsNonFinite(t *testing.T) {
	p := newTestProcessor(nil)

	nan := math.Float32frombits(0x7fc00000)
	rec, err := p.Normalize(binaryFrame(nan, 48, 8, 0, 0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 0.0, rec.SpeedMS)
	assert.InDelta(t, 48.0, rec.VoltageV, 1e-6)
}

func TestNormalizeBinaryFrameWrongSize(t *testing.T) {
	p := newTestProcessor(nil)
	_, err := p.Normalize(make([]byte, 27))
	assert.Error(t, err)
}

func TestSubmitAttributesBinaryFrameToActiveSession(t *testing.T) {
	p := newTestProcessor(nil)

	// Without an active session an unattributed frame has nowhere to go.
	orphan, err := p.Normalize(binaryFrame(5, 48, 8, 0, 0, 0, 1))
	require.NoError(t, err)
	assert.ErrorIs(t, p.Submit(orphan), domain.ErrSessionMismatch)

	live, err := p.Normalize(payload("s1", 1, ""))
	require.NoError(t, err)
	require.NoError(t, p.Submit(live))

	frame, err := p.Normalize(binaryFrame(5, 48, 8, 0, 0, 0, 2))
	require.NoError(t, err)
	require.NoError(t, p.Submit(frame))
	assert.Equal(t, "s1", frame.SessionID)
	assert.Equal(t, 2, p.buf.Len())
}

func TestLoadHistoricalReplacesBuffer(t *testing.T) {
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	history := make([]*domain.TelemetryRecord, 30)
	for i := range history {
		history[i] = &domain.TelemetryRecord{
			SessionID: "old",
			Timestamp: base.Add(time.Duration(i) * 200 * time.Millisecond),
			SpeedMS:   4.0 + 0.1*float64(i%5),
			VoltageV:  48.0 + 0.1*float64(i%3),
			CurrentA:  8.0,
			PowerW:    390,
		}
	}
	fetcher := &stubFetcher{records: history}

	p := newTestProcessor(fetcher)
	live, err := p.Normalize(payload("s1", 1, ""))
	require.NoError(t, err)
	require.NoError(t, p.Submit(live))

	n, err := p.LoadHistorical(context.Background(), "old", 5000)
	require.NoError(t, err)
	assert.Equal(t, 30, n)
	assert.Equal(t, "old", fetcher.gotSession)
	assert.Equal(t, 5000, fetcher.gotLimit)

	snap := p.buf.Snapshot()
	require.Len(t, snap, 30)
	assert.Equal(t, "old", p.buf.SessionID())
	require.NotNil(t, snap[0].SpeedKmh, "replayed records must be enriched")
	assert.NotEmpty(t, snap[0].MotionState)
	assert.Equal(t, int64(30), p.DetectorStats().TotalRecords,
		"detection replays from a clean state over the loaded history")
}

func TestLoadHistoricalWithoutStore(t *testing.T) {
	p := newTestProcessor(nil)
	_, err := p.LoadHistorical(context.Background(), "s1", 100)
	assert.Error(t, err)
}

func TestRunConsumesUntilCancelled(t *testing.T) {
	p := newTestProcessor(nil)
	raw := make(chan []byte, 8)
	for i := 1; i <= 5; i++ {
		raw <- payload("s1", i, "")
	}
	raw <- []byte(`not even json`)
	close(raw)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	p.Run(ctx, raw)

	assert.Equal(t, 5, p.buf.Len())
	assert.Equal(t, int64(1), p.ParseErrors())
}

type stubFetcher struct {
	records    []*domain.TelemetryRecord
	gotSession string
	gotLimit   int
}

func (s *stubFetcher) FetchSessionRecords(_ context.Context, sessionID string, limit, _ int) ([]*domain.TelemetryRecord, error) {
	s.gotSession = sessionID
	s.gotLimit = limit
	return s.records, nil
}
