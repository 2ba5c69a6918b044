package buffer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ev-telemetry/processing/internal/domain"
)

func rec(session string, offsetMS int) *domain.TelemetryRecord {
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	return &domain.TelemetryRecord{
		SessionID: session,
		Timestamp: base.Add(time.Duration(offsetMS) * time.Millisecond),
		SpeedMS:   float64(offsetMS),
	}
}

func TestIngestKeepsAscendingOrder(t *testing.T) {
	b := New(100)

	_, err := b.Ingest([]*domain.TelemetryRecord{
		rec("s1", 400), rec("s1", 0), rec("s1", 800), rec("s1", 200), rec("s1", 600),
	})
	require.NoError(t, err)

	snap := b.Snapshot()
	require.Len(t, snap, 5)
	for i := 1; i < len(snap); i++ {
		assert.True(t, snap[i-1].Timestamp.Before(snap[i].Timestamp),
			"records must be strictly ascending at index %d", i)
	}
}

func TestIngestDuplicateTimestampReplaces(t *testing.T) {
	b := New(100)

	first := rec("s1", 200)
	first.VoltageV = 48.0
	second := rec("s1", 200)
	second.VoltageV = 51.5

	_, err := b.Ingest([]*domain.TelemetryRecord{rec("s1", 0), first, rec("s1", 400)})
	require.NoError(t, err)
	_, err = b.Ingest([]*domain.TelemetryRecord{second})
	require.NoError(t, err)

	snap := b.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, 51.5, snap[1].VoltageV, "later arrival should replace the earlier entry")
}

func TestIngestRejectsSessionMismatch(t *testing.T) {
	b := New(100)

	inserted, err := b.Ingest([]*domain.TelemetryRecord{
		rec("s1", 0), rec("other", 200), rec("s1", 400),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSessionMismatch)
	assert.Equal(t, 2, inserted)
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, int64(1), b.ValidationErrors())
}

func TestIngestRejectsZeroTimestamp(t *testing.T) {
	b := New(100)

	bad := &domain.TelemetryRecord{SessionID: "s1"}
	inserted, err := b.Ingest([]*domain.TelemetryRecord{rec("s1", 0), bad})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidTimestamp)
	assert.Equal(t, 1, inserted)
}

func TestEvictionDropsOldest(t *testing.T) {
	b := New(3)

	_, err := b.Ingest([]*domain.TelemetryRecord{
		rec("s1", 0), rec("s1", 200), rec("s1", 400), rec("s1", 600), rec("s1", 800),
	})
	require.NoError(t, err)

	snap := b.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, 400.0, snap[0].SpeedMS, "oldest records should be evicted first")
	assert.Equal(t, int64(2), b.Evicted())
}

func TestReplaceAllRebindsSession(t *testing.T) {
	b := New(100)
	_, err := b.Ingest([]*domain.TelemetryRecord{rec("s1", 0), rec("s1", 200)})
	require.NoError(t, err)

	_, err = b.ReplaceAll("s2", []*domain.TelemetryRecord{rec("s2", 0), rec("s2", 200), rec("s2", 400)})
	require.NoError(t, err)

	assert.Equal(t, "s2", b.SessionID())
	assert.Equal(t, 3, b.Len())
}

func TestSessionSummary(t *testing.T) {
	b := New(100)
	first := rec("s1", 0)
	first.SessionName = "morning run"
	_, err := b.Ingest([]*domain.TelemetryRecord{first, rec("s1", 200), rec("s1", 400)})
	require.NoError(t, err)

	s := b.Session()
	assert.Equal(t, "s1", s.SessionID)
	assert.Equal(t, "morning run", s.SessionName)
	assert.Equal(t, 3, s.RecordCount)
	assert.Equal(t, first.Timestamp, s.StartTime)
	assert.True(t, s.EndTime.After(s.StartTime))
}
