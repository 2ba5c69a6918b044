package buffer

import (
	"fmt"
	"sort"
	"sync"

	"ev-telemetry/processing/internal/domain"
)

// Buffer holds the ordered record set for the active session. All
// mutation goes through the mutex so the ascending-timestamp invariant
// cannot be broken by interleaved writers; readers get a snapshot copy
// and never block ingestion.
type Buffer struct {
	mu        sync.Mutex
	sessionID string
	records   []*domain.TelemetryRecord
	maxSize   int

	validationErrors int64
	evicted          int64
}

func New(maxSize int) *Buffer {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Buffer{maxSize: maxSize}
}

// Ingest merges records into the ordered set. Records for a different
// session or with a zero timestamp are rejected and counted; the rest
// are still inserted. The returned error wraps the first rejection
// cause when any record was refused.
func (b *Buffer) Ingest(records []*domain.TelemetryRecord) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	inserted := 0
	rejected := 0
	var cause error

	for _, rec := range records {
		if err := b.insertLocked(rec); err != nil {
			rejected++
			b.validationErrors++
			if cause == nil {
				cause = err
			}
			continue
		}
		inserted++
	}
	b.evictOverflowLocked()

	if cause != nil {
		return inserted, fmt.Errorf("%d of %d records rejected: %w", rejected, len(records), cause)
	}
	return inserted, nil
}

func (b *Buffer) insertLocked(rec *domain.TelemetryRecord) error {
	if rec == nil || rec.Timestamp.IsZero() {
		return domain.ErrInvalidTimestamp
	}
	if b.sessionID == "" {
		b.sessionID = rec.SessionID
	}
	if rec.SessionID != b.sessionID {
		return domain.ErrSessionMismatch
	}

	n := len(b.records)
	// Fast path: in-order arrival.
	if n == 0 || rec.Timestamp.After(b.records[n-1].Timestamp) {
		b.records = append(b.records, rec)
		return nil
	}

	i := sort.Search(n, func(i int) bool {
		return !b.records[i].Timestamp.Before(rec.Timestamp)
	})
	if i < n && b.records[i].Timestamp.Equal(rec.Timestamp) {
		// Duplicate timestamp: the later arrival replaces the earlier entry.
		b.records[i] = rec
		return nil
	}
	b.records = append(b.records, nil)
	copy(b.records[i+1:], b.records[i:])
	b.records[i] = rec
	return nil
}

func (b *Buffer) evictOverflowLocked() {
	if over := len(b.records) - b.maxSize; over > 0 {
		b.evicted += int64(over)
		b.records = append(b.records[:0:0], b.records[over:]...)
	}
}

// ReplaceAll swaps in a historical load. The session binding follows the
// new records; callers must reset dependent rolling-window state in the
// same operation (see pipeline.Processor.LoadHistorical).
func (b *Buffer) ReplaceAll(sessionID string, records []*domain.TelemetryRecord) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sessionID = sessionID
	b.records = b.records[:0]

	inserted := 0
	rejected := 0
	var cause error
	for _, rec := range records {
		if err := b.insertLocked(rec); err != nil {
			rejected++
			b.validationErrors++
			if cause == nil {
				cause = err
			}
			continue
		}
		inserted++
	}
	b.evictOverflowLocked()

	if cause != nil {
		return inserted, fmt.Errorf("%d of %d records rejected: %w", rejected, len(records), cause)
	}
	return inserted, nil
}

// Snapshot returns a copy of the record slice for analytics reads.
// Records are never mutated after insertion, so sharing the pointers is
// safe.
func (b *Buffer) Snapshot() []*domain.TelemetryRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*domain.TelemetryRecord, len(b.records))
	copy(out, b.records)
	return out
}

func (b *Buffer) SessionID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessionID
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// ValidationErrors reports the running count of rejected records.
func (b *Buffer) ValidationErrors() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.validationErrors
}

func (b *Buffer) Evicted() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.evicted
}

// Session summarises the buffered stream: first/last timestamp and count.
func (b *Buffer) Session() domain.Session {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := domain.Session{SessionID: b.sessionID, RecordCount: len(b.records)}
	if len(b.records) > 0 {
		s.SessionName = b.records[0].SessionName
		s.StartTime = b.records[0].Timestamp
		s.EndTime = b.records[len(b.records)-1].Timestamp
	}
	return s
}
