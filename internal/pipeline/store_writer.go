package pipeline

import (
	"context"
	"log"
	"time"

	"ev-telemetry/processing/internal/domain"
	"ev-telemetry/processing/internal/metrics"
	"ev-telemetry/processing/internal/store"
)

// StoreWriter batches enriched records into the persistence
// collaborator. One immediate retry on failure, then the batch is
// counted as lost; retry policy beyond that belongs to the store side.
type StoreWriter struct {
	ch        <-chan *domain.TelemetryRecord
	db        *store.SessionStore
	batchSize int
	flushMS   int
}

func NewStoreWriter(
	ch <-chan *domain.TelemetryRecord,
	db *store.SessionStore,
	batchSize int,
	flushMS int,
) *StoreWriter {
	return &StoreWriter{
		ch:        ch,
		db:        db,
		batchSize: batchSize,
		flushMS:   flushMS,
	}
}

func (w *StoreWriter) Run(ctx context.Context) {
	batch := make([]*domain.TelemetryRecord, 0, w.batchSize)
	ticker := time.NewTicker(time.Duration(w.flushMS) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case rec, ok := <-w.ch:
			if !ok {
				w.finalFlush(batch)
				return
			}
			batch = append(batch, rec)
			if len(batch) >= w.batchSize {
				w.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			w.finalFlush(batch)
			return
		}
	}
}

// finalFlush persists the last batch on shutdown under its own
// deadline; the parent context is already cancelled.
func (w *StoreWriter) finalFlush(batch []*domain.TelemetryRecord) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.flush(ctx, batch)
}

func (w *StoreWriter) flush(ctx context.Context, batch []*domain.TelemetryRecord) {
	err := w.db.InsertEnrichedBatch(ctx, batch)
	if err != nil {
		log.Printf("DB write failed (batch=%d), retrying: %v", len(batch), err)
		time.Sleep(500 * time.Millisecond)
		err = w.db.InsertEnrichedBatch(ctx, batch)
		if err != nil {
			log.Printf("DB write permanently failed (batch=%d): %v", len(batch), err)
			metrics.DBWriteFailures.Add(float64(len(batch)))
			return
		}
	}
	metrics.DBWriteSuccess.Add(float64(len(batch)))
}
