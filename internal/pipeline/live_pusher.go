package pipeline

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"ev-telemetry/processing/internal/domain"
	"ev-telemetry/processing/internal/store"
)

// Broadcaster is the rendering-collaborator hook; the websocket hub
// implements it.
type Broadcaster interface {
	Broadcast(payload []byte)
}

// LivePusher forwards enriched records to the rendering consumers:
// the websocket hub for direct connections and Redis for everyone
// else. Small batches on a short tick keep the dashboard feeling live.
type LivePusher struct {
	ch    <-chan *domain.TelemetryRecord
	redis *store.RedisStore
	hub   Broadcaster
}

func NewLivePusher(ch <-chan *domain.TelemetryRecord, redis *store.RedisStore, hub Broadcaster) *LivePusher {
	return &LivePusher{ch: ch, redis: redis, hub: hub}
}

func (w *LivePusher) Run(ctx context.Context) {
	batch := make([]*domain.TelemetryRecord, 0, 100)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case rec, ok := <-w.ch:
			if !ok {
				w.finalFlush(batch)
				return
			}
			batch = append(batch, rec)
			if len(batch) >= 100 {
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

// finalFlush delivers the last batch on shutdown. The parent context is
// already cancelled at that point, so the flush gets its own short
// deadline.
func (w *LivePusher) finalFlush(batch []*domain.TelemetryRecord) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	w.flush(ctx, batch)
}

func (w *LivePusher) flush(ctx context.Context, batch []*domain.TelemetryRecord) {
	for _, rec := range batch {
		if w.hub != nil {
			if payload, err := json.Marshal(rec); err == nil {
				w.hub.Broadcast(payload)
			}
		}
		if w.redis != nil {
			if err := w.redis.PublishLive(ctx, rec); err != nil {
				log.Printf("live publish failed for %s: %v", rec.SessionID, err)
			}
		}
	}
}
