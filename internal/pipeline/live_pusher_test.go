package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ev-telemetry/processing/internal/domain"
)

type captureHub struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (h *captureHub) Broadcast(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.payloads = append(h.payloads, payload)
}

func (h *captureHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.payloads)
}

func TestLivePusherFlushesPendingBatchOnShutdown(t *testing.T) {
	hub := &captureHub{}
	ch := make(chan *domain.TelemetryRecord, 8)
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		ch <- &domain.TelemetryRecord{
			SessionID: "s1",
			Timestamp: base.Add(time.Duration(i) * 200 * time.Millisecond),
			SpeedMS:   5,
		}
	}
	close(ch)

	// Fewer records than a full batch: only the shutdown flush can
	// deliver them.
	pusher := NewLivePusher(ch, nil, hub)
	done := make(chan struct{})
	go func() {
		pusher.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pusher did not stop after its channel closed")
	}
	assert.Equal(t, 3, hub.count(), "the pending batch must be delivered on shutdown")
}

func TestLivePusherFlushesOnCancelledContext(t *testing.T) {
	hub := &captureHub{}
	ch := make(chan *domain.TelemetryRecord, 8)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewLivePusher(ch, nil, hub).Run(ctx)
		close(done)
	}()

	ch <- &domain.TelemetryRecord{SessionID: "s1", Timestamp: time.Now(), SpeedMS: 5}
	require.Eventually(t, func() bool { return hub.count() == 1 },
		time.Second, 5*time.Millisecond, "tick flush delivers the record")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pusher did not stop on context cancellation")
	}
}
