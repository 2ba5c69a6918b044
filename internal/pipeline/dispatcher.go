package pipeline

import (
	"ev-telemetry/processing/internal/domain"
	"ev-telemetry/processing/internal/metrics"
)

// Dispatcher fans enriched records out to the downstream workers.
// Channels never block the ingest path: a full channel drops the record
// for that consumer and counts the drop.
type Dispatcher struct {
	StoreChan chan *domain.TelemetryRecord
	LiveChan  chan *domain.TelemetryRecord
	AlertChan chan *domain.TelemetryRecord
}

func NewDispatcher(storeSize, liveSize, alertSize int) *Dispatcher {
	return &Dispatcher{
		StoreChan: make(chan *domain.TelemetryRecord, storeSize),
		LiveChan:  make(chan *domain.TelemetryRecord, liveSize),
		AlertChan: make(chan *domain.TelemetryRecord, alertSize),
	}
}

func (d *Dispatcher) Dispatch(rec *domain.TelemetryRecord) {
	select {
	case d.StoreChan <- rec:
	default:
		metrics.ChannelDrops.WithLabelValues("store").Inc()
	}

	select {
	case d.LiveChan <- rec:
	default:
		metrics.ChannelDrops.WithLabelValues("live").Inc()
	}

	// Only flagged records interest the alert worker.
	if rec.OutlierSeverity != domain.SeverityNone && rec.OutlierSeverity != "" {
		select {
		case d.AlertChan <- rec:
		default:
			metrics.ChannelDrops.WithLabelValues("alert").Inc()
		}
	}
}

func (d *Dispatcher) Close() {
	close(d.StoreChan)
	close(d.LiveChan)
	close(d.AlertChan)
}
