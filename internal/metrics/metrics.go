package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_messages_received_total",
		Help: "Raw messages consumed from the ingest transport.",
	})

	ValidationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_validation_errors_total",
		Help: "Records skipped at the ingestion boundary.",
	}, []string{"reason"})

	OutliersDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_outliers_detected_total",
		Help: "Records flagged by the outlier detector.",
	}, []string{"severity"})

	ChannelDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_channel_drops_total",
		Help: "Records dropped because a pipeline channel was full.",
	}, []string{"channel"})

	DBWriteSuccess = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_db_write_success_total",
		Help: "Enriched records persisted.",
	})

	DBWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_db_write_failures_total",
		Help: "Enriched records that failed to persist after retry.",
	})

	IngestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "telemetry_ingest_duration_seconds",
		Help:    "Per-record processing time through enrichment and detection.",
		Buckets: prometheus.DefBuckets,
	})

	BufferSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "telemetry_buffer_size",
		Help: "Records currently held in the live session buffer.",
	})
)
