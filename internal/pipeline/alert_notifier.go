package pipeline

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"ev-telemetry/processing/internal/domain"
	"ev-telemetry/processing/internal/store"
)

// AlertNotifier turns high-severity outlier detections into alerts for
// downstream consumers, deduplicated per session and field so a stuck
// sensor does not fire five times a second.
type AlertNotifier struct {
	ch    <-chan *domain.TelemetryRecord
	db    *store.SessionStore
	redis *store.RedisStore
}

func NewAlertNotifier(
	ch <-chan *domain.TelemetryRecord,
	db *store.SessionStore,
	redis *store.RedisStore,
) *AlertNotifier {
	return &AlertNotifier{ch: ch, db: db, redis: redis}
}

func (n *AlertNotifier) Run(ctx context.Context) {
	for {
		select {
		case rec, ok := <-n.ch:
			if !ok {
				return
			}
			n.notify(ctx, rec)

		case <-ctx.Done():
			return
		}
	}
}

func (n *AlertNotifier) notify(ctx context.Context, rec *domain.TelemetryRecord) {
	if rec.OutlierSeverity != domain.SeverityHigh {
		return
	}

	for field, o := range rec.Outliers {
		isDuplicate, err := n.redis.CheckAlertDedup(ctx, rec.SessionID, field)
		if err != nil {
			log.Printf("alert dedup check failed for %s/%s: %v", rec.SessionID, field, err)
			continue
		}
		if isDuplicate {
			continue
		}

		value := fieldValue(rec, field)
		if n.db != nil {
			if err := n.db.InsertOutlierAlert(ctx, rec.SessionID, field, o.Reason, rec.OutlierSeverity, value); err != nil {
				log.Printf("alert insert failed for %s/%s: %v", rec.SessionID, field, err)
				continue
			}
		}
		if err := n.redis.SetAlertDedup(ctx, rec.SessionID, field); err != nil {
			log.Printf("alert dedup set failed for %s/%s: %v", rec.SessionID, field, err)
		}

		payload, _ := json.Marshal(map[string]interface{}{
			"session_id":   rec.SessionID,
			"field":        field,
			"reason":       string(o.Reason),
			"severity":     string(rec.OutlierSeverity),
			"confidence":   o.Confidence,
			"value":        value,
			"triggered_at": time.Now().Unix(),
		})
		if err := n.redis.PublishAlert(ctx, payload); err != nil {
			log.Printf("alert publish failed for %s/%s: %v", rec.SessionID, field, err)
		}
	}
}

func fieldValue(rec *domain.TelemetryRecord, field string) float64 {
	switch field {
	case "voltage_v":
		return rec.VoltageV
	case "current_a":
		return rec.CurrentA
	case "power_w":
		return rec.PowerW
	case "speed_ms":
		return rec.SpeedMS
	case "energy_j":
		return rec.EnergyJ
	case "distance_m":
		return rec.DistanceM
	case "latitude":
		return rec.Latitude
	case "longitude":
		return rec.Longitude
	case "altitude":
		return rec.Altitude
	case "gyro_x":
		return rec.GyroX
	case "gyro_y":
		return rec.GyroY
	case "gyro_z":
		return rec.GyroZ
	case "accel_x":
		return rec.AccelX
	case "accel_y":
		return rec.AccelY
	case "accel_z":
		return rec.AccelZ
	default:
		return 0
	}
}
