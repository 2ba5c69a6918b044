package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ev-telemetry/processing/internal/config"
	"ev-telemetry/processing/internal/domain"
)

// SessionStore is the persistence/query collaborator client. Retry and
// backoff policy lives with the collaborator; fetch errors here
// propagate as a single wrapped error.
type SessionStore struct {
	pool *pgxpool.Pool
}

func NewSessionStore(ctx context.Context, cfg *config.Config) (*SessionStore, error) {
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?pool_max_conns=%d",
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBName,
		cfg.DBMaxConns,
	)

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create db pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return &SessionStore{pool: pool}, nil
}

func (s *SessionStore) Close() {
	s.pool.Close()
}

func (s *SessionStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

var recordColumns = []string{
	"timestamp",
	"session_id",
	"session_name",
	"message_id",
	"data_source",
	"speed_ms",
	"voltage_v",
	"current_a",
	"power_w",
	"energy_j",
	"distance_m",
	"latitude",
	"longitude",
	"altitude",
	"gyro_x",
	"gyro_y",
	"gyro_z",
	"accel_x",
	"accel_y",
	"accel_z",
	"throttle_pct",
	"brake_pct",
	"speed_kmh",
	"g_force",
	"motion_state",
	"driver_mode",
	"rolling_efficiency",
	"quality_score",
	"outliers",
	"outlier_severity",
}

// InsertEnrichedBatch persists enriched records with CopyFrom.
func (s *SessionStore) InsertEnrichedBatch(ctx context.Context, records []*domain.TelemetryRecord) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([][]interface{}, len(records))
	for i, r := range records {
		var outliers []byte
		if len(r.Outliers) > 0 {
			outliers, _ = json.Marshal(r.Outliers)
		}
		rows[i] = []interface{}{
			r.Timestamp,
			r.SessionID,
			r.SessionName,
			r.MessageID,
			r.DataSource,
			r.SpeedMS,
			r.VoltageV,
			r.CurrentA,
			r.PowerW,
			r.EnergyJ,
			r.DistanceM,
			r.Latitude,
			r.Longitude,
			r.Altitude,
			r.GyroX,
			r.GyroY,
			r.GyroZ,
			r.AccelX,
			r.AccelY,
			r.AccelZ,
			r.ThrottlePct,
			r.BrakePct,
			r.SpeedKmh,
			r.GForce,
			nullableString(string(r.MotionState)),
			nullableString(string(r.DriverMode)),
			r.RollingEfficiency,
			r.QualityScore,
			outliers,
			nullableString(string(r.OutlierSeverity)),
		}
	}

	_, err := s.pool.CopyFrom(
		ctx,
		pgx.Identifier{"telemetry_records"},
		recordColumns,
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("CopyFrom failed for batch of %d: %w", len(records), err)
	}
	return nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// FetchSessionRecords pages through one session's history in timestamp
// order, up to limit records. The limit is the caller's resolved access
// limit, not something decided here.
func (s *SessionStore) FetchSessionRecords(ctx context.Context, sessionID string, limit, pageSize int) ([]*domain.TelemetryRecord, error) {
	if pageSize <= 0 {
		pageSize = 1000
	}

	var out []*domain.TelemetryRecord
	offset := 0
	for limit <= 0 || len(out) < limit {
		fetch := pageSize
		if limit > 0 && limit-len(out) < fetch {
			fetch = limit - len(out)
		}

		page, err := s.fetchPage(ctx, sessionID, fetch, offset)
		if err != nil {
			return nil, fmt.Errorf("fetching session %s at offset %d: %w", sessionID, offset, err)
		}
		out = append(out, page...)
		if len(page) < fetch {
			break
		}
		offset += len(page)
	}
	return out, nil
}

func (s *SessionStore) fetchPage(ctx context.Context, sessionID string, limit, offset int) ([]*domain.TelemetryRecord, error) {
	query := `
		SELECT timestamp, session_id, session_name, message_id, data_source,
		       speed_ms, voltage_v, current_a, power_w, energy_j, distance_m,
		       latitude, longitude, altitude,
		       gyro_x, gyro_y, gyro_z, accel_x, accel_y, accel_z,
		       throttle_pct, brake_pct
		FROM telemetry_records
		WHERE session_id = $1
		ORDER BY timestamp ASC
		LIMIT $2 OFFSET $3
	`
	rows, err := s.pool.Query(ctx, query, sessionID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var page []*domain.TelemetryRecord
	for rows.Next() {
		var r domain.TelemetryRecord
		var sessionName, dataSource *string
		err := rows.Scan(
			&r.Timestamp, &r.SessionID, &sessionName, &r.MessageID, &dataSource,
			&r.SpeedMS, &r.VoltageV, &r.CurrentA, &r.PowerW, &r.EnergyJ, &r.DistanceM,
			&r.Latitude, &r.Longitude, &r.Altitude,
			&r.GyroX, &r.GyroY, &r.GyroZ, &r.AccelX, &r.AccelY, &r.AccelZ,
			&r.ThrottlePct, &r.BrakePct,
		)
		if err != nil {
			return nil, err
		}
		if sessionName != nil {
			r.SessionName = *sessionName
		}
		if dataSource != nil {
			r.DataSource = *dataSource
		}
		page = append(page, &r)
	}
	return page, rows.Err()
}

// ListSessions summarises the recorded sessions, newest first.
func (s *SessionStore) ListSessions(ctx context.Context, limit int) ([]domain.Session, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT session_id,
		       COALESCE(MAX(session_name), ''),
		       MIN(timestamp),
		       MAX(timestamp),
		       COUNT(*)
		FROM telemetry_records
		GROUP BY session_id
		ORDER BY MAX(timestamp) DESC
		LIMIT $1
	`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		var sess domain.Session
		if err := rows.Scan(&sess.SessionID, &sess.SessionName, &sess.StartTime, &sess.EndTime, &sess.RecordCount); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// InsertOutlierAlert records a high-severity detection for the alerting
// consumers.
func (s *SessionStore) InsertOutlierAlert(
	ctx context.Context,
	sessionID string,
	field string,
	reason domain.OutlierReason,
	severity domain.OutlierSeverity,
	value float64,
) error {
	query := `
		INSERT INTO outlier_alerts
			(session_id, field, reason, severity, value, created_at)
		VALUES
			($1, $2, $3, $4, $5, NOW())
		ON CONFLICT DO NOTHING
	`
	_, err := s.pool.Exec(ctx, query, sessionID, field, string(reason), string(severity), value)
	return err
}
