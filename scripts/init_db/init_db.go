package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found — using system environment variables")
	}

	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		dbGetEnv("DB_USER", "telemetry_user"),
		dbGetEnv("DB_PASSWORD", "telemetry_password"),
		dbGetEnv("DB_HOST", "localhost"),
		dbGetEnv("DB_PORT", "5432"),
		dbGetEnv("DB_NAME", "ev_telemetry"),
	)

	ctx := context.Background()

	fmt.Println("Connecting to TimescaleDB...")
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure TimescaleDB is running:\n  docker-compose up -d timescaledb", err)
	}
	defer conn.Close(ctx)
	fmt.Println("✓ Connected")

	step1_extensions(ctx, conn)
	step2_records_table(ctx, conn)
	step3_alerts_table(ctx, conn)
	step4_indexes(ctx, conn)

	fmt.Println("\n✅ Database initialised successfully")
	fmt.Println("   Run next: go run ./scripts/seed_redis")
}

func step1_extensions(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 1: Extensions ──────────────────────────")
	execOrFatal(ctx, conn,
		"CREATE EXTENSION IF NOT EXISTS timescaledb CASCADE;",
		"timescaledb extension",
	)
}

func step2_records_table(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 2: telemetry_records table ─────────────")
	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS telemetry_records (
			timestamp          TIMESTAMPTZ NOT NULL,
			session_id         TEXT NOT NULL,
			session_name       TEXT,
			message_id         BIGINT,
			data_source        TEXT,
			speed_ms           DOUBLE PRECISION,
			voltage_v          DOUBLE PRECISION,
			current_a          DOUBLE PRECISION,
			power_w            DOUBLE PRECISION,
			energy_j           DOUBLE PRECISION,
			distance_m         DOUBLE PRECISION,
			latitude           DOUBLE PRECISION,
			longitude          DOUBLE PRECISION,
			altitude           DOUBLE PRECISION,
			gyro_x             DOUBLE PRECISION,
			gyro_y             DOUBLE PRECISION,
			gyro_z             DOUBLE PRECISION,
			accel_x            DOUBLE PRECISION,
			accel_y            DOUBLE PRECISION,
			accel_z            DOUBLE PRECISION,
			throttle_pct       DOUBLE PRECISION,
			brake_pct          DOUBLE PRECISION,
			speed_kmh          DOUBLE PRECISION,
			g_force            DOUBLE PRECISION,
			motion_state       TEXT,
			driver_mode        TEXT,
			rolling_efficiency DOUBLE PRECISION,
			quality_score      DOUBLE PRECISION,
			outliers           JSONB,
			outlier_severity   TEXT
		);
	`, "telemetry_records table")

	execOrFatal(ctx, conn,
		"SELECT create_hypertable('telemetry_records', 'timestamp', if_not_exists => TRUE);",
		"telemetry_records hypertable",
	)
}

func step3_alerts_table(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 3: outlier_alerts table ────────────────")
	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS outlier_alerts (
			id         BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL,
			field      TEXT NOT NULL,
			reason     TEXT NOT NULL,
			severity   TEXT NOT NULL,
			value      DOUBLE PRECISION,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`, "outlier_alerts table")
}

func step4_indexes(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 4: Indexes ─────────────────────────────")
	execOrFatal(ctx, conn,
		"CREATE INDEX IF NOT EXISTS idx_records_session_time ON telemetry_records (session_id, timestamp);",
		"session/time index",
	)
	execOrFatal(ctx, conn,
		"CREATE INDEX IF NOT EXISTS idx_alerts_session ON outlier_alerts (session_id, created_at);",
		"alerts session index",
	)
}

func execOrFatal(ctx context.Context, conn *pgx.Conn, sql, what string) {
	if _, err := conn.Exec(ctx, sql); err != nil {
		log.Fatalf("Failed creating %s: %v", what, err)
	}
	fmt.Printf("  ✓ %s\n", what)
}

func dbGetEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
