package config

import (
	"os"
	"strconv"
)

type Config struct {
	// HTTP
	HTTPPort string

	// TimescaleDB
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBMaxConns int32

	// Redis
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	IngestChannel  string
	LiveChannel    string
	AlertChannel   string

	// Buffer
	BufferMaxSize int

	// Pipeline channels
	StoreChannelSize int
	LiveChannelSize  int
	AlertChannelSize int

	// Batch writer tuning
	DBBatchSize       int
	DBFlushIntervalMS int

	// Access limits
	LimitCacheTTLSeconds int
	DefaultHistoryLimit  int

	// Detection / enrichment policy
	RollingWindowSize   int
	ZScoreThreshold     float64
	StuckSensorCount    int
	EfficiencyWindowSec float64
}

func Load() *Config {
	return &Config{
		HTTPPort:             getEnv("HTTP_PORT", "8002"),
		DBHost:               getEnv("DB_HOST", "localhost"),
		DBPort:               getEnv("DB_PORT", "5432"),
		DBUser:               getEnv("DB_USER", "telemetry_user"),
		DBPassword:           getEnv("DB_PASSWORD", "telemetry_password"),
		DBName:               getEnv("DB_NAME", "ev_telemetry"),
		DBMaxConns:           int32(getEnvInt("DB_MAX_CONNS", 15)),
		RedisAddr:            getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:        getEnv("REDIS_PASSWORD", ""),
		RedisDB:              getEnvInt("REDIS_DB", 0),
		IngestChannel:        getEnv("INGEST_CHANNEL", "telemetry:ingest"),
		LiveChannel:          getEnv("LIVE_CHANNEL", "telemetry:live"),
		AlertChannel:         getEnv("ALERT_CHANNEL", "telemetry:alerts"),
		BufferMaxSize:        getEnvInt("BUFFER_MAX_SIZE", 18000),
		StoreChannelSize:     getEnvInt("STORE_CHANNEL_SIZE", 10000),
		LiveChannelSize:      getEnvInt("LIVE_CHANNEL_SIZE", 10000),
		AlertChannelSize:     getEnvInt("ALERT_CHANNEL_SIZE", 1000),
		DBBatchSize:          getEnvInt("DB_BATCH_SIZE", 500),
		DBFlushIntervalMS:    getEnvInt("DB_FLUSH_INTERVAL_MS", 100),
		LimitCacheTTLSeconds: getEnvInt("LIMIT_CACHE_TTL_SECONDS", 300),
		DefaultHistoryLimit:  getEnvInt("DEFAULT_HISTORY_LIMIT", 5000),
		RollingWindowSize:    getEnvInt("ROLLING_WINDOW_SIZE", 50),
		ZScoreThreshold:      getEnvFloat("ZSCORE_THRESHOLD", 5.0),
		StuckSensorCount:     getEnvInt("STUCK_SENSOR_COUNT", 15),
		EfficiencyWindowSec:  getEnvFloat("EFFICIENCY_WINDOW_SEC", 10.0),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
