package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 18000, cfg.BufferMaxSize)
	assert.Equal(t, 50, cfg.RollingWindowSize)
	assert.Equal(t, 5.0, cfg.ZScoreThreshold)
	assert.Equal(t, 15, cfg.StuckSensorCount)
	assert.Equal(t, 5000, cfg.DefaultHistoryLimit)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("BUFFER_MAX_SIZE", "1000")
	t.Setenv("ZSCORE_THRESHOLD", "3.5")

	cfg := Load()
	assert.Equal(t, "redis:6380", cfg.RedisAddr)
	assert.Equal(t, 1000, cfg.BufferMaxSize)
	assert.Equal(t, 3.5, cfg.ZScoreThreshold)
}

func TestLoadIgnoresUnparseableNumbers(t *testing.T) {
	t.Setenv("BUFFER_MAX_SIZE", "lots")
	cfg := Load()
	assert.Equal(t, 18000, cfg.BufferMaxSize)
}
