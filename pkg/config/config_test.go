package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, BackendSQLite, cfg.StoreBackend)
	assert.Equal(t, int64(65536), cfg.MaxEventBytes)
	assert.Equal(t, 15*time.Minute, cfg.MaxFutureSkew)
	assert.Equal(t, 100, cfg.MaxPageSize)
	assert.Equal(t, 120, cfg.RateLimitRPM)
	assert.Empty(t, cfg.RedisAddr)
	assert.Empty(t, cfg.RedisPassword)
	assert.Equal(t, 0, cfg.RedisDB)
	assert.False(t, cfg.OTelEnabled)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_BACKEND", BackendPostgres)
	t.Setenv("MAX_EVENT_BYTES", "1024")
	t.Setenv("CLOCK_SKEW_SECONDS", "60")
	t.Setenv("RATE_LIMIT_RPM", "30")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_PASSWORD", "hunter2")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("OTEL_ENABLED", "true")

	cfg := Load()
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, BackendPostgres, cfg.StoreBackend)
	assert.Equal(t, int64(1024), cfg.MaxEventBytes)
	assert.Equal(t, time.Minute, cfg.MaxFutureSkew)
	assert.Equal(t, 30, cfg.RateLimitRPM)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, "hunter2", cfg.RedisPassword)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.True(t, cfg.OTelEnabled)
}

func TestLoadIgnoresUnparseableNumbers(t *testing.T) {
	t.Setenv("MAX_EVENT_BYTES", "not a number")
	cfg := Load()
	assert.Equal(t, int64(65536), cfg.MaxEventBytes)
}
