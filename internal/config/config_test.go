package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-order-saga/internal/model"
)

func TestRedisOptions(t *testing.T) {
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("REDIS_TLS", "1")
	opts := RedisOptions()
	require.Equal(t, "cache:6380", opts.Addr)
	require.Equal(t, 2, opts.DB)
	require.NotNil(t, opts.TLSConfig)

	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("REDIS_PORT", "6379")
	require.Equal(t, "redis:6379", RedisOptions().Addr)
}

func TestLoadWorkerConfig(t *testing.T) {
	t.Setenv("TASK_NAMES", "sendOrderEvent, voidTransaction")
	t.Setenv("TASK_RETRY_INTERVAL_MIN", "5")
	t.Setenv("TASK_EXECUTIONS_PER_SECOND", "0")
	cfg := LoadWorkerConfig()
	require.Equal(t, []model.TaskName{model.TaskSendOrderEvent, model.TaskVoidTransaction}, cfg.TaskNames)
	require.Equal(t, 5*time.Minute, cfg.RetryInterval)
	require.Equal(t, 1, cfg.ExecutionsPerSec)
}

func TestLoadRateLimitConfigClampsTTL(t *testing.T) {
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "10s")
	t.Setenv("RATE_LIMIT_TTL", "1s")
	cfg := LoadRateLimitConfig()
	require.Equal(t, 50*time.Second, cfg.TTL)
}

func TestLocationFallsBackToUTC(t *testing.T) {
	require.Equal(t, time.UTC, Config{OrderTimezone: "Mars/Olympus"}.Location())
	require.Equal(t, "Asia/Tokyo", Config{OrderTimezone: "Asia/Tokyo"}.Location().String())
}
