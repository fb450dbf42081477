package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/merch-api/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.LoadForTests(map[string]string{
		"DATABASE_URL":     "postgres://localhost:5432/merch",
		"REDIS_URL":        "redis://localhost:6379/0",
		"PORT":             "",
		"LABEL_CACHE_TTL":  "",
		"RATE_LIMIT_MAX":   "",
		"PUBLISH_LOCK_TTL": "",
	})
	require.NoError(t, err)

	require.Equal(t, "development", cfg.AppEnv)
	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.Equal(t, time.Minute, cfg.LabelCacheTTL)
	require.Equal(t, 120, cfg.RateLimitMax)
	require.Equal(t, 30*time.Second, cfg.PublishLockTTL)
	require.Equal(t, int64(1<<20), cfg.HookBodyLimit)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := config.LoadForTests(map[string]string{
		"DATABASE_URL":         "postgres://localhost:5432/merch",
		"REDIS_URL":            "redis://localhost:6379/0",
		"PORT":                 "9090",
		"CORS_ALLOWED_ORIGINS": "https://a.example, https://b.example",
		"LABEL_CACHE_TTL":      "30s",
		"ASYNQ_CONCURRENCY":    "4",
	})
	require.NoError(t, err)

	require.Equal(t, ":9090", cfg.HTTPAddr())
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	require.Equal(t, 30*time.Second, cfg.LabelCacheTTL)
	require.Equal(t, 4, cfg.AsynqConcurrency)
}

func TestLoadRequiresDatabase(t *testing.T) {
	_, err := config.LoadForTests(map[string]string{
		"DATABASE_URL": "",
		"REDIS_URL":    "redis://localhost:6379/0",
	})
	require.Error(t, err)
}

func TestLoadRequiresRedis(t *testing.T) {
	_, err := config.LoadForTests(map[string]string{
		"DATABASE_URL": "postgres://localhost:5432/merch",
		"REDIS_URL":    "",
	})
	require.Error(t, err)
}

func TestInvalidDurationFallsBack(t *testing.T) {
	cfg, err := config.LoadForTests(map[string]string{
		"DATABASE_URL":    "postgres://localhost:5432/merch",
		"REDIS_URL":       "redis://localhost:6379/0",
		"LABEL_CACHE_TTL": "not-a-duration",
	})
	require.NoError(t, err)
	require.Equal(t, time.Minute, cfg.LabelCacheTTL)
}
