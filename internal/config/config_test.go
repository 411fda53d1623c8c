package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresDatabaseURLAndPepper(t *testing.T) {
	t.Setenv("GLIMPSE_DATABASE_URL", "")
	t.Setenv("GLIMPSE_SESSION_PEPPER", "")

	_, err := Load()
	require.Error(t, err)

	t.Setenv("GLIMPSE_DATABASE_URL", "postgres://localhost/glimpse")
	_, err = Load()
	require.Error(t, err)

	t.Setenv("GLIMPSE_SESSION_PEPPER", "pepper")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/glimpse", cfg.DatabaseURL)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GLIMPSE_DATABASE_URL", "postgres://localhost/glimpse")
	t.Setenv("GLIMPSE_SESSION_PEPPER", "pepper")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 30, cfg.SessionTTLDays)
	assert.Equal(t, 64, cfg.EventQueueSize)
	assert.Equal(t, 32, cfg.StreamMaxSubscriptions)
	assert.Equal(t, 60, cfg.WorkerTickSeconds)
	assert.Equal(t, 90, cfg.NotificationRetentionDays)
}

func TestLoadClampsOutOfRangeValues(t *testing.T) {
	t.Setenv("GLIMPSE_DATABASE_URL", "postgres://localhost/glimpse")
	t.Setenv("GLIMPSE_SESSION_PEPPER", "pepper")
	t.Setenv("GLIMPSE_EVENT_QUEUE_SIZE", "1")
	t.Setenv("GLIMPSE_WORKER_TICK_SECONDS", "0")
	t.Setenv("GLIMPSE_SESSION_TTL_DAYS", "-4")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.EventQueueSize)
	assert.Equal(t, 5, cfg.WorkerTickSeconds)
	assert.Equal(t, 1, cfg.SessionTTLDays)
}

func TestLoadIgnoresUnparsableInts(t *testing.T) {
	t.Setenv("GLIMPSE_DATABASE_URL", "postgres://localhost/glimpse")
	t.Setenv("GLIMPSE_SESSION_PEPPER", "pepper")
	t.Setenv("GLIMPSE_EVENT_QUEUE_SIZE", "lots")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.EventQueueSize)
}
