package config

import (
	"errors"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL   string
	HTTPAddr      string
	SessionPepper string

	SessionTTLDays int

	// Real-time stream tuning.
	EventQueueSize         int
	StreamMaxSubscriptions int

	// cmd/worker housekeeping.
	WorkerTickSeconds         int
	NotificationRetentionDays int
}

func Load() (Config, error) {
	// Optional: load local .env for development. Missing file is fine.
	_ = godotenv.Load()

	sessionTTL := getenvIntDefault("GLIMPSE_SESSION_TTL_DAYS", 30)
	if sessionTTL < 1 {
		sessionTTL = 1
	}

	queueSize := getenvIntDefault("GLIMPSE_EVENT_QUEUE_SIZE", 64)
	if queueSize < 8 {
		queueSize = 8
	}

	maxSubs := getenvIntDefault("GLIMPSE_STREAM_MAX_SUBSCRIPTIONS", 32)
	if maxSubs < 1 {
		maxSubs = 1
	}

	workerTick := getenvIntDefault("GLIMPSE_WORKER_TICK_SECONDS", 60)
	if workerTick < 5 {
		workerTick = 5
	}

	retentionDays := getenvIntDefault("GLIMPSE_NOTIFICATION_RETENTION_DAYS", 90)
	if retentionDays < 1 {
		retentionDays = 1
	}

	cfg := Config{
		DatabaseURL:   os.Getenv("GLIMPSE_DATABASE_URL"),
		HTTPAddr:      getenvDefault("GLIMPSE_HTTP_ADDR", ":8080"),
		SessionPepper: os.Getenv("GLIMPSE_SESSION_PEPPER"),

		SessionTTLDays: sessionTTL,

		EventQueueSize:         queueSize,
		StreamMaxSubscriptions: maxSubs,

		WorkerTickSeconds:         workerTick,
		NotificationRetentionDays: retentionDays,
	}

	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("GLIMPSE_DATABASE_URL is required")
	}
	if cfg.SessionPepper == "" {
		return Config{}, errors.New("GLIMPSE_SESSION_PEPPER is required")
	}
	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvIntDefault(key string, fallback int) int {
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
