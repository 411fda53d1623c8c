package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"glimpse/internal/config"
	"glimpse/internal/db"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	pool, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(time.Duration(cfg.WorkerTickSeconds) * time.Second)
	defer ticker.Stop()

	log.Printf("worker started (tick=%ds)", cfg.WorkerTickSeconds)

	for {
		select {
		case <-ctx.Done():
			log.Printf("worker stopping")
			return
		case <-ticker.C:
			if err := pruneExpiredSessions(ctx, pool); err != nil {
				log.Printf("prune expired sessions: %v", err)
			}
			if err := pruneOldReadNotifications(ctx, pool, cfg.NotificationRetentionDays); err != nil {
				log.Printf("prune old notifications: %v", err)
			}
		}
	}
}

func pruneExpiredSessions(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `delete from sessions where expires_at < now()`)
	return err
}

func pruneOldReadNotifications(ctx context.Context, pool *pgxpool.Pool, retentionDays int) error {
	// Unread notifications are kept regardless of age.
	_, err := pool.Exec(ctx, `
		delete from notifications
		where read and created_at < now() - make_interval(days => $1)
	`, retentionDays)
	return err
}
