package httpapi

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"glimpse/internal/realtime"
)

type Deps struct {
	DB     *pgxpool.Pool
	Broker *realtime.Broker
	Pepper string

	SessionTTLDays         int
	StreamMaxSubscriptions int
}
