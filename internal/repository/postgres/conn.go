// Package postgres stores tips, notifications and user preferences in
// PostgreSQL.
package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is the durable store of the tip pipeline. The sender writes
// transaction records here, recovery and the retention job read them back,
// and the notifier keeps its outbox in the notifications table.
type Postgres struct {
	pool  *pgxpool.Pool
	retry time.Duration
	log   *slog.Logger
}

// New wraps a pool opened by the server. retry spaces the startup
// connectivity checks done by Ping.
func New(pool *pgxpool.Pool, retry time.Duration) *Postgres {
	return &Postgres{
		pool:  pool,
		retry: retry,
		log:   slog.With("component", "db"),
	}
}

// Ping waits for the database at startup. It gives up after three failed
// attempts so the server does not start without its store.
func (p *Postgres) Ping(ctx context.Context) error {
	const attempts = 3

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, p.retry)
		err = p.pool.Ping(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}

		p.log.Warn("database is not reachable", "attempt", attempt, "error", err)
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.retry):
		}
	}

	return err
}

// IsUpAndRunning backs the database readiness check.
func (p *Postgres) IsUpAndRunning(ctx context.Context) error {
	return p.pool.Ping(ctx)
}
