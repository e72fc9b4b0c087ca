// Package session keeps the ephemeral state of frame sessions and the per
// user action counters. Entries expire after a fixed TTL.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/openbuilders/tip-engine/internal/types"
)

var ErrNotFound = errors.New("session not found")

type Config struct {
	TTL           time.Duration
	SweepInterval time.Duration
	KeyPrefix     string
}

// Store is the session key-value namespace. Get reports ErrNotFound for
// missing and expired entries alike.
type Store interface {
	Get(ctx context.Context, key string) (*types.SessionState, error)
	Set(ctx context.Context, key string, state types.SessionState) error
	Delete(ctx context.Context, key string) error
}

// Limiter counts actions per key and tells whether one more is allowed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

func expired(state *types.SessionState, ttl time.Duration, now time.Time) bool {
	return now.Sub(state.LastUpdated) > ttl
}
