package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openbuilders/tip-engine/internal/types"

	"github.com/fxamacker/cbor/v2"
	redis "github.com/redis/go-redis/v9"
)

// RedisStore keeps sessions in Redis, CBOR encoded, with the TTL enforced by
// the key expiry and re-checked on read.
type RedisStore struct {
	config *Config
	client redis.UniversalClient
	log    *slog.Logger
}

func NewRedisStore(config *Config, client redis.UniversalClient) *RedisStore {
	return &RedisStore{
		config: config,
		client: client,
		log:    slog.With("component", "session-redis"),
	}
}

func (r *RedisStore) key(key string) string {
	return r.config.KeyPrefix + "session:" + key
}

func (r *RedisStore) Get(ctx context.Context, key string) (*types.SessionState, error) {
	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var state types.SessionState
	if err := cbor.Unmarshal(raw, &state); err != nil {
		r.log.Error("session decode error", "key", key, "error", err)
		return nil, ErrNotFound
	}

	if expired(&state, r.config.TTL, time.Now()) {
		return nil, ErrNotFound
	}

	return &state, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, state types.SessionState) error {
	state.LastUpdated = time.Now()

	raw, err := cbor.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	if err := r.client.Set(ctx, r.key(key), raw, r.config.TTL).Err(); err != nil {
		return fmt.Errorf("set session: %w", err)
	}

	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}
