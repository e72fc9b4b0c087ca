package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/openbuilders/tip-engine/internal/types"
)

// MemoryStore is an in-process Store. Expired entries are dropped lazily on
// read and by Run's periodic sweep.
type MemoryStore struct {
	config *Config
	states map[string]types.SessionState
	now    func() time.Time
	mu     sync.Mutex
	log    *slog.Logger
}

func NewMemoryStore(config *Config) *MemoryStore {
	return &MemoryStore{
		config: config,
		states: make(map[string]types.SessionState),
		now:    time.Now,
		log:    slog.With("component", "session-memory"),
	}
}

func (m *MemoryStore) Get(ctx context.Context, key string) (*types.SessionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[key]
	if !ok {
		return nil, ErrNotFound
	}

	if expired(&state, m.config.TTL, m.now()) {
		delete(m.states, key)
		return nil, ErrNotFound
	}

	return &state, nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, state types.SessionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state.LastUpdated = m.now()
	m.states[key] = state

	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.states, key)
	return nil
}

// Sweep removes every expired entry and returns how many were dropped.
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for key, state := range m.states {
		if expired(&state, m.config.TTL, now) {
			delete(m.states, key)
			removed++
		}
	}

	return removed
}

func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.states)
}

// Run sweeps the store every SweepInterval until ctx is cancelled.
func (m *MemoryStore) Run(ctx context.Context) error {
	m.log.Info("Starting session sweeper")

	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Info("Stopping session sweeper...")
			return nil
		case <-ticker.C:
			if removed := m.Sweep(); removed > 0 {
				m.log.Debug("Swept expired sessions", "removed", removed)
			}
		}
	}
}
