package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type Config struct {
	CheckInterval time.Duration
	CheckTimeout  time.Duration
	ID            string
}

type Component string

const (
	ComponentRedis Component = "redis"
	ComponentDB    Component = "db"
	ComponentChain Component = "chain"
	ComponentQueue Component = "queue"
)

// Probe reports whether a dependency is reachable.
type Probe func(ctx context.Context) error

type CheckResult struct {
	Timestamp time.Time `json:"timestamp"`
	Result    bool      `json:"result"`
}

type HealthChecks map[Component]CheckResult

type HealthStatus struct {
	Healthy bool         `json:"healthy"`
	Checks  HealthChecks `json:"checks"`
}

type Checker struct {
	config *Config
	probes map[Component]Probe
	checks HealthChecks
	mu     sync.RWMutex
	log    *slog.Logger
}

func NewChecker(config *Config) *Checker {
	return &Checker{
		config: config,
		probes: make(map[Component]Probe),
		checks: make(HealthChecks),
		log:    slog.With("pod", config.ID, "component", "health"),
	}
}

// Register adds a probe. A registered component is assumed healthy until its
// first check runs.
func (c *Checker) Register(component Component, probe Probe) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.probes[component] = probe
	c.checks[component] = CheckResult{Timestamp: time.Now(), Result: true}
}

func (c *Checker) Run(ctx context.Context) error {
	c.log.Debug("Starting the health checker...")

	ticker := time.NewTicker(c.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Debug("Stopping health checker ...")
			return nil
		case <-ticker.C:
			c.CheckAll(ctx)
		}
	}
}

// CheckAll runs every probe once.
func (c *Checker) CheckAll(ctx context.Context) {
	c.mu.RLock()
	probes := make(map[Component]Probe, len(c.probes))
	for component, probe := range c.probes {
		probes[component] = probe
	}
	c.mu.RUnlock()

	for component, probe := range probes {
		checkCtx, cancel := context.WithTimeout(ctx, c.config.CheckTimeout)
		err := probe(checkCtx)
		cancel()

		if err != nil {
			c.log.Warn("Component probe failed", "component", component, "error", err)
		}

		c.mu.Lock()
		c.checks[component] = CheckResult{Timestamp: time.Now(), Result: err == nil}
		c.mu.Unlock()
	}
}

func (c *Checker) GetHealthStatus() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	healthy := true
	checks := make(HealthChecks, len(c.checks))

	for component, check := range c.checks {
		checks[component] = check
		if !check.Result {
			healthy = false
			c.log.Error("Component health check failed", "component", component)
		}
	}

	return HealthStatus{
		Healthy: healthy,
		Checks:  checks,
	}
}

func RedisProbe(client redis.UniversalClient) Probe {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}
