// Package health runs periodic dependency checks with optional recovery.
// Results are served on /health and exported as gauges.
package health

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/tutu-network/xpcore/internal/infra/metrics"
)

// Check defines a single health check with optional recovery action.
type Check struct {
	Name      string
	CheckFn   func(ctx context.Context) error
	RecoverFn func(ctx context.Context) error
}

// Status represents the result of a health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Pinger is anything with a connectivity check (stores, redis clients).
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker runs periodic health checks with auto-recovery.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
	timeout  time.Duration
}

// NewChecker creates a checker for the database and data directory.
// Extra checks (redis) are appended with Add.
func NewChecker(db Pinger, dataDir string) *Checker {
	return &Checker{
		interval: 30 * time.Second,
		timeout:  5 * time.Second,
		checks: []Check{
			PingCheck("database", db),
			{
				Name: "data_dir",
				CheckFn: func(ctx context.Context) error {
					return checkDataDir(dataDir)
				},
				RecoverFn: func(ctx context.Context) error {
					if dataDir == "" {
						return nil
					}
					return os.MkdirAll(dataDir, 0o755)
				},
			},
		},
	}
}

// PingCheck wraps a Pinger as a check without recovery.
func PingCheck(name string, p Pinger) Check {
	return Check{
		Name:    name,
		CheckFn: p.Ping,
	}
}

// Add registers another check. Call before Run.
func (c *Checker) Add(check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, check)
}

// SetInterval overrides the time between rounds.
func (c *Checker) SetInterval(d time.Duration) {
	if d > 0 {
		c.interval = d
	}
}

// Run starts the health check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	// Run immediately on start
	c.RunOnce(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce runs every check one time and stores the results.
func (c *Checker) RunOnce(ctx context.Context) {
	c.mu.RLock()
	checks := append([]Check(nil), c.checks...)
	c.mu.RUnlock()

	statuses := make([]Status, len(checks))
	for i, check := range checks {
		statuses[i] = c.runCheck(ctx, check)
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

func (c *Checker) runCheck(ctx context.Context, check Check) Status {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	s := Status{
		Name:      check.Name,
		CheckedAt: time.Now(),
	}
	err := check.CheckFn(ctx)
	if err != nil && check.RecoverFn != nil {
		if rerr := check.RecoverFn(ctx); rerr == nil {
			metrics.HealthRecoveries.WithLabelValues(check.Name).Inc()
			err = check.CheckFn(ctx)
		}
	}

	if err != nil {
		s.Error = err.Error()
		metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(0)
	} else {
		s.Healthy = true
		metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(1)
	}
	return s
}

// Statuses returns the latest health check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy returns true if all checks pass.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

// ─── Check Implementations ──────────────────────────────────────────────────

func checkDataDir(dir string) error {
	if dir == "" {
		return nil // remote database only
	}
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("check data dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("data path %s is not a directory", dir)
	}
	return nil
}
