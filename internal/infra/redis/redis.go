// Package redis provides the cross-process pieces of xpcore: a per-user
// distributed lock and a pub/sub bus that carries award results between
// processes serving notification streams.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int

	// Channel is the pub/sub channel for award results.
	Channel string

	// LockTTL bounds how long a crashed holder can block a user.
	LockTTL time.Duration

	// LockRetry is the wait between SET NX attempts.
	LockRetry time.Duration

	DialTimeout time.Duration
}

// DefaultConfig returns defaults for a local Redis.
func DefaultConfig() Config {
	return Config{
		Addr:        "localhost:6379",
		Channel:     "xpcore:awards",
		LockTTL:     30 * time.Second,
		LockRetry:   25 * time.Millisecond,
		DialTimeout: 5 * time.Second,
	}
}

// Key prefixes for namespacing Redis keys.
const (
	PrefixLock = "xpcore:lock:"
)

// LockKey generates the key for a distributed lock.
func LockKey(resource string) string {
	return PrefixLock + resource
}

// Connect creates a client and verifies it with PING.
func Connect(ctx context.Context, cfg Config) (*goredis.Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis: missing address")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}
