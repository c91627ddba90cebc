package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/tutu-network/xpcore/internal/domain"
)

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Locker is a domain.Locker backed by SET NX PX.
type Locker struct {
	rdb   *goredis.Client
	ttl   time.Duration
	retry time.Duration
}

var _ domain.Locker = (*Locker)(nil)

// NewLocker builds a locker on an existing client.
func NewLocker(rdb *goredis.Client, cfg Config) *Locker {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultConfig().LockTTL
	}
	if cfg.LockRetry <= 0 {
		cfg.LockRetry = DefaultConfig().LockRetry
	}
	return &Locker{rdb: rdb, ttl: cfg.LockTTL, retry: cfg.LockRetry}
}

// Lock polls SET NX until it wins or ctx is done. The returned func
// releases the lock at most once.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	k := LockKey(key)
	token := uuid.NewString()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.rdb.SetNX(ctx, k, token, l.ttl).Result()
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			var once sync.Once
			return func() {
				once.Do(func() {
					// Release even if the caller's context is already cancelled.
					rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					_ = releaseScript.Run(rctx, l.rdb, []string{k}, token).Err()
				})
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", domain.ErrLockTimeout, key)
		case <-ticker.C:
		}
	}
}
