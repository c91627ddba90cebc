package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutu-network/xpcore/internal/domain"
	"github.com/tutu-network/xpcore/internal/platform/logger"
)

func newTestClient(t *testing.T) (*goredis.Client, Config) {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis integration tests")
	}
	cfg := DefaultConfig()
	cfg.Addr = addr
	cfg.Channel = "xpcore:test:" + uuid.NewString()

	rdb, err := Connect(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { rdb.Close() })
	return rdb, cfg
}

func TestConnect_MissingAddr(t *testing.T) {
	_, err := Connect(context.Background(), Config{})
	assert.Error(t, err)
}

func TestLockKey(t *testing.T) {
	assert.Equal(t, "xpcore:lock:user:u1", LockKey("user:u1"))
}

func TestLocker_Exclusive(t *testing.T) {
	rdb, cfg := newTestClient(t)
	l := NewLocker(rdb, cfg)
	key := "user:" + uuid.NewString()

	unlock, err := l.Lock(context.Background(), key)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, key)
	assert.True(t, errors.Is(err, domain.ErrLockTimeout), "second holder must time out, got %v", err)

	unlock()
	unlock() // second call is a no-op

	unlock2, err := l.Lock(context.Background(), key)
	require.NoError(t, err, "lock must be free after release")
	unlock2()
}

func TestLocker_ReleaseKeepsForeignToken(t *testing.T) {
	rdb, cfg := newTestClient(t)
	cfg.LockTTL = 50 * time.Millisecond
	l := NewLocker(rdb, cfg)
	key := "user:" + uuid.NewString()
	ctx := context.Background()

	unlock, err := l.Lock(ctx, key)
	require.NoError(t, err)

	// Our lease expires and someone else takes the key.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, rdb.Set(ctx, LockKey(key), "other", time.Minute).Err())

	unlock()
	v, err := rdb.Get(ctx, LockKey(key)).Result()
	require.NoError(t, err)
	assert.Equal(t, "other", v, "release must not delete another holder's lock")
	rdb.Del(ctx, LockKey(key))
}

func TestBus_RoundTrip(t *testing.T) {
	rdb, cfg := newTestClient(t)
	bus := NewBus(rdb, cfg, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan domain.AwardResult, 1)
	require.NoError(t, bus.StartForwarder(ctx, func(r domain.AwardResult) { got <- r }))

	sent := domain.AwardResult{UserID: "u1", TotalXP: 120, FromLevel: 1, ToLevel: 2, LeveledUp: true}
	require.NoError(t, bus.Publish(ctx, sent))

	select {
	case r := <-got:
		assert.Equal(t, sent.UserID, r.UserID)
		assert.Equal(t, sent.ToLevel, r.ToLevel)
		assert.True(t, r.LeveledUp)
	case <-time.After(2 * time.Second):
		t.Fatal("forwarder never delivered the result")
	}
}
