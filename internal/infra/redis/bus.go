package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/tutu-network/xpcore/internal/domain"
	"github.com/tutu-network/xpcore/internal/platform/logger"
)

// Bus publishes award results on one channel so every xpcore process can
// feed its local notification hub.
type Bus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

var _ domain.Publisher = (*Bus)(nil)

// NewBus builds a bus on an existing client.
func NewBus(rdb *goredis.Client, cfg Config, log *logger.Logger) *Bus {
	ch := cfg.Channel
	if ch == "" {
		ch = DefaultConfig().Channel
	}
	return &Bus{
		log:     log.With("service", "RedisBus"),
		rdb:     rdb,
		channel: ch,
	}
}

// Publish sends the result as JSON.
func (b *Bus) Publish(ctx context.Context, res domain.AwardResult) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

// StartForwarder subscribes and calls onMsg for every result until ctx is
// done. It returns once the subscription is confirmed.
func (b *Bus) StartForwarder(ctx context.Context, onMsg func(domain.AwardResult)) error {
	sub := b.rdb.Subscribe(ctx, b.channel)

	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var res domain.AwardResult
				if err := json.Unmarshal([]byte(m.Payload), &res); err != nil {
					b.log.Warn("bad award payload", "error", err)
					continue
				}
				onMsg(res)
			}
		}
	}()

	return nil
}
