package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutu-network/xpcore/internal/domain"
	"github.com/tutu-network/xpcore/internal/platform/logger"
)

func TestHub_DeliversToUserOnly(t *testing.T) {
	h := NewHub(logger.Nop())
	mine, cancelMine := h.Subscribe("u1")
	defer cancelMine()
	other, cancelOther := h.Subscribe("u2")
	defer cancelOther()

	require.NoError(t, h.Publish(context.Background(), domain.AwardResult{UserID: "u1", TotalXP: 42}))

	select {
	case r := <-mine:
		assert.Equal(t, int64(42), r.TotalXP)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive result")
	}
	assert.Empty(t, other)
}

func TestHub_CancelClosesAndForgets(t *testing.T) {
	h := NewHub(logger.Nop())
	ch, cancel := h.Subscribe("u1")
	assert.Equal(t, 1, h.Subscribers("u1"))

	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok, "channel must be closed")
	assert.Equal(t, 0, h.Subscribers("u1"))

	// Publishing with no subscribers is fine.
	h.Deliver(domain.AwardResult{UserID: "u1"})
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(logger.Nop())
	ch, cancel := h.Subscribe("u1")
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			h.Deliver(domain.AwardResult{UserID: "u1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Deliver blocked on a full subscriber")
	}
	assert.Len(t, ch, subscriberBuffer)
}
