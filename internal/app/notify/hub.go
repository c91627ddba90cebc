package notify

import (
	"context"
	"sync"

	"github.com/tutu-network/xpcore/internal/domain"
	"github.com/tutu-network/xpcore/internal/infra/metrics"
	"github.com/tutu-network/xpcore/internal/platform/logger"
)

// subscriberBuffer is how many results a slow subscriber may fall behind
// before results are dropped for it.
const subscriberBuffer = 16

// Hub fans award results out to the subscribers of each user in this
// process. It implements domain.Publisher.
type Hub struct {
	log *logger.Logger

	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}
}

type subscriber struct {
	ch chan domain.AwardResult
}

var _ domain.Publisher = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:  log.With("service", "NotifyHub"),
		subs: make(map[string]map[*subscriber]struct{}),
	}
}

// Subscribe registers for a user's results. Call cancel to unsubscribe;
// the channel is closed afterwards.
func (h *Hub) Subscribe(userID string) (<-chan domain.AwardResult, func()) {
	s := &subscriber{ch: make(chan domain.AwardResult, subscriberBuffer)}

	h.mu.Lock()
	set, ok := h.subs[userID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[userID] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()
	metrics.NotificationSubscribers.Inc()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[userID], s)
			if len(h.subs[userID]) == 0 {
				delete(h.subs, userID)
			}
			h.mu.Unlock()
			close(s.ch)
			metrics.NotificationSubscribers.Dec()
		})
	}
}

// Publish delivers res to every subscriber of res.UserID without blocking.
func (h *Hub) Publish(_ context.Context, res domain.AwardResult) error {
	h.Deliver(res)
	return nil
}

// Deliver is Publish without a context, for bus forwarders.
func (h *Hub) Deliver(res domain.AwardResult) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.subs[res.UserID] {
		select {
		case s.ch <- res:
		default:
			h.log.Warn("subscriber lagging, result dropped", "user_id", res.UserID)
		}
	}
}

// Subscribers returns the number of subscribers for a user.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}
