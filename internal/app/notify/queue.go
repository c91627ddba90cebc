// Package notify serializes presentation of earned badges and level-ups.
//
// A Queue shows one item at a time. Closing an item (dismissal or the
// auto-close timer) is followed by a short settle delay before the next item
// is shown. All queue state is owned by the goroutine running Run; every
// public method is a message to it.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tutu-network/xpcore/internal/domain"
	"github.com/tutu-network/xpcore/internal/infra/metrics"
)

// ErrQueueClosed is returned by calls made after Run has exited.
var ErrQueueClosed = errors.New("notify: queue closed")

// ─── Items & Events ─────────────────────────────────────────────────────────

// Kind is the type of notification.
type Kind string

const (
	KindBadge   Kind = "badge"
	KindLevelUp Kind = "level_up"
)

// Item is one thing to present.
type Item struct {
	Kind      Kind                    `json:"kind"`
	UserID    string                  `json:"user_id"`
	Badge     *domain.BadgeDefinition `json:"badge,omitempty"`
	XPAwarded int64                   `json:"xp_awarded,omitempty"`
	FromLevel int                     `json:"from_level,omitempty"`
	Level     int                     `json:"level,omitempty"`
}

// ItemsFromResult turns an award result into queue items: unlocked badges
// in unlock order, then the level-up if there was one.
func ItemsFromResult(res domain.AwardResult) []Item {
	items := make([]Item, 0, len(res.UnlockedBadges)+1)
	for _, ba := range res.UnlockedBadges {
		b := ba.Badge
		items = append(items, Item{
			Kind:      KindBadge,
			UserID:    res.UserID,
			Badge:     &b,
			XPAwarded: ba.XPAwarded,
		})
	}
	if res.LeveledUp {
		items = append(items, Item{
			Kind:      KindLevelUp,
			UserID:    res.UserID,
			FromLevel: res.FromLevel,
			Level:     res.ToLevel,
		})
	}
	return items
}

// EventType says whether an item appeared or went away.
type EventType string

const (
	EventShow  EventType = "show"
	EventClose EventType = "close"
)

// Event is emitted to the sink on every transition.
type Event struct {
	Type EventType `json:"type"`
	Item Item      `json:"item"`
	At   time.Time `json:"at"`
}

// ─── State ──────────────────────────────────────────────────────────────────

// State is the presentation state of a queue.
type State int

const (
	StateIdle State = iota
	StateShowing
	StateSettling
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateShowing:
		return "showing"
	case StateSettling:
		return "settling"
	default:
		return "unknown"
	}
}

// ─── Configuration ──────────────────────────────────────────────────────────

// Config sets the queue timings.
type Config struct {
	AutoClose time.Duration // default 6s
	Settle    time.Duration // default 400ms
}

// DefaultConfig returns the default timings.
func DefaultConfig() Config {
	return Config{
		AutoClose: 6 * time.Second,
		Settle:    400 * time.Millisecond,
	}
}

// ─── Queue ──────────────────────────────────────────────────────────────────

// Queue is a single-consumer FIFO of notifications.
type Queue struct {
	cfg   Config
	clock clockwork.Clock
	sink  func(Event)

	cmds chan func()
	done chan struct{}

	// Owned by the Run goroutine.
	state   State
	current Item
	pending []Item
	timer   clockwork.Timer
}

// NewQueue builds a queue. sink is called from the Run goroutine and must
// not call back into the queue.
func NewQueue(cfg Config, clock clockwork.Clock, sink func(Event)) *Queue {
	def := DefaultConfig()
	if cfg.AutoClose <= 0 {
		cfg.AutoClose = def.AutoClose
	}
	if cfg.Settle <= 0 {
		cfg.Settle = def.Settle
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if sink == nil {
		sink = func(Event) {}
	}
	return &Queue{
		cfg:   cfg,
		clock: clock,
		sink:  sink,
		cmds:  make(chan func()),
		done:  make(chan struct{}),
	}
}

// Run processes commands and timers until ctx is done. Pending items and
// running timers are dropped on exit.
func (q *Queue) Run(ctx context.Context) {
	defer close(q.done)
	defer q.stopTimer()

	for {
		var timerC <-chan time.Time
		if q.timer != nil {
			timerC = q.timer.Chan()
		}

		select {
		case <-ctx.Done():
			return
		case cmd := <-q.cmds:
			cmd()
		case <-timerC:
			q.timer = nil
			q.onTimer()
		}
	}
}

// Done is closed once Run has exited.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Enqueue adds one item.
func (q *Queue) Enqueue(item Item) error {
	return q.EnqueueMany([]Item{item})
}

// EnqueueMany appends items in order. When the queue is idle the first one
// is shown immediately.
func (q *Queue) EnqueueMany(items []Item) error {
	if len(items) == 0 {
		return nil
	}
	items = append([]Item(nil), items...)
	return q.do(func() {
		q.pending = append(q.pending, items...)
		if q.state == StateIdle {
			q.promote()
		}
	})
}

// Dismiss closes the item being shown. It is a no-op in any other state.
func (q *Queue) Dismiss() error {
	return q.do(func() {
		if q.state == StateShowing {
			q.closeCurrent()
		}
	})
}

// State reports the current presentation state.
func (q *Queue) State() (State, error) {
	var s State
	err := q.do(func() { s = q.state })
	return s, err
}

// Len reports how many items wait behind the one being shown.
func (q *Queue) Len() (int, error) {
	var n int
	err := q.do(func() { n = len(q.pending) })
	return n, err
}

// do runs fn on the Run goroutine and waits for it.
func (q *Queue) do(fn func()) error {
	ran := make(chan struct{})
	cmd := func() {
		fn()
		close(ran)
	}
	select {
	case q.cmds <- cmd:
	case <-q.done:
		return ErrQueueClosed
	}
	<-ran
	return nil
}

// ─── Transitions (Run goroutine only) ───────────────────────────────────────

func (q *Queue) onTimer() {
	switch q.state {
	case StateShowing:
		q.closeCurrent()
	case StateSettling:
		q.promote()
	}
}

// promote shows the next pending item, or goes idle.
func (q *Queue) promote() {
	if len(q.pending) == 0 {
		q.state = StateIdle
		q.current = Item{}
		return
	}
	q.current = q.pending[0]
	q.pending[0] = Item{}
	q.pending = q.pending[1:]
	q.state = StateShowing

	metrics.NotificationsShown.WithLabelValues(string(q.current.Kind)).Inc()
	q.sink(Event{Type: EventShow, Item: q.current, At: q.clock.Now()})
	q.startTimer(q.cfg.AutoClose)
}

func (q *Queue) closeCurrent() {
	q.stopTimer()
	q.sink(Event{Type: EventClose, Item: q.current, At: q.clock.Now()})
	q.current = Item{}
	q.state = StateSettling
	q.startTimer(q.cfg.Settle)
}

func (q *Queue) startTimer(d time.Duration) {
	q.stopTimer()
	q.timer = q.clock.NewTimer(d)
}

func (q *Queue) stopTimer() {
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
}
