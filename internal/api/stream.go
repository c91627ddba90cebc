package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tutu-network/xpcore/internal/app/notify"
	"github.com/tutu-network/xpcore/internal/domain"
)

// streamBuffer bounds queue events waiting to be written to one client.
const streamBuffer = 64

// streamSet tracks the queues behind each user's open streams so a
// dismissal can reach them.
type streamSet struct {
	mu     sync.Mutex
	queues map[string]map[*notify.Queue]struct{}
}

func (s *streamSet) add(userID string, q *notify.Queue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queues == nil {
		s.queues = make(map[string]map[*notify.Queue]struct{})
	}
	if s.queues[userID] == nil {
		s.queues[userID] = make(map[*notify.Queue]struct{})
	}
	s.queues[userID][q] = struct{}{}
}

func (s *streamSet) remove(userID string, q *notify.Queue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.queues[userID], q)
	if len(s.queues[userID]) == 0 {
		delete(s.queues, userID)
	}
}

func (s *streamSet) get(userID string) []*notify.Queue {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*notify.Queue, 0, len(s.queues[userID]))
	for q := range s.queues[userID] {
		out = append(out, q)
	}
	return out
}

// GET /api/users/{userID}/notifications/stream
//
// Each connection gets its own notification queue. Award results for the
// user are expanded into items and the queue's show events are written as
// SSE frames named after the item kind.
func (s *Server) handleNotificationStream(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, domain.ErrInvalidUserID.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	results, unsubscribe := s.hub.Subscribe(userID)
	defer unsubscribe()

	events := make(chan notify.Event, streamBuffer)
	q := notify.NewQueue(s.notifyCfg, nil, func(e notify.Event) {
		select {
		case events <- e:
		default:
			s.log.Warn("notification stream lagging, event dropped", "user_id", userID)
		}
	})
	go q.Run(ctx)
	s.streams.add(userID, q)
	defer s.streams.remove(userID, q)

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-results:
			if !ok {
				return
			}
			if err := q.EnqueueMany(notify.ItemsFromResult(res)); err != nil {
				return
			}
		case e := <-events:
			if e.Type != notify.EventShow {
				continue
			}
			data, err := json.Marshal(e.Item)
			if err != nil {
				s.log.Warn("failed to marshal notification", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Item.Kind, data)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

// POST /api/users/{userID}/notifications/dismiss
//
// Closes the item currently shown on each of the user's open streams. The
// next item follows after the settle delay.
func (s *Server) handleDismissNotification(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	queues := s.streams.get(userID)
	if len(queues) == 0 {
		writeError(w, http.StatusNotFound, "no open notification stream for "+userID)
		return
	}
	dismissed := 0
	for _, q := range queues {
		// A queue whose stream just ended reports ErrQueueClosed.
		if err := q.Dismiss(); err == nil {
			dismissed++
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"streams": dismissed})
}
