// Package api provides the HTTP server for xpcore: award ingestion, profile
// and badge reads, admin endpoints, and per-user notification streams.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tutu-network/xpcore/internal/app/gamification"
	"github.com/tutu-network/xpcore/internal/app/notify"
	"github.com/tutu-network/xpcore/internal/domain"
	"github.com/tutu-network/xpcore/internal/health"
	"github.com/tutu-network/xpcore/internal/platform/logger"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Server is the xpcore HTTP API server.
type Server struct {
	coord      *gamification.Coordinator
	catalog    *gamification.Catalog
	reconciler *gamification.Reconciler
	store      domain.Store
	log        *logger.Logger

	// nil hub disables notification streams; nil checker reports ok.
	hub            *notify.Hub
	notifyCfg      notify.Config
	streams        streamSet
	checker        *health.Checker
	metricsEnabled bool
	heartbeat      time.Duration
	timeout        time.Duration
}

// NewServer creates a new API server.
func NewServer(coord *gamification.Coordinator, catalog *gamification.Catalog, reconciler *gamification.Reconciler, store domain.Store, log *logger.Logger) *Server {
	return &Server{
		coord:      coord,
		catalog:    catalog,
		reconciler: reconciler,
		store:      store,
		log:        log.With("component", "api"),
		notifyCfg:  notify.DefaultConfig(),
		heartbeat:  15 * time.Second,
		timeout:    time.Minute,
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetHub enables the notification stream endpoint.
func (s *Server) SetHub(h *notify.Hub, cfg notify.Config) {
	s.hub = h
	s.notifyCfg = cfg
}

// SetHealth serves checker results on /health.
func (s *Server) SetHealth(c *health.Checker) { s.checker = c }

// SetTimeout sets the per-request timeout for non-streaming routes.
func (s *Server) SetTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/health", s.handleHealth)

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		timeout := middleware.Timeout(s.timeout)

		r.Group(func(r chi.Router) {
			r.Use(timeout)
			r.Post("/awards", s.handleAward)
			r.Get("/badges", s.handleListBadges)

			r.Route("/admin", func(r chi.Router) {
				r.Put("/badges", s.handleImportBadges)
				r.Get("/level-curve", s.handleGetLevelCurve)
				r.Put("/level-curve", s.handleSetLevelCurve)
				r.Post("/corrections", s.handleCorrection)
				r.Post("/reconcile", s.handleReconcile)
			})
		})

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(timeout)
				r.Get("/profile", s.handleProfile)
				r.Get("/badges", s.handleUserBadges)
				r.Put("/badges/{badgeID}/featured", s.handleSetFeatured)
				r.Get("/xp-events", s.handleXPEvents)
			})

			// Streams are long-lived and stay outside the timeout group.
			if s.hub != nil {
				r.Get("/notifications/stream", s.handleNotificationStream)
				r.With(timeout).Post("/notifications/dismiss", s.handleDismissNotification)
			}
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.checker == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	status, code := "ok", http.StatusOK
	if !s.checker.IsHealthy() {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status": status,
		"checks": s.checker.Statuses(),
	})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    errorType(status),
		},
	})
}

func errorType(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusServiceUnavailable:
		return "unavailable"
	default:
		return "error"
	}
}

// writeDomainError maps domain sentinels onto status codes.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case domain.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case domain.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrLockTimeout):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.log.Error("request failed", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// corsMiddleware adds CORS headers for browser clients.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
