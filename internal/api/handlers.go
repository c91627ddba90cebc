package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tutu-network/xpcore/internal/domain"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// ─── Awards ─────────────────────────────────────────────────────────────────

// POST /api/awards
func (s *Server) handleAward(w http.ResponseWriter, r *http.Request) {
	var req domain.AwardRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" && req.IdempotencyKey == "" {
		req.IdempotencyKey = key
	}

	res, err := s.coord.Award(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	status := http.StatusOK
	if !res.Duplicate {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

// ─── User Reads ─────────────────────────────────────────────────────────────

// GET /api/users/{userID}/profile
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	view, err := s.coord.Profile(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GET /api/users/{userID}/badges
func (s *Server) handleUserBadges(w http.ResponseWriter, r *http.Request) {
	badges, err := s.store.UserBadges(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if badges == nil {
		badges = []domain.EarnedBadge{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"badges": badges})
}

// PUT /api/users/{userID}/badges/{badgeID}/featured
func (s *Server) handleSetFeatured(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Featured bool `json:"featured"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	userID, badgeID := chi.URLParam(r, "userID"), chi.URLParam(r, "badgeID")
	if err := s.store.SetFeatured(r.Context(), userID, badgeID, body.Featured); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":     userID,
		"badge_id":    badgeID,
		"is_featured": body.Featured,
	})
}

// GET /api/users/{userID}/xp-events?limit=N
func (s *Server) handleXPEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxEventLimit)
	}

	events, err := s.store.XPEvents(r.Context(), chi.URLParam(r, "userID"), limit)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if events == nil {
		events = []domain.XPEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// ─── Catalog ────────────────────────────────────────────────────────────────

// GET /api/badges?all=true
func (s *Server) handleListBadges(w http.ResponseWriter, r *http.Request) {
	all := strings.EqualFold(r.URL.Query().Get("all"), "true")

	var (
		badges []domain.BadgeDefinition
		err    error
	)
	if all {
		badges, err = s.store.Badges(r.Context())
	} else {
		badges, err = s.store.ActiveBadges(r.Context())
	}
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if badges == nil {
		badges = []domain.BadgeDefinition{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"badges": badges})
}

// ─── Admin ──────────────────────────────────────────────────────────────────

// PUT /api/admin/badges
func (s *Server) handleImportBadges(w http.ResponseWriter, r *http.Request) {
	var badges []domain.BadgeDefinition
	if !decodeJSON(w, r, &badges) {
		return
	}
	n, err := s.catalog.Import(r.Context(), badges)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"imported": n})
}

// GET /api/admin/level-curve
func (s *Server) handleGetLevelCurve(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.coord.LevelCurve(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// PUT /api/admin/level-curve
func (s *Server) handleSetLevelCurve(w http.ResponseWriter, r *http.Request) {
	var cfg domain.LevelCurveConfig
	if !decodeJSON(w, r, &cfg) {
		return
	}
	if err := s.coord.SetLevelCurve(r.Context(), cfg); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// POST /api/admin/corrections
func (s *Server) handleCorrection(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID      string `json:"user_id"`
		Amount      int64  `json:"amount"`
		Description string `json:"description"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	res, err := s.coord.Correct(r.Context(), body.UserID, body.Amount, body.Description)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// POST /api/admin/reconcile
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if s.reconciler == nil {
		writeError(w, http.StatusServiceUnavailable, "reconciliation is not configured")
		return
	}
	report, err := s.reconciler.Run(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
