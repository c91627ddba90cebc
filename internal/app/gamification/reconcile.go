package gamification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/tutu-network/xpcore/internal/domain"
	"github.com/tutu-network/xpcore/internal/infra/metrics"
	"github.com/tutu-network/xpcore/internal/platform/logger"
)

// ProgressSource supplies authoritative activity counts per user.
// domain.Store implements it by counting ledger rows.
type ProgressSource interface {
	ProgressCounts(ctx context.Context, userID string) (domain.ProgressCounts, error)
}

// ReconcileConfig tunes a sweep.
type ReconcileConfig struct {
	Workers  int  // users reconciled in parallel
	PageSize int  // user ids fetched per page
	RepairXP bool // overwrite total_xp with the ledger sum on drift
}

// XPDrift records a user whose cached total disagreed with the ledger.
type XPDrift struct {
	UserID   string `json:"user_id"`
	Cached   int64  `json:"cached"`
	Ledger   int64  `json:"ledger"`
	Repaired bool   `json:"repaired"`
}

// ReconcileReport summarizes one sweep.
type ReconcileReport struct {
	UsersScanned  int           `json:"users_scanned"`
	UsersFailed   int           `json:"users_failed"`
	FailedUsers   []string      `json:"failed_users,omitempty"`
	BadgesGranted int           `json:"badges_granted"`
	SkippedBadges []string      `json:"skipped_badges,omitempty"`
	Drift         []XPDrift     `json:"drift,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// Reconciler re-runs badge evaluation for every profile and grants what
// live awards missed. It shares the coordinator's lock, tables, and grant
// passes, so it is safe next to live traffic and safe to repeat.
type Reconciler struct {
	coord  *Coordinator
	source ProgressSource
	cfg    ReconcileConfig
	log    *logger.Logger

	running sync.Mutex
}

// NewReconciler creates a reconciler. A nil source counts the ledger.
func NewReconciler(coord *Coordinator, source ProgressSource, cfg ReconcileConfig) *Reconciler {
	if source == nil {
		source = coord.store
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 200
	}
	return &Reconciler{
		coord:  coord,
		source: source,
		cfg:    cfg,
		log:    coord.log.With("component", "reconciler"),
	}
}

// Run sweeps all users. Per-user failures are logged and counted; only
// context cancellation or a failure to page users ends the sweep early.
// Overlapping calls wait for the running sweep to finish.
func (r *Reconciler) Run(ctx context.Context) (ReconcileReport, error) {
	r.running.Lock()
	defer r.running.Unlock()

	start := r.coord.clock.Now()
	ctx, span := r.coord.tracer.Start(ctx, "gamification.Reconcile")
	defer span.End()

	var (
		mu     sync.Mutex
		report ReconcileReport
	)

	table, err := r.coord.LevelTable(ctx)
	if err != nil {
		return report, err
	}
	catalog, err := r.coord.store.Badges(ctx)
	if err != nil {
		return report, fmt.Errorf("load badges: %w", err)
	}
	badges := make([]domain.BadgeDefinition, 0, len(catalog))
	for _, b := range catalog {
		if !Evaluable(b) {
			r.log.Debug("skipping badge", "slug", b.Slug, "active", b.IsActive, "requirement_type", b.RequirementType)
			report.SkippedBadges = append(report.SkippedBadges, b.Slug)
			continue
		}
		badges = append(badges, b)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)

	after := ""
	var pageErr error
	for {
		if gctx.Err() != nil {
			break
		}
		ids, err := r.coord.store.ListUserIDs(gctx, after, r.cfg.PageSize)
		if err != nil {
			pageErr = fmt.Errorf("list users after %q: %w", after, err)
			break
		}
		if len(ids) == 0 {
			break
		}
		for _, id := range ids {
			g.Go(func() error {
				res, drift, err := r.reconcileUser(gctx, id, table, badges)

				mu.Lock()
				defer mu.Unlock()
				report.UsersScanned++
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					report.UsersFailed++
					report.FailedUsers = append(report.FailedUsers, id)
					metrics.ReconcileUserFailures.Inc()
					r.log.Warn("reconcile user failed", "user_id", id, "error", err)
					return nil
				}
				if drift != nil {
					report.Drift = append(report.Drift, *drift)
				}
				report.BadgesGranted += len(res.UnlockedBadges)
				return nil
			})
		}
		after = ids[len(ids)-1]
		if len(ids) < r.cfg.PageSize {
			break
		}
	}

	waitErr := g.Wait()
	report.Duration = r.coord.clock.Since(start)

	metrics.ReconcileRuns.Inc()
	metrics.ReconcileDuration.Observe(report.Duration.Seconds())
	span.SetAttributes(
		attribute.Int("users_scanned", report.UsersScanned),
		attribute.Int("users_failed", report.UsersFailed),
		attribute.Int("badges_granted", report.BadgesGranted),
	)
	r.log.Info("reconcile finished",
		"users", report.UsersScanned, "failed", report.UsersFailed,
		"badges_granted", report.BadgesGranted, "drift", len(report.Drift),
		"duration", report.Duration)

	if pageErr != nil {
		return report, pageErr
	}
	if waitErr != nil {
		return report, waitErr
	}
	return report, ctx.Err()
}

// reconcileUser refreshes one user's counters from the progress source,
// checks the cached XP against the ledger, and runs the grant passes.
func (r *Reconciler) reconcileUser(ctx context.Context, userID string, table *LevelTable, badges []domain.BadgeDefinition) (domain.AwardResult, *XPDrift, error) {
	unlock, err := r.coord.lockUser(ctx, userID)
	if err != nil {
		return domain.AwardResult{}, nil, err
	}
	defer unlock()

	progress, err := r.source.ProgressCounts(ctx, userID)
	if err != nil {
		return domain.AwardResult{}, nil, fmt.Errorf("progress counts: %w", err)
	}

	now := r.coord.clock.Now()
	res := domain.AwardResult{UserID: userID}
	var drift *XPDrift

	err = r.coord.store.InTx(ctx, func(tx domain.Tx) error {
		p, err := tx.LockProfile(ctx, userID, now)
		if err != nil {
			return fmt.Errorf("lock profile: %w", err)
		}
		res.FromLevel = table.Level(p.TotalXP)
		refreshCounters(p, progress)

		ledger, err := tx.LedgerTotal(ctx, userID)
		if err != nil {
			return fmt.Errorf("ledger total: %w", err)
		}
		if ledger != p.TotalXP {
			drift = &XPDrift{UserID: userID, Cached: p.TotalXP, Ledger: ledger}
			if r.cfg.RepairXP {
				p.TotalXP = max(ledger, 0)
				drift.Repaired = true
			}
		}

		grants, err := r.coord.grantPasses(ctx, tx, p, table, badges, now)
		if err != nil {
			return err
		}
		res.UnlockedBadges = grants

		p.UpdatedAt = now
		if err := tx.SaveProfile(ctx, *p); err != nil {
			return fmt.Errorf("save profile: %w", err)
		}
		res.TotalXP = p.TotalXP
		res.CurrentStreak = p.CurrentStreak
		return nil
	})
	if err != nil {
		return domain.AwardResult{}, nil, err
	}

	res.ToLevel = table.Level(res.TotalXP)
	res.LeveledUp = res.ToLevel > res.FromLevel
	res.XPToNextLevel = table.XPToNextLevel(res.TotalXP)

	if drift != nil {
		metrics.ReconcileDrift.Inc()
		r.log.Warn("xp drift", "user_id", userID, "cached", drift.Cached, "ledger", drift.Ledger, "repaired", drift.Repaired)
	}
	if len(res.UnlockedBadges) > 0 {
		r.log.Info("reconcile granted badges", "user_id", userID, "count", len(res.UnlockedBadges))
	}
	r.coord.recordAward(domain.EventBadgeEarned, 0, res, "reconcile")
	r.coord.publish(ctx, res)
	return res, drift, nil
}

// refreshCounters raises profile counters to the authoritative counts.
// Counters never move down.
func refreshCounters(p *domain.Profile, c domain.ProgressCounts) {
	p.LessonsCompleted = max(p.LessonsCompleted, c.LessonsCompleted)
	p.CoursesCompleted = max(p.CoursesCompleted, c.CoursesCompleted)
	p.QuizzesPassed = max(p.QuizzesPassed, c.QuizzesPassed)
	p.CertificatesEarned = max(p.CertificatesEarned, c.CertificatesEarned)
}
