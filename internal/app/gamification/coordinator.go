package gamification

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tutu-network/xpcore/internal/domain"
	"github.com/tutu-network/xpcore/internal/infra/metrics"
	"github.com/tutu-network/xpcore/internal/platform/logger"
)

const tracerName = "github.com/tutu-network/xpcore/internal/app/gamification"

// DefaultMaxPasses bounds badge re-evaluation per award. Badge XP can unlock
// further badges; more passes than this are not attempted.
const DefaultMaxPasses = 2

// Config tunes the award engine.
type Config struct {
	Rewards      domain.RarityRewards
	DefaultCurve domain.LevelCurveConfig // used until an admin saves one
	Location     *time.Location          // calendar for streak days
	MaxPasses    int
	LockTimeout  time.Duration
}

// DefaultConfig returns the standard engine settings.
func DefaultConfig() Config {
	return Config{
		Rewards:      domain.DefaultRarityRewards(),
		DefaultCurve: domain.DefaultLevelCurve(),
		Location:     time.UTC,
		MaxPasses:    DefaultMaxPasses,
		LockTimeout:  5 * time.Second,
	}
}

// Coordinator runs award transactions: ledger append, counters, streak,
// badge passes, and idempotent grants, all under a per-user lock.
type Coordinator struct {
	store     domain.Store
	locker    domain.Locker
	publisher domain.Publisher
	clock     clockwork.Clock
	cfg       Config
	log       *logger.Logger
	tracer    trace.Tracer

	mu    sync.Mutex
	table *LevelTable
}

// NewCoordinator creates a coordinator with an in-process locker and the
// real clock.
func NewCoordinator(store domain.Store, cfg Config, log *logger.Logger) *Coordinator {
	def := DefaultConfig()
	if cfg.Rewards == nil {
		cfg.Rewards = def.Rewards
	}
	if cfg.DefaultCurve == (domain.LevelCurveConfig{}) {
		cfg.DefaultCurve = def.DefaultCurve
	}
	if cfg.Location == nil {
		cfg.Location = def.Location
	}
	if cfg.MaxPasses <= 0 {
		cfg.MaxPasses = def.MaxPasses
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = def.LockTimeout
	}
	return &Coordinator{
		store:  store,
		locker: NewKeyedLocker(),
		clock:  clockwork.NewRealClock(),
		cfg:    cfg,
		log:    log.With("component", "coordinator"),
		tracer: otel.Tracer(tracerName),
	}
}

// SetLocker replaces the per-user locker (e.g. with a Redis lock).
func (c *Coordinator) SetLocker(l domain.Locker) { c.locker = l }

// SetPublisher sets where award results with news are sent.
func (c *Coordinator) SetPublisher(p domain.Publisher) { c.publisher = p }

// SetClock replaces the clock. Tests use a fake one.
func (c *Coordinator) SetClock(clk clockwork.Clock) { c.clock = clk }

// ─── Award ──────────────────────────────────────────────────────────────────

// Award applies one XP event. Retrying a request with the same idempotency
// key applies nothing new and marks the result Duplicate.
func (c *Coordinator) Award(ctx context.Context, req domain.AwardRequest) (domain.AwardResult, error) {
	start := c.clock.Now()
	if err := validateRequest(req); err != nil {
		metrics.AwardsProcessed.WithLabelValues("invalid").Inc()
		return domain.AwardResult{}, err
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}
	if req.OccurredAt.IsZero() {
		req.OccurredAt = start
	}

	ctx, span := c.tracer.Start(ctx, "gamification.Award", trace.WithAttributes(
		attribute.String("user_id", req.UserID),
		attribute.String("event_type", string(req.EventType)),
		attribute.Int64("amount", req.Amount),
	))
	defer span.End()

	res, applied, err := c.award(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.AwardsProcessed.WithLabelValues("error").Inc()
		c.log.Error("award failed", "user_id", req.UserID, "event_type", req.EventType, "error", err)
		return domain.AwardResult{}, err
	}

	span.SetAttributes(
		attribute.Int("level", res.ToLevel),
		attribute.Int("badges_unlocked", len(res.UnlockedBadges)),
		attribute.Bool("duplicate", res.Duplicate),
	)
	c.recordAward(req.EventType, applied, res, "award")
	metrics.AwardLatency.Observe(c.clock.Since(start).Seconds())
	c.publish(ctx, res)

	c.log.Debug("award applied",
		"user_id", res.UserID, "event_type", req.EventType, "xp", applied,
		"total_xp", res.TotalXP, "level", res.ToLevel, "badges", len(res.UnlockedBadges),
		"duplicate", res.Duplicate)
	return res, nil
}

// Correct appends an administrative xp_correction event. It never moves
// the streak. A correction that would take XP below zero is clamped and
// the ledger records the clamped delta.
func (c *Coordinator) Correct(ctx context.Context, userID string, amount int64, description string) (domain.AwardResult, error) {
	if amount == 0 {
		return domain.AwardResult{}, fmt.Errorf("%w: correction amount must be non-zero", domain.ErrInvalidAmount)
	}
	if description == "" {
		description = "XP correction"
	}
	return c.Award(ctx, domain.AwardRequest{
		UserID:      userID,
		EventType:   domain.EventXPCorrection,
		Amount:      amount,
		Description: description,
	})
}

func (c *Coordinator) award(ctx context.Context, req domain.AwardRequest) (domain.AwardResult, int64, error) {
	unlock, err := c.lockUser(ctx, req.UserID)
	if err != nil {
		return domain.AwardResult{}, 0, err
	}
	defer unlock()

	table, err := c.LevelTable(ctx)
	if err != nil {
		return domain.AwardResult{}, 0, err
	}
	badges, err := c.store.ActiveBadges(ctx)
	if err != nil {
		return domain.AwardResult{}, 0, fmt.Errorf("load badges: %w", err)
	}

	now := c.clock.Now()
	res := domain.AwardResult{UserID: req.UserID}
	var applied int64

	err = c.store.InTx(ctx, func(tx domain.Tx) error {
		p, err := tx.LockProfile(ctx, req.UserID, now)
		if err != nil {
			return fmt.Errorf("lock profile: %w", err)
		}
		res.FromLevel = table.Level(p.TotalXP)

		delta := clampDelta(p.TotalXP, req.Amount)
		appended, err := tx.AppendXPEvent(ctx, domain.XPEvent{
			UserID:         req.UserID,
			EventType:      req.EventType,
			XPEarned:       delta,
			Description:    req.Description,
			IdempotencyKey: req.IdempotencyKey,
			CreatedAt:      req.OccurredAt,
		})
		if err != nil {
			return fmt.Errorf("append xp event: %w", err)
		}

		if appended {
			applied = delta
			p.TotalXP += delta
			p.Bump(req.EventType)
			if req.EventType.IsActivity() {
				ApplyActivity(StreakOf(*p), req.OccurredAt, c.cfg.Location).ApplyTo(p)
			}
		} else {
			res.Duplicate = true
		}

		grants, err := c.grantPasses(ctx, tx, p, table, badges, now)
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
		return domain.AwardResult{}, 0, err
	}

	res.ToLevel = table.Level(res.TotalXP)
	res.LeveledUp = res.ToLevel > res.FromLevel
	res.XPToNextLevel = table.XPToNextLevel(res.TotalXP)
	if res.UnlockedBadges == nil {
		res.UnlockedBadges = []domain.BadgeAward{}
	}
	return res, applied, nil
}

// grantPasses evaluates the not-yet-owned active badges against the
// profile's current counters and grants every qualifying one, repeating up
// to MaxPasses times so badge XP can cascade. A grant that finds the row
// already present applies no XP. p is updated in place.
func (c *Coordinator) grantPasses(ctx context.Context, tx domain.Tx, p *domain.Profile, table *LevelTable, badges []domain.BadgeDefinition, now time.Time) ([]domain.BadgeAward, error) {
	if len(badges) == 0 {
		return nil, nil
	}
	owned, err := tx.OwnedBadgeIDs(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("owned badges: %w", err)
	}

	var out []domain.BadgeAward
	for pass := 0; pass < c.cfg.MaxPasses; pass++ {
		eligible := Eligible(badges, owned, p.Counters(table.Level(p.TotalXP)))
		if len(eligible) == 0 {
			break
		}
		for _, b := range eligible {
			owned[b.ID] = true
			granted, err := tx.GrantBadge(ctx, p.UserID, b.ID, now)
			if err != nil {
				return nil, fmt.Errorf("grant badge %s: %w", b.Slug, err)
			}
			if !granted {
				metrics.GrantConflicts.Inc()
				continue
			}

			xp := clampDelta(p.TotalXP, c.cfg.Rewards.XPFor(b.Rarity))
			appended, err := tx.AppendXPEvent(ctx, domain.XPEvent{
				UserID:         p.UserID,
				EventType:      domain.EventBadgeEarned,
				XPEarned:       xp,
				Description:    "Badge earned: " + b.Title,
				IdempotencyKey: badgeEventKey(b.ID),
				CreatedAt:      now,
			})
			if err != nil {
				return nil, fmt.Errorf("append badge xp %s: %w", b.Slug, err)
			}
			if !appended {
				xp = 0
			}
			p.TotalXP += xp
			p.TotalBadges++
			out = append(out, domain.BadgeAward{Badge: b, XPAwarded: xp, UnlockedAt: now})
		}
	}
	return out, nil
}

// ─── Reads & Admin ──────────────────────────────────────────────────────────

// Profile returns the user's profile with derived level fields. Users
// without a profile get the default one; nothing is persisted.
func (c *Coordinator) Profile(ctx context.Context, userID string) (domain.ProfileView, error) {
	if userID == "" {
		return domain.ProfileView{}, domain.ErrInvalidUserID
	}
	table, err := c.LevelTable(ctx)
	if err != nil {
		return domain.ProfileView{}, err
	}
	p, err := c.store.Profile(ctx, userID)
	if err != nil {
		return domain.ProfileView{}, fmt.Errorf("get profile: %w", err)
	}
	if p == nil {
		def := domain.NewProfile(userID, time.Time{})
		p = &def
	}
	return table.View(*p), nil
}

// LevelCurve returns the active curve config.
func (c *Coordinator) LevelCurve(ctx context.Context) (domain.LevelCurveConfig, error) {
	t, err := c.LevelTable(ctx)
	if err != nil {
		return domain.LevelCurveConfig{}, err
	}
	return t.Config(), nil
}

// SetLevelCurve validates and stores a new curve. It applies to the next
// award; stored XP is untouched.
func (c *Coordinator) SetLevelCurve(ctx context.Context, cfg domain.LevelCurveConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := c.store.SaveLevelCurve(ctx, cfg); err != nil {
		return fmt.Errorf("save level curve: %w", err)
	}
	c.log.Info("level curve updated", "xp_base", cfg.XPBase, "xp_multiplier", cfg.XPMultiplier, "max_level", cfg.MaxLevel)
	return nil
}

// LevelTable loads the current curve from the store and returns its table.
// The table is rebuilt only when the stored config changes.
func (c *Coordinator) LevelTable(ctx context.Context) (*LevelTable, error) {
	cfg, err := c.store.LevelCurve(ctx)
	if err != nil {
		return nil, fmt.Errorf("load level curve: %w", err)
	}
	curve := c.cfg.DefaultCurve
	if cfg != nil {
		curve = *cfg
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.table == nil || c.table.Config() != curve {
		c.table = NewLevelTable(curve)
	}
	return c.table, nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func (c *Coordinator) lockUser(ctx context.Context, userID string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, c.cfg.LockTimeout)
	defer cancel()
	unlock, err := c.locker.Lock(lockCtx, "user:"+userID)
	if err != nil {
		return nil, fmt.Errorf("lock user %s: %w", userID, err)
	}
	return unlock, nil
}

func (c *Coordinator) recordAward(eventType domain.EventType, applied int64, res domain.AwardResult, source string) {
	if res.Duplicate {
		metrics.AwardsProcessed.WithLabelValues("duplicate").Inc()
	} else if source == "award" {
		metrics.AwardsProcessed.WithLabelValues("applied").Inc()
	}
	if applied < 0 {
		applied = -applied
	}
	if applied > 0 {
		metrics.XPAwarded.WithLabelValues(string(eventType)).Add(float64(applied))
	}
	for _, g := range res.UnlockedBadges {
		metrics.BadgesGranted.WithLabelValues(string(g.Badge.Rarity), source).Inc()
		if g.XPAwarded > 0 {
			metrics.XPAwarded.WithLabelValues(string(domain.EventBadgeEarned)).Add(float64(g.XPAwarded))
		}
	}
	if res.LeveledUp {
		metrics.LevelUps.Inc()
	}
}

func (c *Coordinator) publish(ctx context.Context, res domain.AwardResult) {
	if c.publisher == nil || (len(res.UnlockedBadges) == 0 && !res.LeveledUp) {
		return
	}
	if err := c.publisher.Publish(ctx, res); err != nil {
		c.log.Warn("publish award result", "user_id", res.UserID, "error", err)
	}
}

func validateRequest(req domain.AwardRequest) error {
	if req.UserID == "" {
		return domain.ErrInvalidUserID
	}
	if !req.EventType.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidEventType, req.EventType)
	}
	if req.Amount < 0 && !req.EventType.AllowsNegative() {
		return fmt.Errorf("%w: %s %d", domain.ErrNegativeAmount, req.EventType, req.Amount)
	}
	if strings.HasPrefix(req.IdempotencyKey, badgeKeyPrefix) {
		return fmt.Errorf("%w: %q", domain.ErrReservedIdempotencyKey, req.IdempotencyKey)
	}
	return nil
}

// clampDelta returns the part of amount that keeps total within
// [0, math.MaxInt64].
func clampDelta(total, amount int64) int64 {
	if amount > 0 && total > math.MaxInt64-amount {
		return math.MaxInt64 - total
	}
	if total+amount < 0 {
		return -total
	}
	return amount
}

// badgeKeyPrefix marks ledger keys written by badge grants. Caller keys may
// not use it.
const badgeKeyPrefix = "badge:"

func badgeEventKey(badgeID string) string {
	return badgeKeyPrefix + badgeID
}
