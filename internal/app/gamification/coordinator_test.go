package gamification_test

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutu-network/xpcore/internal/app/gamification"
	"github.com/tutu-network/xpcore/internal/domain"
	"github.com/tutu-network/xpcore/internal/infra/sqlite"
	"github.com/tutu-network/xpcore/internal/platform/logger"
)

var engineStart = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type engine struct {
	store   *sqlite.DB
	coord   *gamification.Coordinator
	catalog *gamification.Catalog
	clock   *clockwork.FakeClock
}

// newEngine wires a coordinator over a temp SQLite store with the default
// curve {100, 1.5, 50} and the given catalog.
func newEngine(t *testing.T, badges ...domain.BadgeDefinition) *engine {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clk := clockwork.NewFakeClockAt(engineStart)
	coord := gamification.NewCoordinator(db, gamification.DefaultConfig(), logger.Nop())
	coord.SetClock(clk)

	catalog := gamification.NewCatalog(db, logger.Nop())
	if len(badges) > 0 {
		_, err := catalog.Import(context.Background(), badges)
		require.NoError(t, err)
	}
	return &engine{store: db, coord: coord, catalog: catalog, clock: clk}
}

func badgeDef(slug string, rarity domain.Rarity, rt domain.RequirementType, value int64) domain.BadgeDefinition {
	return domain.BadgeDefinition{
		Slug:             slug,
		Title:            slug,
		Rarity:           rarity,
		RequirementType:  rt,
		RequirementValue: value,
		IsActive:         true,
	}
}

func lesson(userID string, amount int64, key string) domain.AwardRequest {
	return domain.AwardRequest{
		UserID:         userID,
		EventType:      domain.EventLessonCompleted,
		Amount:         amount,
		Description:    "lesson",
		IdempotencyKey: key,
	}
}

func (e *engine) profile(t *testing.T, userID string) domain.Profile {
	t.Helper()
	p, err := e.store.Profile(context.Background(), userID)
	require.NoError(t, err)
	require.NotNil(t, p, "profile %s should exist", userID)
	return *p
}

func (e *engine) ledgerSum(t *testing.T, userID string) int64 {
	t.Helper()
	events, err := e.store.XPEvents(context.Background(), userID, 1000)
	require.NoError(t, err)
	var sum int64
	for _, ev := range events {
		sum += ev.XPEarned
	}
	return sum
}

var firstSteps = badgeDef("first-steps", domain.RarityCommon, domain.RequirementLessonsCompleted, 1)

// ─── Award ──────────────────────────────────────────────────────────────────

func TestAward_FirstLessonGrantsBadge(t *testing.T) {
	e := newEngine(t, firstSteps)
	ctx := context.Background()

	res, err := e.coord.Award(ctx, lesson("u1", 50, "k1"))
	require.NoError(t, err)

	assert.Equal(t, int64(60), res.TotalXP, "50 lesson XP + 10 common badge XP")
	assert.Equal(t, 1, res.CurrentStreak)
	assert.False(t, res.Duplicate)
	require.Len(t, res.UnlockedBadges, 1)
	assert.Equal(t, "first-steps", res.UnlockedBadges[0].Badge.Slug)
	assert.Equal(t, int64(10), res.UnlockedBadges[0].XPAwarded)

	p := e.profile(t, "u1")
	assert.Equal(t, int64(60), p.TotalXP)
	assert.Equal(t, 1, p.LessonsCompleted)
	assert.Equal(t, 1, p.TotalBadges)
	assert.Equal(t, p.TotalXP, e.ledgerSum(t, "u1"), "cached total must equal the ledger sum")

	events, err := e.store.XPEvents(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventBadgeEarned, events[0].EventType)
	assert.Equal(t, "badge:"+gamification.BadgeID("first-steps"), events[0].IdempotencyKey)
}

func TestAward_DuplicateKeyAppliesNothing(t *testing.T) {
	e := newEngine(t, firstSteps)
	ctx := context.Background()

	first, err := e.coord.Award(ctx, lesson("u1", 50, "retry-me"))
	require.NoError(t, err)

	second, err := e.coord.Award(ctx, lesson("u1", 50, "retry-me"))
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.TotalXP, second.TotalXP)
	assert.Empty(t, second.UnlockedBadges)

	p := e.profile(t, "u1")
	assert.Equal(t, 1, p.LessonsCompleted, "counters must not double count")
	assert.Equal(t, int64(60), p.TotalXP)

	events, err := e.store.XPEvents(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestAward_GeneratedKeysAreDistinct(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := e.coord.Award(ctx, lesson("u1", 10, ""))
		require.NoError(t, err)
	}
	assert.Equal(t, int64(30), e.profile(t, "u1").TotalXP)
}

func TestAward_Validation(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  domain.AwardRequest
		want error
	}{
		{"missing user", domain.AwardRequest{EventType: domain.EventLessonCompleted, Amount: 10}, domain.ErrInvalidUserID},
		{"bad event type", domain.AwardRequest{UserID: "u1", EventType: "Lesson Done", Amount: 10}, domain.ErrInvalidEventType},
		{"empty event type", domain.AwardRequest{UserID: "u1", Amount: 10}, domain.ErrInvalidEventType},
		{"negative lesson", domain.AwardRequest{UserID: "u1", EventType: domain.EventLessonCompleted, Amount: -5}, domain.ErrNegativeAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.coord.Award(ctx, tt.req)
			require.ErrorIs(t, err, tt.want)
			assert.True(t, domain.IsValidation(err))
		})
	}

	p, err := e.store.Profile(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, p, "rejected awards must not create a profile")
}

func TestAward_CustomEventTypeKeepsStreakButNoCounter(t *testing.T) {
	e := newEngine(t)
	res, err := e.coord.Award(context.Background(), domain.AwardRequest{
		UserID: "u1", EventType: "forum_post", Amount: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.CurrentStreak)

	p := e.profile(t, "u1")
	assert.Equal(t, 0, p.LessonsCompleted)
	assert.Equal(t, int64(5), p.TotalXP)
}

func TestAward_ZeroAmountStillCounts(t *testing.T) {
	e := newEngine(t, firstSteps)
	res, err := e.coord.Award(context.Background(), lesson("u1", 0, "k"))
	require.NoError(t, err)
	assert.Len(t, res.UnlockedBadges, 1)
	assert.Equal(t, int64(10), res.TotalXP)
}

// ─── Streaks ────────────────────────────────────────────────────────────────

func TestAward_StreakAcrossDays(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	steps := []struct {
		advance time.Duration
		want    int
	}{
		{0, 1},
		{3 * time.Hour, 1},
		{24 * time.Hour, 2},
		{24 * time.Hour, 3},
		{72 * time.Hour, 1},
	}
	for i, s := range steps {
		e.clock.Advance(s.advance)
		res, err := e.coord.Award(ctx, lesson("u1", 10, fmt.Sprintf("k%d", i)))
		require.NoError(t, err)
		assert.Equal(t, s.want, res.CurrentStreak, "step %d", i)
	}

	p := e.profile(t, "u1")
	assert.Equal(t, 3, p.LongestStreak)
}

func TestAward_OccurredAtDrivesStreakDay(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	req := lesson("u1", 10, "yesterday")
	req.OccurredAt = engineStart.AddDate(0, 0, -1)
	_, err := e.coord.Award(ctx, req)
	require.NoError(t, err)

	res, err := e.coord.Award(ctx, lesson("u1", 10, "today"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.CurrentStreak)
}

// ─── Corrections ────────────────────────────────────────────────────────────

func TestCorrect_ClampsAtZero(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	_, err := e.coord.Award(ctx, lesson("u1", 30, "k1"))
	require.NoError(t, err)

	res, err := e.coord.Correct(ctx, "u1", -100, "refund")
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.TotalXP)

	events, err := e.store.XPEvents(ctx, "u1", 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventXPCorrection, events[0].EventType)
	assert.Equal(t, int64(-30), events[0].XPEarned, "ledger records the clamped delta")
	assert.Equal(t, int64(0), e.ledgerSum(t, "u1"))
}

func TestCorrect_DoesNotTouchStreak(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	_, err := e.coord.Award(ctx, lesson("u1", 30, "k1"))
	require.NoError(t, err)
	before := e.profile(t, "u1")

	e.clock.Advance(48 * time.Hour)
	res, err := e.coord.Correct(ctx, "u1", 20, "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.CurrentStreak)

	after := e.profile(t, "u1")
	assert.True(t, before.LastActivityDate.Equal(after.LastActivityDate))
	assert.Equal(t, int64(50), after.TotalXP)
}

func TestCorrect_ZeroRejected(t *testing.T) {
	e := newEngine(t)
	_, err := e.coord.Correct(context.Background(), "u1", 0, "")
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
}

// ─── XP Bounds & Keys ───────────────────────────────────────────────────────

func TestAward_HugeAmountSaturates(t *testing.T) {
	marathon := badgeDef("marathon", domain.RarityLegendary, domain.RequirementLessonsCompleted, 2)
	e := newEngine(t, marathon)
	ctx := context.Background()

	_, err := e.coord.Award(ctx, lesson("u1", 500, "a"))
	require.NoError(t, err)

	res, err := e.coord.Award(ctx, lesson("u1", math.MaxInt64, "b"))
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), res.TotalXP, "a positive award never lowers XP")
	require.Len(t, res.UnlockedBadges, 1)
	assert.Zero(t, res.UnlockedBadges[0].XPAwarded, "no headroom left for the badge reward")

	events, err := e.store.XPEvents(ctx, "u1", 10)
	require.NoError(t, err)
	for _, ev := range events {
		assert.GreaterOrEqual(t, ev.XPEarned, int64(0), "%s row must not be negative", ev.EventType)
	}
	assert.Equal(t, int64(math.MaxInt64), e.ledgerSum(t, "u1"))
}

func TestAward_BadgeRewardFillsRemainingHeadroom(t *testing.T) {
	marathon := badgeDef("marathon", domain.RarityLegendary, domain.RequirementLessonsCompleted, 2)
	e := newEngine(t, marathon)
	ctx := context.Background()

	_, err := e.coord.Award(ctx, lesson("u1", math.MaxInt64-30, "a"))
	require.NoError(t, err)

	res, err := e.coord.Award(ctx, lesson("u1", 0, "b"))
	require.NoError(t, err)
	require.Len(t, res.UnlockedBadges, 1)
	assert.Equal(t, int64(30), res.UnlockedBadges[0].XPAwarded)
	assert.Equal(t, int64(math.MaxInt64), res.TotalXP)
	assert.Equal(t, res.TotalXP, e.ledgerSum(t, "u1"))
}

func TestAward_BadgeKeyPrefixReserved(t *testing.T) {
	twoLessons := badgeDef("two-lessons", domain.RarityLegendary, domain.RequirementLessonsCompleted, 2)
	e := newEngine(t, twoLessons)
	ctx := context.Background()

	_, err := e.coord.Award(ctx, lesson("u1", 10, "badge:"+gamification.BadgeID("two-lessons")))
	require.ErrorIs(t, err, domain.ErrReservedIdempotencyKey)
	assert.True(t, domain.IsValidation(err))

	_, err = e.coord.Award(ctx, lesson("u1", 10, "k1"))
	require.NoError(t, err)
	res, err := e.coord.Award(ctx, lesson("u1", 10, "k2"))
	require.NoError(t, err)

	require.Len(t, res.UnlockedBadges, 1)
	assert.Equal(t, int64(100), res.UnlockedBadges[0].XPAwarded, "legendary reward is paid in full")
	assert.Equal(t, int64(120), res.TotalXP)
	assert.Equal(t, res.TotalXP, e.ledgerSum(t, "u1"))
}

// ─── Badge Passes ───────────────────────────────────────────────────────────

func TestAward_BadgeXPCascadesIntoLevelBadge(t *testing.T) {
	levelTwo := badgeDef("level-two", domain.RarityCommon, domain.RequirementLevelReached, 2)
	e := newEngine(t, firstSteps, levelTwo)

	// 95 XP is level 1. first-steps adds 10 (level 2), and the second pass
	// grants level-two.
	res, err := e.coord.Award(context.Background(), lesson("u1", 95, "k1"))
	require.NoError(t, err)

	require.Len(t, res.UnlockedBadges, 2)
	assert.Equal(t, "first-steps", res.UnlockedBadges[0].Badge.Slug)
	assert.Equal(t, "level-two", res.UnlockedBadges[1].Badge.Slug)
	assert.Equal(t, int64(115), res.TotalXP)
	assert.Equal(t, 1, res.FromLevel)
	assert.Equal(t, 2, res.ToLevel)
	assert.True(t, res.LeveledUp)
	assert.Equal(t, int64(135), res.XPToNextLevel)
}

func TestAward_PassLimitDefersToNextAward(t *testing.T) {
	levelTwo := badgeDef("level-two", domain.RarityCommon, domain.RequirementLevelReached, 2)
	collector := badgeDef("pair", domain.RarityEpic, domain.RequirementBadgesEarned, 2)
	e := newEngine(t, firstSteps, levelTwo, collector)
	ctx := context.Background()

	res, err := e.coord.Award(ctx, lesson("u1", 95, "k1"))
	require.NoError(t, err)
	assert.Len(t, res.UnlockedBadges, 2, "a third pass is not attempted")

	// A retry applies no XP but still evaluates badges.
	retry, err := e.coord.Award(ctx, lesson("u1", 95, "k1"))
	require.NoError(t, err)
	assert.True(t, retry.Duplicate)
	require.Len(t, retry.UnlockedBadges, 1)
	assert.Equal(t, "pair", retry.UnlockedBadges[0].Badge.Slug)
	assert.Equal(t, int64(165), retry.TotalXP)

	p := e.profile(t, "u1")
	assert.Equal(t, 3, p.TotalBadges)
	assert.Equal(t, 1, p.LessonsCompleted)
	assert.Equal(t, p.TotalXP, e.ledgerSum(t, "u1"))
}

func TestAward_InactiveBadgeNeverGranted(t *testing.T) {
	retired := badgeDef("retired", domain.RarityRare, domain.RequirementLessonsCompleted, 1)
	retired.IsActive = false
	e := newEngine(t, retired)

	res, err := e.coord.Award(context.Background(), lesson("u1", 10, "k1"))
	require.NoError(t, err)
	assert.Empty(t, res.UnlockedBadges)
}

func TestAward_RewardsFollowRarity(t *testing.T) {
	legendary := badgeDef("legend", domain.RarityLegendary, domain.RequirementLessonsCompleted, 1)
	e := newEngine(t, legendary)

	res, err := e.coord.Award(context.Background(), lesson("u1", 0, "k1"))
	require.NoError(t, err)
	require.Len(t, res.UnlockedBadges, 1)
	assert.Equal(t, int64(100), res.UnlockedBadges[0].XPAwarded)
}

// ─── Concurrency ────────────────────────────────────────────────────────────

func TestAward_ConcurrentAwardsGrantBadgeOnce(t *testing.T) {
	e := newEngine(t, firstSteps)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.coord.Award(ctx, lesson("u1", 5, fmt.Sprintf("k%d", i)))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	badges, err := e.store.UserBadges(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, badges, 1, "exactly one grant")

	p := e.profile(t, "u1")
	assert.Equal(t, n, p.LessonsCompleted)
	assert.Equal(t, int64(n*5+10), p.TotalXP)
	assert.Equal(t, p.TotalXP, e.ledgerSum(t, "u1"))
}

func TestAward_ConcurrentRetriesApplyOnce(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	const n = 10
	var wg sync.WaitGroup
	results := make(chan domain.AwardResult, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.coord.Award(ctx, lesson("u1", 40, "same"))
			if err != nil {
				t.Errorf("Award: %v", err)
				return
			}
			results <- res
		}()
	}
	wg.Wait()
	close(results)

	applied := 0
	for res := range results {
		if !res.Duplicate {
			applied++
		}
	}
	assert.Equal(t, 1, applied)
	assert.Equal(t, int64(40), e.profile(t, "u1").TotalXP)
}

func TestAward_LockTimeout(t *testing.T) {
	e := newEngine(t)
	cfg := gamification.DefaultConfig()
	cfg.LockTimeout = 20 * time.Millisecond
	coord := gamification.NewCoordinator(e.store, cfg, logger.Nop())

	locker := gamification.NewKeyedLocker()
	coord.SetLocker(locker)
	unlock, err := locker.Lock(context.Background(), "user:u1")
	require.NoError(t, err)
	defer unlock()

	_, err = coord.Award(context.Background(), lesson("u1", 10, "k1"))
	require.ErrorIs(t, err, domain.ErrLockTimeout)

	_, err = coord.Award(context.Background(), lesson("u2", 10, "k1"))
	require.NoError(t, err, "other users are not blocked")
}

// ─── Publishing ─────────────────────────────────────────────────────────────

type recordingPublisher struct {
	mu      sync.Mutex
	results []domain.AwardResult
}

func (r *recordingPublisher) Publish(_ context.Context, res domain.AwardResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
	return nil
}

func (r *recordingPublisher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}

func TestAward_PublishesOnlyNews(t *testing.T) {
	e := newEngine(t, firstSteps)
	pub := &recordingPublisher{}
	e.coord.SetPublisher(pub)
	ctx := context.Background()

	_, err := e.coord.Award(ctx, lesson("u1", 10, "k1"))
	require.NoError(t, err)
	assert.Equal(t, 1, pub.count(), "badge unlock is published")

	_, err = e.coord.Award(ctx, lesson("u1", 10, "k2"))
	require.NoError(t, err)
	assert.Equal(t, 1, pub.count(), "plain XP is not published")

	_, err = e.coord.Award(ctx, lesson("u1", 200, "k3"))
	require.NoError(t, err)
	assert.Equal(t, 2, pub.count(), "level-up is published")
}

// ─── Reads & Admin ──────────────────────────────────────────────────────────

func TestProfile_UnknownUserDefaults(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	view, err := e.coord.Profile(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, 1, view.Level)
	assert.Equal(t, int64(100), view.XPToNextLevel)
	assert.Equal(t, int64(0), view.TotalXP)

	p, err := e.store.Profile(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, p, "reads do not persist a profile")

	_, err = e.coord.Profile(ctx, "")
	require.ErrorIs(t, err, domain.ErrInvalidUserID)
}

func TestSetLevelCurve_AppliesWithoutRewritingXP(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	_, err := e.coord.Award(ctx, lesson("u1", 300, "k1"))
	require.NoError(t, err)

	view, err := e.coord.Profile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, view.Level)

	flat := domain.LevelCurveConfig{XPBase: 1000, XPMultiplier: 1.0, MaxLevel: 10}
	require.NoError(t, e.coord.SetLevelCurve(ctx, flat))

	view, err = e.coord.Profile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, view.Level)
	assert.Equal(t, int64(700), view.XPToNextLevel)
	assert.Equal(t, int64(300), view.TotalXP)

	got, err := e.coord.LevelCurve(ctx)
	require.NoError(t, err)
	assert.Equal(t, flat, got)

	err = e.coord.SetLevelCurve(ctx, domain.LevelCurveConfig{XPBase: 5, XPMultiplier: 1.5, MaxLevel: 50})
	require.ErrorIs(t, err, domain.ErrInvalidLevelCurve)
}

func TestSetLevelCurve_MultiplierBoundsInclusive(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	for _, m := range []float64{1.0, 3.0} {
		assert.NoError(t, e.coord.SetLevelCurve(ctx, domain.LevelCurveConfig{XPBase: 100, XPMultiplier: m, MaxLevel: 50}))
	}
	for _, m := range []float64{0.99, 3.01} {
		assert.ErrorIs(t, e.coord.SetLevelCurve(ctx, domain.LevelCurveConfig{XPBase: 100, XPMultiplier: m, MaxLevel: 50}), domain.ErrInvalidLevelCurve)
	}
}
