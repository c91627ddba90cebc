// Package storetest is the behavioral contract every domain.Store must meet.
// Store packages run it from their own tests against a fresh store.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutu-network/xpcore/internal/domain"
)

// Factory returns an empty store. Cleanup is registered on t.
type Factory func(t *testing.T) domain.Store

// Run executes the full contract suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("ProfileLazyCreate", func(t *testing.T) { testProfileLazyCreate(t, newStore(t)) })
	t.Run("SaveProfileRoundTrip", func(t *testing.T) { testSaveProfile(t, newStore(t)) })
	t.Run("AppendXPEventIdempotent", func(t *testing.T) { testAppendIdempotent(t, newStore(t)) })
	t.Run("GrantBadgeOnce", func(t *testing.T) { testGrantOnce(t, newStore(t)) })
	t.Run("ConcurrentGrant", func(t *testing.T) { testConcurrentGrant(t, newStore(t)) })
	t.Run("RollbackOnError", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("BadgeUpsertBySlug", func(t *testing.T) { testBadgeUpsert(t, newStore(t)) })
	t.Run("BadgeSlugConflict", func(t *testing.T) { testBadgeSlugConflict(t, newStore(t)) })
	t.Run("UserBadgesAndFeatured", func(t *testing.T) { testUserBadges(t, newStore(t)) })
	t.Run("LedgerReads", func(t *testing.T) { testLedgerReads(t, newStore(t)) })
	t.Run("ListUserIDsPaging", func(t *testing.T) { testListUserIDs(t, newStore(t)) })
	t.Run("LevelCurveSetting", func(t *testing.T) { testLevelCurve(t, newStore(t)) })
}

var now = time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)

// Badge builds a minimal valid badge for tests.
func Badge(slug string, rarity domain.Rarity, rt domain.RequirementType, value int64) domain.BadgeDefinition {
	return domain.BadgeDefinition{
		ID:               uuid.NewString(),
		Slug:             slug,
		Title:            slug,
		Rarity:           rarity,
		RequirementType:  rt,
		RequirementValue: value,
		IsActive:         true,
	}
}

func testProfileLazyCreate(t *testing.T, s domain.Store) {
	ctx := context.Background()

	p, err := s.Profile(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, p, "profile should not exist before first event")

	require.NoError(t, s.InTx(ctx, func(tx domain.Tx) error {
		p, err := tx.LockProfile(ctx, "u1", now)
		require.NoError(t, err)
		assert.Equal(t, "u1", p.UserID)
		assert.Zero(t, p.TotalXP)
		assert.True(t, p.LastActivityDate.IsZero())

		again, err := tx.LockProfile(ctx, "u1", now.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, p.CreatedAt.Unix(), again.CreatedAt.Unix(), "second lock must not recreate")
		return nil
	}))

	p, err = s.Profile(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, now.Unix(), p.CreatedAt.Unix())
}

func testSaveProfile(t *testing.T, s domain.Store) {
	ctx := context.Background()
	day := time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.InTx(ctx, func(tx domain.Tx) error {
		p, err := tx.LockProfile(ctx, "u1", now)
		if err != nil {
			return err
		}
		p.TotalXP = 475
		p.CurrentStreak = 3
		p.LongestStreak = 5
		p.LastActivityDate = day
		p.LessonsCompleted = 7
		p.CoursesCompleted = 1
		p.QuizzesPassed = 2
		p.CertificatesEarned = 1
		p.TotalBadges = 4
		p.UpdatedAt = now.Add(time.Minute)
		return tx.SaveProfile(ctx, *p)
	}))

	p, err := s.Profile(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, int64(475), p.TotalXP)
	assert.Equal(t, 3, p.CurrentStreak)
	assert.Equal(t, 5, p.LongestStreak)
	assert.True(t, day.Equal(p.LastActivityDate), "last activity = %v", p.LastActivityDate)
	assert.Equal(t, 7, p.LessonsCompleted)
	assert.Equal(t, 1, p.CoursesCompleted)
	assert.Equal(t, 2, p.QuizzesPassed)
	assert.Equal(t, 1, p.CertificatesEarned)
	assert.Equal(t, 4, p.TotalBadges)
	assert.Equal(t, now.Add(time.Minute).Unix(), p.UpdatedAt.Unix())
}

func testAppendIdempotent(t *testing.T, s domain.Store) {
	ctx := context.Background()
	ev := domain.XPEvent{
		UserID: "u1", EventType: domain.EventLessonCompleted, XPEarned: 10,
		Description: "lesson 1", IdempotencyKey: "lesson:1", CreatedAt: now,
	}

	require.NoError(t, s.InTx(ctx, func(tx domain.Tx) error {
		if _, err := tx.LockProfile(ctx, "u1", now); err != nil {
			return err
		}
		ok, err := tx.AppendXPEvent(ctx, ev)
		require.NoError(t, err)
		assert.True(t, ok, "first append")

		ok, err = tx.AppendXPEvent(ctx, ev)
		require.NoError(t, err)
		assert.False(t, ok, "same key must be ignored")

		other := ev
		other.UserID = "u2"
		ok, err = tx.AppendXPEvent(ctx, other)
		require.NoError(t, err)
		assert.True(t, ok, "keys are scoped per user")

		total, err := tx.LedgerTotal(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, int64(10), total)
		return nil
	}))
}

func testGrantOnce(t *testing.T, s domain.Store) {
	ctx := context.Background()
	b := Badge("first-steps", domain.RarityCommon, domain.RequirementLessonsCompleted, 1)
	id, err := s.UpsertBadge(ctx, b)
	require.NoError(t, err)

	require.NoError(t, s.InTx(ctx, func(tx domain.Tx) error {
		ok, err := tx.GrantBadge(ctx, "u1", id, now)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = tx.GrantBadge(ctx, "u1", id, now.Add(time.Hour))
		require.NoError(t, err)
		assert.False(t, ok, "second grant must be a no-op")

		owned, err := tx.OwnedBadgeIDs(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, map[string]bool{id: true}, owned)
		return nil
	}))
}

func testConcurrentGrant(t *testing.T, s domain.Store) {
	ctx := context.Background()
	b := Badge("on-fire", domain.RarityRare, domain.RequirementStreakDays, 7)
	id, err := s.UpsertBadge(ctx, b)
	require.NoError(t, err)

	const n = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.InTx(ctx, func(tx domain.Tx) error {
				ok, err := tx.GrantBadge(ctx, "u1", id, now)
				if err != nil {
					return err
				}
				if ok {
					mu.Lock()
					wins++
					mu.Unlock()
				}
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins, "exactly one grant may win")
	earned, err := s.UserBadges(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, earned, 1)
}

func testRollback(t *testing.T, s domain.Store) {
	ctx := context.Background()
	boom := assert.AnError

	err := s.InTx(ctx, func(tx domain.Tx) error {
		if _, err := tx.LockProfile(ctx, "u1", now); err != nil {
			return err
		}
		if _, err := tx.AppendXPEvent(ctx, domain.XPEvent{
			UserID: "u1", EventType: domain.EventQuizPassed, XPEarned: 5, IdempotencyKey: "k", CreatedAt: now,
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	p, err := s.Profile(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, p, "profile insert must roll back")
	events, err := s.XPEvents(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Empty(t, events, "ledger append must roll back")
}

func testBadgeUpsert(t *testing.T, s domain.Store) {
	ctx := context.Background()
	b := Badge("bookworm", domain.RarityCommon, domain.RequirementLessonsCompleted, 10)
	id, err := s.UpsertBadge(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, b.ID, id)

	// Same slug under a new id updates the existing row and keeps its id.
	dup := b
	dup.ID = uuid.NewString()
	dup.Title = "Bookworm"
	dup.Rarity = domain.RarityRare
	id2, err := s.UpsertBadge(ctx, dup)
	require.NoError(t, err)
	assert.Equal(t, b.ID, id2)

	got, err := s.Badge(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Bookworm", got.Title)
	assert.Equal(t, domain.RarityRare, got.Rarity)

	// Updating by id may change the slug.
	got.Slug = "book-worm"
	got.IsActive = false
	_, err = s.UpsertBadge(ctx, *got)
	require.NoError(t, err)

	active, err := s.ActiveBadges(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
	all, err := s.Badges(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "book-worm", all[0].Slug)

	missing, err := s.Badge(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func testBadgeSlugConflict(t *testing.T, s domain.Store) {
	ctx := context.Background()
	a := Badge("alpha", domain.RarityCommon, domain.RequirementLessonsCompleted, 1)
	b := Badge("beta", domain.RarityCommon, domain.RequirementLessonsCompleted, 2)
	_, err := s.UpsertBadge(ctx, a)
	require.NoError(t, err)
	_, err = s.UpsertBadge(ctx, b)
	require.NoError(t, err)

	// Renaming a badge onto another badge's slug is rejected.
	a.Slug = "beta"
	_, err = s.UpsertBadge(ctx, a)
	require.ErrorIs(t, err, domain.ErrInvalidBadge)

	// The store stays usable afterwards.
	got, err := s.Badge(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "alpha", got.Slug)
}

func testUserBadges(t *testing.T, s domain.Store) {
	ctx := context.Background()
	a := Badge("a-badge", domain.RarityCommon, domain.RequirementTotalXP, 1)
	b := Badge("b-badge", domain.RarityEpic, domain.RequirementTotalXP, 2)
	for _, def := range []domain.BadgeDefinition{a, b} {
		_, err := s.UpsertBadge(ctx, def)
		require.NoError(t, err)
	}
	require.NoError(t, s.InTx(ctx, func(tx domain.Tx) error {
		if _, err := tx.GrantBadge(ctx, "u1", b.ID, now); err != nil {
			return err
		}
		_, err := tx.GrantBadge(ctx, "u1", a.ID, now.Add(time.Second))
		return err
	}))

	earned, err := s.UserBadges(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, earned, 2)
	assert.Equal(t, "b-badge", earned[0].Badge.Slug, "ordered by unlock time")
	assert.Equal(t, domain.RarityEpic, earned[0].Badge.Rarity)
	assert.Equal(t, "a-badge", earned[1].Badge.Slug)
	assert.False(t, earned[0].IsFeatured)

	require.NoError(t, s.SetFeatured(ctx, "u1", b.ID, true))
	earned, err = s.UserBadges(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, earned[0].IsFeatured)

	err = s.SetFeatured(ctx, "u2", b.ID, true)
	assert.ErrorIs(t, err, domain.ErrBadgeNotOwned)
}

func testLedgerReads(t *testing.T, s domain.Store) {
	ctx := context.Background()
	events := []domain.XPEvent{
		{EventType: domain.EventLessonCompleted, XPEarned: 10},
		{EventType: domain.EventLessonCompleted, XPEarned: 10},
		{EventType: domain.EventQuizPassed, XPEarned: 20},
		{EventType: domain.EventCourseCompleted, XPEarned: 100},
		{EventType: domain.EventCertificateEarned, XPEarned: 50},
		{EventType: domain.EventBadgeEarned, XPEarned: 25},
		{EventType: domain.EventXPCorrection, XPEarned: -15},
	}
	require.NoError(t, s.InTx(ctx, func(tx domain.Tx) error {
		for i, e := range events {
			e.UserID = "u1"
			e.IdempotencyKey = uuid.NewString()
			e.CreatedAt = now.Add(time.Duration(i) * time.Second)
			if _, err := tx.AppendXPEvent(ctx, e); err != nil {
				return err
			}
		}
		total, err := tx.LedgerTotal(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, int64(200), total)
		return nil
	}))

	got, err := s.XPEvents(ctx, "u1", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, domain.EventXPCorrection, got[0].EventType, "newest first")
	assert.Equal(t, int64(-15), got[0].XPEarned)

	pc, err := s.ProgressCounts(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.ProgressCounts{
		LessonsCompleted: 2, CoursesCompleted: 1, QuizzesPassed: 1, CertificatesEarned: 1,
	}, pc)

	empty, err := s.ProgressCounts(ctx, "nobody")
	require.NoError(t, err)
	assert.Zero(t, empty)
}

func testListUserIDs(t *testing.T, s domain.Store) {
	ctx := context.Background()
	require.NoError(t, s.InTx(ctx, func(tx domain.Tx) error {
		for _, id := range []string{"c", "a", "e", "b", "d"} {
			if _, err := tx.LockProfile(ctx, id, now); err != nil {
				return err
			}
		}
		return nil
	}))

	page, err := s.ListUserIDs(ctx, "", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, page)

	page, err = s.ListUserIDs(ctx, "b", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "d"}, page)

	page, err = s.ListUserIDs(ctx, "d", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"e"}, page)

	page, err = s.ListUserIDs(ctx, "e", 2)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func testLevelCurve(t *testing.T, s domain.Store) {
	ctx := context.Background()

	cfg, err := s.LevelCurve(ctx)
	require.NoError(t, err)
	assert.Nil(t, cfg)

	want := domain.LevelCurveConfig{XPBase: 250, XPMultiplier: 1.25, MaxLevel: 80}
	require.NoError(t, s.SaveLevelCurve(ctx, want))
	require.NoError(t, s.SaveLevelCurve(ctx, want))

	cfg, err = s.LevelCurve(ctx)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, want, *cfg)

	require.NoError(t, s.Ping(ctx))
}
