package gamification_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutu-network/xpcore/internal/app/gamification"
	"github.com/tutu-network/xpcore/internal/domain"
)

// stubSource serves fixed counts and fails for listed users.
type stubSource struct {
	counts map[string]domain.ProgressCounts
	fail   map[string]bool
}

func (s stubSource) ProgressCounts(_ context.Context, userID string) (domain.ProgressCounts, error) {
	if s.fail[userID] {
		return domain.ProgressCounts{}, errors.New("progress service unavailable")
	}
	return s.counts[userID], nil
}

func TestReconcile_GrantsMissedBadgesOnce(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	for _, u := range []string{"u1", "u2", "u3"} {
		_, err := e.coord.Award(ctx, lesson(u, 20, "k1"))
		require.NoError(t, err)
	}
	// The badge is defined after the lessons were recorded.
	_, err := e.catalog.Import(ctx, []domain.BadgeDefinition{firstSteps})
	require.NoError(t, err)

	r := gamification.NewReconciler(e.coord, nil, gamification.ReconcileConfig{Workers: 2})
	report, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.UsersScanned)
	assert.Equal(t, 3, report.BadgesGranted)
	assert.Zero(t, report.UsersFailed)
	assert.Empty(t, report.Drift)

	for _, u := range []string{"u1", "u2", "u3"} {
		p := e.profile(t, u)
		assert.Equal(t, int64(30), p.TotalXP, u)
		assert.Equal(t, 1, p.TotalBadges, u)
	}

	again, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, again.UsersScanned)
	assert.Zero(t, again.BadgesGranted, "a second sweep grants nothing")
}

func TestReconcile_RaisesCountersFromSource(t *testing.T) {
	scholar := badgeDef("scholar", domain.RarityRare, domain.RequirementLessonsCompleted, 5)
	e := newEngine(t, scholar)
	ctx := context.Background()

	_, err := e.coord.Award(ctx, lesson("u1", 10, "k1"))
	require.NoError(t, err)

	src := stubSource{counts: map[string]domain.ProgressCounts{
		"u1": {LessonsCompleted: 5, QuizzesPassed: 2},
	}}
	report, err := gamification.NewReconciler(e.coord, src, gamification.ReconcileConfig{}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.BadgesGranted)

	p := e.profile(t, "u1")
	assert.Equal(t, 5, p.LessonsCompleted)
	assert.Equal(t, 2, p.QuizzesPassed)

	// Counters never move down.
	low := stubSource{counts: map[string]domain.ProgressCounts{"u1": {LessonsCompleted: 1}}}
	_, err = gamification.NewReconciler(e.coord, low, gamification.ReconcileConfig{}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, e.profile(t, "u1").LessonsCompleted)
}

func TestReconcile_FailureIsolation(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	for _, u := range []string{"a", "bad", "c"} {
		_, err := e.coord.Award(ctx, lesson(u, 20, "k1"))
		require.NoError(t, err)
	}
	_, err := e.catalog.Import(ctx, []domain.BadgeDefinition{firstSteps})
	require.NoError(t, err)

	src := stubSource{
		counts: map[string]domain.ProgressCounts{
			"a": {LessonsCompleted: 1}, "c": {LessonsCompleted: 1},
		},
		fail: map[string]bool{"bad": true},
	}
	report, err := gamification.NewReconciler(e.coord, src, gamification.ReconcileConfig{Workers: 3}).Run(ctx)
	require.NoError(t, err, "per-user failures do not fail the sweep")

	assert.Equal(t, 3, report.UsersScanned)
	assert.Equal(t, 1, report.UsersFailed)
	assert.Equal(t, []string{"bad"}, report.FailedUsers)
	assert.Equal(t, 2, report.BadgesGranted)
	assert.Equal(t, 0, e.profile(t, "bad").TotalBadges)
}

func TestReconcile_XPDrift(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	_, err := e.coord.Award(ctx, lesson("u1", 50, "k1"))
	require.NoError(t, err)

	// Corrupt the cached total.
	require.NoError(t, e.store.InTx(ctx, func(tx domain.Tx) error {
		p, err := tx.LockProfile(ctx, "u1", engineStart)
		if err != nil {
			return err
		}
		p.TotalXP = 80
		return tx.SaveProfile(ctx, *p)
	}))

	report, err := gamification.NewReconciler(e.coord, nil, gamification.ReconcileConfig{}).Run(ctx)
	require.NoError(t, err)
	require.Len(t, report.Drift, 1)
	assert.Equal(t, gamification.XPDrift{UserID: "u1", Cached: 80, Ledger: 50}, report.Drift[0])
	assert.Equal(t, int64(80), e.profile(t, "u1").TotalXP, "report-only mode leaves the cache alone")

	report, err = gamification.NewReconciler(e.coord, nil, gamification.ReconcileConfig{RepairXP: true}).Run(ctx)
	require.NoError(t, err)
	require.Len(t, report.Drift, 1)
	assert.True(t, report.Drift[0].Repaired)
	assert.Equal(t, int64(50), e.profile(t, "u1").TotalXP)

	report, err = gamification.NewReconciler(e.coord, nil, gamification.ReconcileConfig{RepairXP: true}).Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Drift)
}

func TestReconcile_PagesThroughAllUsers(t *testing.T) {
	e := newEngine(t, firstSteps)
	ctx := context.Background()

	const users = 7
	for i := 0; i < users; i++ {
		_, err := e.coord.Award(ctx, domain.AwardRequest{
			UserID: fmt.Sprintf("user-%02d", i), EventType: "forum_post", Amount: 1,
		})
		require.NoError(t, err)
	}

	r := gamification.NewReconciler(e.coord, nil, gamification.ReconcileConfig{Workers: 3, PageSize: 2})
	report, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, users, report.UsersScanned)
	assert.Zero(t, report.BadgesGranted)
}

func TestReconcile_SkipsInactiveAndUnresolvedBadges(t *testing.T) {
	retired := badgeDef("retired", domain.RarityRare, domain.RequirementLessonsCompleted, 1)
	retired.IsActive = false
	mystery := domain.BadgeDefinition{Slug: "mystery-box", Title: "Mystery", Rarity: domain.RarityEpic, IsActive: true}
	e := newEngine(t, retired, mystery)
	ctx := context.Background()

	_, err := e.coord.Award(ctx, lesson("u1", 10, "k1"))
	require.NoError(t, err)
	_, err = e.catalog.Import(ctx, []domain.BadgeDefinition{firstSteps})
	require.NoError(t, err)

	report, err := gamification.NewReconciler(e.coord, nil, gamification.ReconcileConfig{}).Run(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"retired", "mystery-box"}, report.SkippedBadges)
	assert.Equal(t, 1, report.BadgesGranted, "only the evaluable badge is granted")
	assert.Equal(t, 1, e.profile(t, "u1").TotalBadges)
}

func TestReconcile_EmptyStore(t *testing.T) {
	e := newEngine(t, firstSteps)
	report, err := gamification.NewReconciler(e.coord, nil, gamification.ReconcileConfig{}).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.UsersScanned)
}

func TestReconcile_CancelledContext(t *testing.T) {
	e := newEngine(t)
	_, err := e.coord.Award(context.Background(), lesson("u1", 10, "k1"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = gamification.NewReconciler(e.coord, nil, gamification.ReconcileConfig{}).Run(ctx)
	assert.Error(t, err)
}

func TestReconcile_PublishesGrants(t *testing.T) {
	e := newEngine(t)
	pub := &recordingPublisher{}
	e.coord.SetPublisher(pub)
	ctx := context.Background()

	_, err := e.coord.Award(ctx, lesson("u1", 10, "k1"))
	require.NoError(t, err)
	_, err = e.catalog.Import(ctx, []domain.BadgeDefinition{firstSteps})
	require.NoError(t, err)

	_, err = gamification.NewReconciler(e.coord, nil, gamification.ReconcileConfig{}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pub.count())
}
