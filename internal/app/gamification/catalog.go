package gamification

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"github.com/tutu-network/xpcore/internal/domain"
	"github.com/tutu-network/xpcore/internal/platform/logger"
)

// badgeNamespace derives stable badge ids from slugs, so seeding twice
// lands on the same rows.
var badgeNamespace = uuid.MustParse("8f1c2a4e-6b0d-4f53-9a57-3e2d6c1b7a90")

// BadgeID returns the deterministic id for a badge slug.
func BadgeID(badgeSlug string) string {
	return uuid.NewSHA1(badgeNamespace, []byte(badgeSlug)).String()
}

// DefaultBadges returns the starter catalog. The last few entries are untyped
// legacy badges that resolve through the slug table.
func DefaultBadges() []domain.BadgeDefinition {
	defs := []domain.BadgeDefinition{
		// Lessons
		{Slug: "first-steps", Title: "First Steps", Description: "Complete your first lesson", Icon: "👣", Category: "learning", Rarity: domain.RarityCommon, RequirementType: domain.RequirementLessonsCompleted, RequirementValue: 1},
		{Slug: "bookworm", Title: "Bookworm", Description: "Complete 10 lessons", Icon: "📚", Category: "learning", Rarity: domain.RarityCommon, RequirementType: domain.RequirementLessonsCompleted, RequirementValue: 10},
		{Slug: "scholar", Title: "Scholar", Description: "Complete 50 lessons", Icon: "🎓", Category: "learning", Rarity: domain.RarityRare, RequirementType: domain.RequirementLessonsCompleted, RequirementValue: 50},
		{Slug: "sage", Title: "Sage", Description: "Complete 250 lessons", Icon: "🦉", Category: "learning", Rarity: domain.RarityEpic, RequirementType: domain.RequirementLessonsCompleted, RequirementValue: 250},

		// Courses and quizzes
		{Slug: "graduate", Title: "Graduate", Description: "Complete your first course", Icon: "🏁", Category: "courses", Rarity: domain.RarityRare, RequirementType: domain.RequirementCoursesCompleted, RequirementValue: 1},
		{Slug: "polymath", Title: "Polymath", Description: "Complete 10 courses", Icon: "🧠", Category: "courses", Rarity: domain.RarityLegendary, RequirementType: domain.RequirementCoursesCompleted, RequirementValue: 10},
		{Slug: "quiz-whiz", Title: "Quiz Whiz", Description: "Pass 5 quizzes", Icon: "✅", Category: "quizzes", Rarity: domain.RarityCommon, RequirementType: domain.RequirementQuizzesPassed, RequirementValue: 5},
		{Slug: "certified", Title: "Certified", Description: "Earn a certificate", Icon: "📜", Category: "courses", Rarity: domain.RarityRare, RequirementType: domain.RequirementCertificatesEarned, RequirementValue: 1},

		// Levels and XP
		{Slug: "rising-star", Title: "Rising Star", Description: "Reach level 5", Icon: "⭐", Category: "progress", Rarity: domain.RarityCommon, RequirementType: domain.RequirementLevelReached, RequirementValue: 5},
		{Slug: "veteran", Title: "Veteran", Description: "Reach level 20", Icon: "🛡️", Category: "progress", Rarity: domain.RarityEpic, RequirementType: domain.RequirementLevelReached, RequirementValue: 20},
		{Slug: "xp-hoarder", Title: "XP Hoarder", Description: "Earn 10,000 XP", Icon: "💎", Category: "progress", Rarity: domain.RarityEpic, RequirementType: domain.RequirementTotalXP, RequirementValue: 10000},

		// Streaks
		{Slug: "on-fire", Title: "On Fire", Description: "Keep a 7-day streak", Icon: "🔥", Category: "streaks", Rarity: domain.RarityRare, RequirementType: domain.RequirementStreakDays, RequirementValue: 7},
		{Slug: "unstoppable", Title: "Unstoppable", Description: "Keep a 30-day streak", Icon: "⚡", Category: "streaks", Rarity: domain.RarityLegendary, RequirementType: domain.RequirementStreakDays, RequirementValue: 30},

		// Collector
		{Slug: "collector", Title: "Collector", Description: "Earn 5 badges", Icon: "🏅", Category: "meta", Rarity: domain.RarityRare, RequirementType: domain.RequirementBadgesEarned, RequirementValue: 5},

		// Legacy untyped badges
		{Slug: "streak-3", Title: "Warming Up", Description: "Keep a 3-day streak", Icon: "🌱", Category: "streaks", Rarity: domain.RarityCommon},
		{Slug: "level-10", Title: "Double Digits", Description: "Reach level 10", Icon: "🔟", Category: "progress", Rarity: domain.RarityRare},
	}
	for i := range defs {
		defs[i].ID = BadgeID(defs[i].Slug)
		defs[i].IsActive = true
	}
	return defs
}

// Catalog is the admin-side path that writes badge definitions.
type Catalog struct {
	store domain.Store
	log   *logger.Logger
}

// NewCatalog creates a catalog service.
func NewCatalog(store domain.Store, log *logger.Logger) *Catalog {
	return &Catalog{store: store, log: log.With("component", "catalog")}
}

// Upsert validates and stores a badge. A missing slug is derived from the
// title and a missing id from the slug.
func (c *Catalog) Upsert(ctx context.Context, b domain.BadgeDefinition) (domain.BadgeDefinition, error) {
	if b.Slug == "" && b.Title != "" {
		b.Slug = slug.Make(b.Title)
	}
	if err := b.Validate(); err != nil {
		return b, err
	}
	if b.ID == "" {
		b.ID = BadgeID(b.Slug)
	}
	id, err := c.store.UpsertBadge(ctx, b)
	if err != nil {
		return b, fmt.Errorf("upsert badge %s: %w", b.Slug, err)
	}
	b.ID = id
	return b, nil
}

// Import upserts every badge, stopping at the first invalid one.
func (c *Catalog) Import(ctx context.Context, badges []domain.BadgeDefinition) (int, error) {
	for i, b := range badges {
		if _, err := c.Upsert(ctx, b); err != nil {
			return i, err
		}
	}
	c.log.Info("badges imported", "count", len(badges))
	return len(badges), nil
}

// Seed installs the default catalog.
func (c *Catalog) Seed(ctx context.Context) (int, error) {
	return c.Import(ctx, DefaultBadges())
}

// MigrateLegacy rewrites every untyped badge whose slug resolves through the
// legacy table into a typed requirement. Unresolvable badges are left alone
// and reported.
func (c *Catalog) MigrateLegacy(ctx context.Context) (migrated int, unresolved []string, err error) {
	badges, err := c.store.Badges(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("list badges: %w", err)
	}
	for _, b := range badges {
		if b.RequirementType.Known() {
			continue
		}
		rt, value, ok := ResolveLegacy(b.Slug)
		if !ok {
			unresolved = append(unresolved, b.Slug)
			continue
		}
		b.RequirementType, b.RequirementValue = rt, value
		if _, err := c.store.UpsertBadge(ctx, b); err != nil {
			return migrated, unresolved, fmt.Errorf("migrate badge %s: %w", b.Slug, err)
		}
		c.log.Info("legacy badge migrated", "slug", b.Slug, "requirement_type", rt, "requirement_value", value)
		migrated++
	}
	return migrated, unresolved, nil
}
