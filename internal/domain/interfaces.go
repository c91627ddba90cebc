package domain

import (
	"context"
	"time"
)

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// Store persists profiles, the XP ledger, the badge catalog, and settings.
// Implemented by infra/sqlite.DB and infra/postgres.Store.
type Store interface {
	// InTx runs fn in one transaction. fn's error rolls back.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// Profile returns nil, nil when the user has no profile yet.
	Profile(ctx context.Context, userID string) (*Profile, error)

	// ListUserIDs pages through profiles ordered by user id, after the given id.
	ListUserIDs(ctx context.Context, after string, limit int) ([]string, error)

	ActiveBadges(ctx context.Context) ([]BadgeDefinition, error)
	Badges(ctx context.Context) ([]BadgeDefinition, error)
	Badge(ctx context.Context, id string) (*BadgeDefinition, error)
	// UpsertBadge inserts or updates by slug and returns the stored id.
	UpsertBadge(ctx context.Context, b BadgeDefinition) (string, error)

	UserBadges(ctx context.Context, userID string) ([]EarnedBadge, error)
	SetFeatured(ctx context.Context, userID, badgeID string, featured bool) error

	// XPEvents returns the newest ledger rows first.
	XPEvents(ctx context.Context, userID string, limit int) ([]XPEvent, error)

	// ProgressCounts counts activity ledger rows per event type.
	ProgressCounts(ctx context.Context, userID string) (ProgressCounts, error)

	// LevelCurve returns nil, nil when no curve was saved.
	LevelCurve(ctx context.Context) (*LevelCurveConfig, error)
	SaveLevelCurve(ctx context.Context, cfg LevelCurveConfig) error

	Ping(ctx context.Context) error
	Close() error
}

// Tx is the per-award transactional view of a Store.
type Tx interface {
	// LockProfile loads the profile for update, creating it when absent.
	LockProfile(ctx context.Context, userID string, now time.Time) (*Profile, error)
	SaveProfile(ctx context.Context, p Profile) error

	// AppendXPEvent returns false when the user already has a row with the
	// same idempotency key.
	AppendXPEvent(ctx context.Context, e XPEvent) (bool, error)

	// GrantBadge inserts the award row if absent. It returns false when the
	// user already owns the badge.
	GrantBadge(ctx context.Context, userID, badgeID string, at time.Time) (bool, error)

	OwnedBadgeIDs(ctx context.Context, userID string) (map[string]bool, error)

	// LedgerTotal sums xp_earned over the user's ledger.
	LedgerTotal(ctx context.Context, userID string) (int64, error)
}

// Locker serializes work per key across the processes that share it.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Publisher fans award results out to notification consumers.
type Publisher interface {
	Publish(ctx context.Context, result AwardResult) error
}
