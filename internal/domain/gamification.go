// Package domain holds the pure types of the xpcore gamification engine.
// XP accounting, levels, streaks, badges, and award results.
package domain

import (
	"fmt"
	"regexp"
	"time"
)

// ─── Event Types ────────────────────────────────────────────────────────────

// EventType categorizes a ledger row. Callers may supply custom snake_case
// types beyond the known set.
type EventType string

const (
	EventLessonCompleted   EventType = "lesson_completed"
	EventCourseCompleted   EventType = "course_completed"
	EventQuizPassed        EventType = "quiz_passed"
	EventCertificateEarned EventType = "certificate_earned"
	EventBadgeEarned       EventType = "badge_earned"
	EventStreakBonus       EventType = "streak_bonus"
	EventReferral          EventType = "referral"
	EventXPCorrection      EventType = "xp_correction"
)

var eventTypePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// Valid reports whether the event type is a well-formed snake_case name.
func (e EventType) Valid() bool {
	return eventTypePattern.MatchString(string(e))
}

// IsActivity reports whether the event represents something the user did.
// Only activity events move the streak.
func (e EventType) IsActivity() bool {
	switch e {
	case EventBadgeEarned, EventStreakBonus, EventXPCorrection:
		return false
	}
	return true
}

// AllowsNegative reports whether the event may carry a negative amount.
func (e EventType) AllowsNegative() bool {
	return e == EventXPCorrection
}

// ─── Profile ────────────────────────────────────────────────────────────────

// Profile is the per-user gamification state. TotalXP caches the ledger sum.
type Profile struct {
	UserID             string    `json:"user_id"`
	TotalXP            int64     `json:"total_xp"`
	CurrentStreak      int       `json:"current_streak"`
	LongestStreak      int       `json:"longest_streak"`
	LastActivityDate   time.Time `json:"last_activity_date,omitzero"` // calendar day at UTC midnight
	LessonsCompleted   int       `json:"lessons_completed"`
	CoursesCompleted   int       `json:"courses_completed"`
	QuizzesPassed      int       `json:"quizzes_passed"`
	CertificatesEarned int       `json:"certificates_earned"`
	TotalBadges        int       `json:"total_badges"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// NewProfile returns the default profile created on a user's first event.
func NewProfile(userID string, now time.Time) Profile {
	return Profile{UserID: userID, CreatedAt: now, UpdatedAt: now}
}

// Counters snapshots the profile for badge evaluation at the given level.
func (p Profile) Counters(level int) Counters {
	return Counters{
		LessonsCompleted:   p.LessonsCompleted,
		CoursesCompleted:   p.CoursesCompleted,
		QuizzesPassed:      p.QuizzesPassed,
		CertificatesEarned: p.CertificatesEarned,
		BadgesEarned:       p.TotalBadges,
		Level:              level,
		TotalXP:            p.TotalXP,
		Streak:             p.CurrentStreak,
	}
}

// Bump increments the counter tied to an event type.
func (p *Profile) Bump(e EventType) {
	switch e {
	case EventLessonCompleted:
		p.LessonsCompleted++
	case EventCourseCompleted:
		p.CoursesCompleted++
	case EventQuizPassed:
		p.QuizzesPassed++
	case EventCertificateEarned:
		p.CertificatesEarned++
	}
}

// Counters is the snapshot a badge requirement is checked against.
type Counters struct {
	LessonsCompleted   int   `json:"lessons_completed"`
	CoursesCompleted   int   `json:"courses_completed"`
	QuizzesPassed      int   `json:"quizzes_passed"`
	CertificatesEarned int   `json:"certificates_earned"`
	BadgesEarned       int   `json:"badges_earned"`
	Level              int   `json:"level"`
	TotalXP            int64 `json:"total_xp"`
	Streak             int   `json:"streak"`
}

// ProgressCounts are activity counts from an authoritative source, used by
// reconciliation to refresh the denormalized profile counters.
type ProgressCounts struct {
	LessonsCompleted   int `json:"lessons_completed"`
	CoursesCompleted   int `json:"courses_completed"`
	QuizzesPassed      int `json:"quizzes_passed"`
	CertificatesEarned int `json:"certificates_earned"`
}

// ─── Ledger ─────────────────────────────────────────────────────────────────

// XPEvent is one immutable ledger row. XPEarned records the delta actually
// applied to the profile, after clamping.
type XPEvent struct {
	ID             int64     `json:"id"`
	UserID         string    `json:"user_id"`
	EventType      EventType `json:"event_type"`
	XPEarned       int64     `json:"xp_earned"`
	Description    string    `json:"description"`
	IdempotencyKey string    `json:"idempotency_key"`
	CreatedAt      time.Time `json:"created_at"`
}

// ─── Badges ─────────────────────────────────────────────────────────────────

// Rarity is a badge tier. It determines the badge's bonus XP.
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// Valid reports whether r is a known tier.
func (r Rarity) Valid() bool {
	switch r {
	case RarityCommon, RarityRare, RarityEpic, RarityLegendary:
		return true
	}
	return false
}

// RarityRewards maps a rarity to the XP granted with a badge of that tier.
type RarityRewards map[Rarity]int64

// DefaultRarityRewards returns the standard reward table.
func DefaultRarityRewards() RarityRewards {
	return RarityRewards{
		RarityCommon:    10,
		RarityRare:      25,
		RarityEpic:      50,
		RarityLegendary: 100,
	}
}

// XPFor returns the reward for a rarity. Unknown tiers earn the common reward.
func (r RarityRewards) XPFor(rarity Rarity) int64 {
	if xp, ok := r[rarity]; ok {
		return xp
	}
	return r[RarityCommon]
}

// RequirementType selects which counter a badge threshold is compared to.
// The empty type marks a legacy badge resolved through its slug.
type RequirementType string

const (
	RequirementNone               RequirementType = ""
	RequirementLessonsCompleted   RequirementType = "lessons_completed"
	RequirementCoursesCompleted   RequirementType = "courses_completed"
	RequirementQuizzesPassed      RequirementType = "quizzes_passed"
	RequirementLevelReached       RequirementType = "level_reached"
	RequirementTotalXP            RequirementType = "total_xp"
	RequirementStreakDays         RequirementType = "streak_days"
	RequirementCertificatesEarned RequirementType = "certificates_earned"
	RequirementBadgesEarned       RequirementType = "badges_earned"
)

// Known reports whether t is one of the typed requirements.
func (t RequirementType) Known() bool {
	switch t {
	case RequirementLessonsCompleted, RequirementCoursesCompleted, RequirementQuizzesPassed,
		RequirementLevelReached, RequirementTotalXP, RequirementStreakDays,
		RequirementCertificatesEarned, RequirementBadgesEarned:
		return true
	}
	return false
}

// BadgeDefinition is an admin-authored catalog entry.
type BadgeDefinition struct {
	ID               string          `json:"id"`
	Slug             string          `json:"slug"`
	Title            string          `json:"title"`
	Description      string          `json:"description"`
	Icon             string          `json:"icon"`
	Category         string          `json:"category"`
	Rarity           Rarity          `json:"rarity"`
	RequirementType  RequirementType `json:"requirement_type"`
	RequirementValue int64           `json:"requirement_value"`
	IsActive         bool            `json:"is_active"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Validate checks the fields the engine relies on.
func (b BadgeDefinition) Validate() error {
	if b.Slug == "" {
		return fmt.Errorf("%w: slug is required", ErrInvalidBadge)
	}
	if !b.Rarity.Valid() {
		return fmt.Errorf("%w: unknown rarity %q", ErrInvalidBadge, b.Rarity)
	}
	if b.RequirementType != RequirementNone && !b.RequirementType.Known() {
		return fmt.Errorf("%w: unknown requirement type %q", ErrInvalidBadge, b.RequirementType)
	}
	if b.RequirementValue < 0 {
		return fmt.Errorf("%w: requirement value must be >= 0", ErrInvalidBadge)
	}
	return nil
}

// UserBadge is an award row. At most one exists per (UserID, BadgeID).
type UserBadge struct {
	UserID     string    `json:"user_id"`
	BadgeID    string    `json:"badge_id"`
	UnlockedAt time.Time `json:"unlocked_at"`
	IsFeatured bool      `json:"is_featured"`
}

// EarnedBadge joins an award row with its catalog entry for display.
type EarnedBadge struct {
	UserBadge
	Badge BadgeDefinition `json:"badge"`
}

// ─── Level Curve ────────────────────────────────────────────────────────────

// LevelCurveConfig tunes the exponential level curve.
type LevelCurveConfig struct {
	XPBase       int64   `json:"xp_base" toml:"xp_base"`
	XPMultiplier float64 `json:"xp_multiplier" toml:"xp_multiplier"`
	MaxLevel     int     `json:"max_level" toml:"max_level"`
}

// Accepted ranges for LevelCurveConfig fields, inclusive.
const (
	MinXPBase       = 10
	MaxXPBase       = 1000
	MinXPMultiplier = 1.0
	MaxXPMultiplier = 3.0
	MinMaxLevel     = 10
	MaxMaxLevel     = 999
)

// DefaultLevelCurve returns the curve used until an admin sets one.
func DefaultLevelCurve() LevelCurveConfig {
	return LevelCurveConfig{XPBase: 100, XPMultiplier: 1.5, MaxLevel: 50}
}

// Validate rejects a curve outside the accepted ranges.
func (c LevelCurveConfig) Validate() error {
	if c.XPBase < MinXPBase || c.XPBase > MaxXPBase {
		return fmt.Errorf("%w: xp_base %d not in [%d, %d]", ErrInvalidLevelCurve, c.XPBase, MinXPBase, MaxXPBase)
	}
	if !(c.XPMultiplier >= MinXPMultiplier && c.XPMultiplier <= MaxXPMultiplier) {
		return fmt.Errorf("%w: xp_multiplier %g not in [%g, %g]", ErrInvalidLevelCurve, c.XPMultiplier, MinXPMultiplier, MaxXPMultiplier)
	}
	if c.MaxLevel < MinMaxLevel || c.MaxLevel > MaxMaxLevel {
		return fmt.Errorf("%w: max_level %d not in [%d, %d]", ErrInvalidLevelCurve, c.MaxLevel, MinMaxLevel, MaxMaxLevel)
	}
	return nil
}

// ─── Awards ─────────────────────────────────────────────────────────────────

// AwardRequest is one inbound XP trigger.
type AwardRequest struct {
	UserID         string    `json:"user_id"`
	EventType      EventType `json:"event_type"`
	Amount         int64     `json:"amount"`
	Description    string    `json:"description"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	OccurredAt     time.Time `json:"occurred_at,omitzero"`
}

// BadgeAward describes a badge granted during an award or a reconcile.
type BadgeAward struct {
	Badge      BadgeDefinition `json:"badge"`
	XPAwarded  int64           `json:"xp_awarded"`
	UnlockedAt time.Time       `json:"unlocked_at"`
}

// AwardResult is the aggregated outcome of one award.
type AwardResult struct {
	UserID         string       `json:"user_id"`
	TotalXP        int64        `json:"total_xp"`
	FromLevel      int          `json:"from_level"`
	ToLevel        int          `json:"level"`
	LeveledUp      bool         `json:"leveled_up"`
	XPToNextLevel  int64        `json:"xp_to_next_level"`
	CurrentStreak  int          `json:"current_streak"`
	UnlockedBadges []BadgeAward `json:"unlocked_badges"`
	Duplicate      bool         `json:"duplicate,omitempty"`
}

// ProfileView is a profile with its derived level fields.
type ProfileView struct {
	Profile
	Level         int     `json:"level"`
	XPToNextLevel int64   `json:"xp_to_next_level"`
	ProgressPct   float64 `json:"progress_pct"`
}
