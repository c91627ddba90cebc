package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tutu-network/xpcore/internal/domain"
)

// ─── Profiles ───────────────────────────────────────────────────────────────

const profileColumns = `user_id, total_xp, current_streak, longest_streak, last_activity_date,
	lessons_completed, courses_completed, quizzes_passed, certificates_earned, total_badges,
	created_at, updated_at`

// Profile returns a user's profile, or nil if none exists.
func (s *Store) Profile(ctx context.Context, userID string) (*domain.Profile, error) {
	return getProfile(ctx, s.pool, userID, false)
}

// ListUserIDs returns up to limit profile ids greater than after.
func (s *Store) ListUserIDs(ctx context.Context, after string, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id FROM profiles WHERE user_id > $1 ORDER BY user_id LIMIT $2`,
		after, limit,
	)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list user ids: %w", err)
	}
	return ids, nil
}

func getProfile(ctx context.Context, q querier, userID string, forUpdate bool) (*domain.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE user_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scanProfile(q.QueryRow(ctx, query, userID))
}

func scanProfile(row pgx.Row) (*domain.Profile, error) {
	var p domain.Profile
	var lastDate *time.Time

	err := row.Scan(&p.UserID, &p.TotalXP, &p.CurrentStreak, &p.LongestStreak, &lastDate,
		&p.LessonsCompleted, &p.CoursesCompleted, &p.QuizzesPassed, &p.CertificatesEarned, &p.TotalBadges,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if lastDate != nil {
		p.LastActivityDate = time.Date(lastDate.Year(), lastDate.Month(), lastDate.Day(), 0, 0, 0, 0, time.UTC)
	}
	return &p, nil
}

// ─── Badge Catalog ──────────────────────────────────────────────────────────

const badgeColumns = `id, slug, title, description, icon, category, rarity,
	requirement_type, requirement_value, is_active, created_at`

// ActiveBadges returns active badges ordered by slug.
func (s *Store) ActiveBadges(ctx context.Context) ([]domain.BadgeDefinition, error) {
	return s.listBadges(ctx, `SELECT `+badgeColumns+` FROM badges WHERE is_active ORDER BY slug`)
}

// Badges returns the whole catalog ordered by slug.
func (s *Store) Badges(ctx context.Context) ([]domain.BadgeDefinition, error) {
	return s.listBadges(ctx, `SELECT `+badgeColumns+` FROM badges ORDER BY slug`)
}

// Badge retrieves a badge by id, or nil if it does not exist.
func (s *Store) Badge(ctx context.Context, id string) (*domain.BadgeDefinition, error) {
	return scanBadge(s.pool.QueryRow(ctx, `SELECT `+badgeColumns+` FROM badges WHERE id = $1`, id))
}

// UpsertBadge updates the badge with b.ID if it exists; otherwise it inserts
// b, or updates the badge that already owns b.Slug.
func (s *Store) UpsertBadge(ctx context.Context, b domain.BadgeDefinition) (string, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE badges SET slug=$1, title=$2, description=$3, icon=$4, category=$5, rarity=$6,
			requirement_type=$7, requirement_value=$8, is_active=$9
		 WHERE id = $10`,
		b.Slug, b.Title, b.Description, b.Icon, b.Category, string(b.Rarity),
		string(b.RequirementType), b.RequirementValue, b.IsActive, b.ID,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return "", fmt.Errorf("%w: slug %q belongs to another badge", domain.ErrInvalidBadge, b.Slug)
		}
		return "", err
	}
	if tag.RowsAffected() > 0 {
		return b.ID, nil
	}

	var id string
	err = s.pool.QueryRow(ctx,
		`INSERT INTO badges (`+badgeColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (slug) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			icon = EXCLUDED.icon,
			category = EXCLUDED.category,
			rarity = EXCLUDED.rarity,
			requirement_type = EXCLUDED.requirement_type,
			requirement_value = EXCLUDED.requirement_value,
			is_active = EXCLUDED.is_active
		 RETURNING id`,
		b.ID, b.Slug, b.Title, b.Description, b.Icon, b.Category, string(b.Rarity),
		string(b.RequirementType), b.RequirementValue, b.IsActive, time.Now().UTC(),
	).Scan(&id)
	return id, err
}

func (s *Store) listBadges(ctx context.Context, query string, args ...any) ([]domain.BadgeDefinition, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var badges []domain.BadgeDefinition
	for rows.Next() {
		b, err := scanBadge(rows)
		if err != nil {
			return nil, err
		}
		badges = append(badges, *b)
	}
	return badges, rows.Err()
}

func scanBadge(row pgx.Row) (*domain.BadgeDefinition, error) {
	var b domain.BadgeDefinition
	var rarity, reqType string

	err := row.Scan(&b.ID, &b.Slug, &b.Title, &b.Description, &b.Icon, &b.Category, &rarity,
		&reqType, &b.RequirementValue, &b.IsActive, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	b.Rarity = domain.Rarity(rarity)
	b.RequirementType = domain.RequirementType(reqType)
	return &b, nil
}

// ─── User Badges ────────────────────────────────────────────────────────────

// UserBadges returns a user's awards joined with their definitions,
// in unlock order.
func (s *Store) UserBadges(ctx context.Context, userID string) ([]domain.EarnedBadge, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ub.user_id, ub.badge_id, ub.unlocked_at, ub.is_featured,
			b.id, b.slug, b.title, b.description, b.icon, b.category, b.rarity,
			b.requirement_type, b.requirement_value, b.is_active, b.created_at
		 FROM user_badges ub JOIN badges b ON b.id = ub.badge_id
		 WHERE ub.user_id = $1
		 ORDER BY ub.unlocked_at, b.slug`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.EarnedBadge
	for rows.Next() {
		var e domain.EarnedBadge
		var rarity, reqType string
		if err := rows.Scan(&e.UserID, &e.BadgeID, &e.UnlockedAt, &e.IsFeatured,
			&e.Badge.ID, &e.Badge.Slug, &e.Badge.Title, &e.Badge.Description, &e.Badge.Icon,
			&e.Badge.Category, &rarity, &reqType, &e.Badge.RequirementValue, &e.Badge.IsActive,
			&e.Badge.CreatedAt); err != nil {
			return nil, err
		}
		e.Badge.Rarity = domain.Rarity(rarity)
		e.Badge.RequirementType = domain.RequirementType(reqType)
		out = append(out, e)
	}
	return out, rows.Err()
}

// SetFeatured flags or unflags an owned badge for display.
func (s *Store) SetFeatured(ctx context.Context, userID, badgeID string, featured bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE user_badges SET is_featured = $1 WHERE user_id = $2 AND badge_id = $3`,
		featured, userID, badgeID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrBadgeNotOwned
	}
	return nil
}

// ─── Ledger Reads ───────────────────────────────────────────────────────────

// XPEvents returns the user's newest ledger rows first.
func (s *Store) XPEvents(ctx context.Context, userID string, limit int) ([]domain.XPEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, event_type, xp_earned, description, idempotency_key, created_at
		 FROM xp_events WHERE user_id = $1 ORDER BY id DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.XPEvent
	for rows.Next() {
		var e domain.XPEvent
		var eventType string
		if err := rows.Scan(&e.ID, &e.UserID, &eventType, &e.XPEarned, &e.Description,
			&e.IdempotencyKey, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.EventType = domain.EventType(eventType)
		events = append(events, e)
	}
	return events, rows.Err()
}

// ProgressCounts counts the user's activity rows per counted event type.
func (s *Store) ProgressCounts(ctx context.Context, userID string) (domain.ProgressCounts, error) {
	var pc domain.ProgressCounts
	rows, err := s.pool.Query(ctx,
		`SELECT event_type, COUNT(*) FROM xp_events
		 WHERE user_id = $1 AND event_type = ANY($2)
		 GROUP BY event_type`,
		userID, []string{
			string(domain.EventLessonCompleted), string(domain.EventCourseCompleted),
			string(domain.EventQuizPassed), string(domain.EventCertificateEarned),
		},
	)
	if err != nil {
		return pc, fmt.Errorf("count progress: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var eventType string
		var n int64
		if err := rows.Scan(&eventType, &n); err != nil {
			return pc, err
		}
		switch domain.EventType(eventType) {
		case domain.EventLessonCompleted:
			pc.LessonsCompleted = int(n)
		case domain.EventCourseCompleted:
			pc.CoursesCompleted = int(n)
		case domain.EventQuizPassed:
			pc.QuizzesPassed = int(n)
		case domain.EventCertificateEarned:
			pc.CertificatesEarned = int(n)
		}
	}
	return pc, rows.Err()
}
