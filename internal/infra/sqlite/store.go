package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tutu-network/xpcore/internal/domain"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ─── Profiles ───────────────────────────────────────────────────────────────

const profileColumns = `user_id, total_xp, current_streak, longest_streak, last_activity_date,
	lessons_completed, courses_completed, quizzes_passed, certificates_earned, total_badges,
	created_at, updated_at`

// Profile returns a user's profile, or nil if none exists.
func (d *DB) Profile(ctx context.Context, userID string) (*domain.Profile, error) {
	return getProfile(ctx, d.db, userID)
}

// ListUserIDs returns up to limit profile ids greater than after.
func (d *DB) ListUserIDs(ctx context.Context, after string, limit int) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT user_id FROM profiles WHERE user_id > ? ORDER BY user_id LIMIT ?`,
		after, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func getProfile(ctx context.Context, q querier, userID string) (*domain.Profile, error) {
	row := q.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE user_id = ?`, userID)
	return scanProfile(row)
}

func scanProfile(s scanner) (*domain.Profile, error) {
	var p domain.Profile
	var lastDate sql.NullString
	var createdAt, updatedAt int64

	err := s.Scan(&p.UserID, &p.TotalXP, &p.CurrentStreak, &p.LongestStreak, &lastDate,
		&p.LessonsCompleted, &p.CoursesCompleted, &p.QuizzesPassed, &p.CertificatesEarned, &p.TotalBadges,
		&createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil // Not found, no error
	}
	if err != nil {
		return nil, err
	}

	p.LastActivityDate = parseDate(lastDate)
	p.CreatedAt = time.Unix(createdAt, 0)
	p.UpdatedAt = time.Unix(updatedAt, 0)
	return &p, nil
}

// ─── Badge Catalog ──────────────────────────────────────────────────────────

const badgeColumns = `id, slug, title, description, icon, category, rarity,
	requirement_type, requirement_value, is_active, created_at`

// ActiveBadges returns active badges ordered by slug.
func (d *DB) ActiveBadges(ctx context.Context) ([]domain.BadgeDefinition, error) {
	return d.listBadges(ctx, `SELECT `+badgeColumns+` FROM badges WHERE is_active = 1 ORDER BY slug`)
}

// Badges returns the whole catalog ordered by slug.
func (d *DB) Badges(ctx context.Context) ([]domain.BadgeDefinition, error) {
	return d.listBadges(ctx, `SELECT `+badgeColumns+` FROM badges ORDER BY slug`)
}

// Badge retrieves a badge by id, or nil if it does not exist.
func (d *DB) Badge(ctx context.Context, id string) (*domain.BadgeDefinition, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+badgeColumns+` FROM badges WHERE id = ?`, id)
	return scanBadge(row)
}

// UpsertBadge updates the badge with b.ID if it exists; otherwise it inserts
// b, or updates the badge that already owns b.Slug.
func (d *DB) UpsertBadge(ctx context.Context, b domain.BadgeDefinition) (string, error) {
	res, err := d.db.ExecContext(ctx,
		`UPDATE badges SET slug=?, title=?, description=?, icon=?, category=?, rarity=?,
			requirement_type=?, requirement_value=?, is_active=?
		 WHERE id = ?`,
		b.Slug, b.Title, b.Description, b.Icon, b.Category, string(b.Rarity),
		string(b.RequirementType), b.RequirementValue, b.IsActive, b.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("%w: slug %q belongs to another badge", domain.ErrInvalidBadge, b.Slug)
		}
		return "", err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return b.ID, nil
	}

	var id string
	err = d.db.QueryRowContext(ctx,
		`INSERT INTO badges (`+badgeColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(slug) DO UPDATE SET
			title=excluded.title,
			description=excluded.description,
			icon=excluded.icon,
			category=excluded.category,
			rarity=excluded.rarity,
			requirement_type=excluded.requirement_type,
			requirement_value=excluded.requirement_value,
			is_active=excluded.is_active
		 RETURNING id`,
		b.ID, b.Slug, b.Title, b.Description, b.Icon, b.Category, string(b.Rarity),
		string(b.RequirementType), b.RequirementValue, b.IsActive, time.Now().Unix(),
	).Scan(&id)
	return id, err
}

func (d *DB) listBadges(ctx context.Context, query string, args ...any) ([]domain.BadgeDefinition, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
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

func scanBadge(s scanner) (*domain.BadgeDefinition, error) {
	var b domain.BadgeDefinition
	var rarity, reqType string
	var createdAt int64

	err := s.Scan(&b.ID, &b.Slug, &b.Title, &b.Description, &b.Icon, &b.Category, &rarity,
		&reqType, &b.RequirementValue, &b.IsActive, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	b.Rarity = domain.Rarity(rarity)
	b.RequirementType = domain.RequirementType(reqType)
	b.CreatedAt = time.Unix(createdAt, 0)
	return &b, nil
}

// ─── User Badges ────────────────────────────────────────────────────────────

// UserBadges returns a user's awards joined with their definitions,
// in unlock order.
func (d *DB) UserBadges(ctx context.Context, userID string) ([]domain.EarnedBadge, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT ub.user_id, ub.badge_id, ub.unlocked_at, ub.is_featured,
			b.id, b.slug, b.title, b.description, b.icon, b.category, b.rarity,
			b.requirement_type, b.requirement_value, b.is_active, b.created_at
		 FROM user_badges ub JOIN badges b ON b.id = ub.badge_id
		 WHERE ub.user_id = ?
		 ORDER BY ub.unlocked_at, b.slug`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.EarnedBadge
	for rows.Next() {
		var e domain.EarnedBadge
		var unlockedAt, createdAt int64
		var rarity, reqType string
		if err := rows.Scan(&e.UserID, &e.BadgeID, &unlockedAt, &e.IsFeatured,
			&e.Badge.ID, &e.Badge.Slug, &e.Badge.Title, &e.Badge.Description, &e.Badge.Icon,
			&e.Badge.Category, &rarity, &reqType, &e.Badge.RequirementValue, &e.Badge.IsActive,
			&createdAt); err != nil {
			return nil, err
		}
		e.UnlockedAt = time.Unix(unlockedAt, 0)
		e.Badge.Rarity = domain.Rarity(rarity)
		e.Badge.RequirementType = domain.RequirementType(reqType)
		e.Badge.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// SetFeatured flags or unflags an owned badge for display.
func (d *DB) SetFeatured(ctx context.Context, userID, badgeID string, featured bool) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE user_badges SET is_featured = ? WHERE user_id = ? AND badge_id = ?`,
		featured, userID, badgeID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrBadgeNotOwned
	}
	return nil
}

// ─── Ledger Reads ───────────────────────────────────────────────────────────

// XPEvents returns the user's newest ledger rows first.
func (d *DB) XPEvents(ctx context.Context, userID string, limit int) ([]domain.XPEvent, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, user_id, event_type, xp_earned, description, idempotency_key, created_at
		 FROM xp_events WHERE user_id = ? ORDER BY id DESC LIMIT ?`,
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
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.UserID, &eventType, &e.XPEarned, &e.Description,
			&e.IdempotencyKey, &createdAt); err != nil {
			return nil, err
		}
		e.EventType = domain.EventType(eventType)
		e.CreatedAt = time.Unix(createdAt, 0)
		events = append(events, e)
	}
	return events, rows.Err()
}

// ProgressCounts counts the user's activity rows per counted event type.
func (d *DB) ProgressCounts(ctx context.Context, userID string) (domain.ProgressCounts, error) {
	var pc domain.ProgressCounts
	rows, err := d.db.QueryContext(ctx,
		`SELECT event_type, COUNT(*) FROM xp_events
		 WHERE user_id = ? AND event_type IN (?, ?, ?, ?)
		 GROUP BY event_type`,
		userID,
		string(domain.EventLessonCompleted), string(domain.EventCourseCompleted),
		string(domain.EventQuizPassed), string(domain.EventCertificateEarned),
	)
	if err != nil {
		return pc, fmt.Errorf("count progress: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var eventType string
		var n int
		if err := rows.Scan(&eventType, &n); err != nil {
			return pc, err
		}
		switch domain.EventType(eventType) {
		case domain.EventLessonCompleted:
			pc.LessonsCompleted = n
		case domain.EventCourseCompleted:
			pc.CoursesCompleted = n
		case domain.EventQuizPassed:
			pc.QuizzesPassed = n
		case domain.EventCertificateEarned:
			pc.CertificatesEarned = n
		}
	}
	return pc, rows.Err()
}
