package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tutu-network/xpcore/internal/domain"
)

// sqlTx implements domain.Tx on one *sql.Tx. The single-connection pool
// already serializes writers, so no row locks are needed.
type sqlTx struct {
	tx *sql.Tx
}

// LockProfile loads the user's profile, creating a default row first if needed.
func (t *sqlTx) LockProfile(ctx context.Context, userID string, now time.Time) (*domain.Profile, error) {
	if _, err := t.tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO profiles (user_id, created_at, updated_at) VALUES (?, ?, ?)`,
		userID, now.Unix(), now.Unix(),
	); err != nil {
		return nil, fmt.Errorf("create profile: %w", err)
	}
	p, err := getProfile(ctx, t.tx, userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, domain.ErrProfileNotFound
	}
	return p, nil
}

// SaveProfile writes every mutable profile column.
func (t *sqlTx) SaveProfile(ctx context.Context, p domain.Profile) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE profiles SET
			total_xp=?, current_streak=?, longest_streak=?, last_activity_date=?,
			lessons_completed=?, courses_completed=?, quizzes_passed=?,
			certificates_earned=?, total_badges=?, updated_at=?
		 WHERE user_id = ?`,
		p.TotalXP, p.CurrentStreak, p.LongestStreak, nullableDate(p.LastActivityDate),
		p.LessonsCompleted, p.CoursesCompleted, p.QuizzesPassed,
		p.CertificatesEarned, p.TotalBadges, p.UpdatedAt.Unix(), p.UserID,
	)
	return err
}

// AppendXPEvent inserts a ledger row.
// Returns false if the idempotency key was already used (idempotent).
func (t *sqlTx) AppendXPEvent(ctx context.Context, e domain.XPEvent) (bool, error) {
	result, err := t.tx.ExecContext(ctx,
		`INSERT INTO xp_events (user_id, event_type, xp_earned, description, idempotency_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, idempotency_key) DO NOTHING`,
		e.UserID, string(e.EventType), e.XPEarned, e.Description, e.IdempotencyKey, e.CreatedAt.Unix(),
	)
	if err != nil {
		return false, err
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// GrantBadge records a badge as unlocked.
// Returns false if already unlocked (idempotent).
func (t *sqlTx) GrantBadge(ctx context.Context, userID, badgeID string, at time.Time) (bool, error) {
	result, err := t.tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO user_badges (user_id, badge_id, unlocked_at, is_featured) VALUES (?, ?, ?, 0)`,
		userID, badgeID, at.Unix(),
	)
	if err != nil {
		return false, err
	}
	n, _ := result.RowsAffected()
	return n > 0, nil // true = newly unlocked
}

// OwnedBadgeIDs returns the set of badge ids the user holds.
func (t *sqlTx) OwnedBadgeIDs(ctx context.Context, userID string) (map[string]bool, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT badge_id FROM user_badges WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	owned := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		owned[id] = true
	}
	return owned, rows.Err()
}

// LedgerTotal sums the user's ledger.
func (t *sqlTx) LedgerTotal(ctx context.Context, userID string) (int64, error) {
	var total int64
	err := t.tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(xp_earned), 0) FROM xp_events WHERE user_id = ?`, userID,
	).Scan(&total)
	return total, err
}
