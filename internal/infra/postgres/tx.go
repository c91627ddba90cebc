package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tutu-network/xpcore/internal/domain"
)

// pgTx implements domain.Tx. LockProfile takes the row lock that
// serializes concurrent awards for one user across processes.
type pgTx struct {
	tx pgx.Tx
}

// LockProfile creates the profile row if needed and locks it FOR UPDATE.
func (t *pgTx) LockProfile(ctx context.Context, userID string, now time.Time) (*domain.Profile, error) {
	if _, err := t.tx.Exec(ctx,
		`INSERT INTO profiles (user_id, created_at, updated_at) VALUES ($1, $2, $2)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, now.UTC(),
	); err != nil {
		return nil, fmt.Errorf("create profile: %w", err)
	}
	p, err := getProfile(ctx, t.tx, userID, true)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, domain.ErrProfileNotFound
	}
	return p, nil
}

// SaveProfile writes every mutable profile column.
func (t *pgTx) SaveProfile(ctx context.Context, p domain.Profile) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE profiles SET
			total_xp=$1, current_streak=$2, longest_streak=$3, last_activity_date=$4,
			lessons_completed=$5, courses_completed=$6, quizzes_passed=$7,
			certificates_earned=$8, total_badges=$9, updated_at=$10
		 WHERE user_id = $11`,
		p.TotalXP, p.CurrentStreak, p.LongestStreak, nullableDate(p.LastActivityDate),
		p.LessonsCompleted, p.CoursesCompleted, p.QuizzesPassed,
		p.CertificatesEarned, p.TotalBadges, p.UpdatedAt.UTC(), p.UserID,
	)
	return err
}

// AppendXPEvent inserts a ledger row.
// Returns false if the idempotency key was already used (idempotent).
// ON CONFLICT keeps a repeat from raising an error, which would abort the
// surrounding transaction.
func (t *pgTx) AppendXPEvent(ctx context.Context, e domain.XPEvent) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO xp_events (user_id, event_type, xp_earned, description, idempotency_key, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id, idempotency_key) DO NOTHING`,
		e.UserID, string(e.EventType), e.XPEarned, e.Description, e.IdempotencyKey, e.CreatedAt.UTC(),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// GrantBadge records a badge as unlocked.
// Returns false if already unlocked (idempotent).
func (t *pgTx) GrantBadge(ctx context.Context, userID, badgeID string, at time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO user_badges (user_id, badge_id, unlocked_at, is_featured)
		 VALUES ($1, $2, $3, FALSE)
		 ON CONFLICT (user_id, badge_id) DO NOTHING`,
		userID, badgeID, at.UTC(),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil // true = newly unlocked
}

// OwnedBadgeIDs returns the set of badge ids the user holds.
func (t *pgTx) OwnedBadgeIDs(ctx context.Context, userID string) (map[string]bool, error) {
	rows, err := t.tx.Query(ctx, `SELECT badge_id FROM user_badges WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	owned := make(map[string]bool, len(ids))
	for _, id := range ids {
		owned[id] = true
	}
	return owned, nil
}

// LedgerTotal sums the user's ledger.
func (t *pgTx) LedgerTotal(ctx context.Context, userID string) (int64, error) {
	var total int64
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(xp_earned), 0)::BIGINT FROM xp_events WHERE user_id = $1`, userID,
	).Scan(&total)
	return total, err
}
