// Package sqlite provides SQLite-based persistent storage for xpcore.
// Uses WAL mode for concurrent reads and crash-safe writes.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlitedrv "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/tutu-network/xpcore/internal/domain"
)

// DB wraps a SQLite connection with WAL mode and migrations.
// It implements domain.Store.
type DB struct {
	db *sql.DB
}

var _ domain.Store = (*DB)(nil)

// Open creates or opens the SQLite database at dir/xpcore.db.
// Enables WAL mode, foreign keys, and 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "xpcore.db")
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Connection pool settings for SQLite
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		// Settings key-value store (level curve)
		`CREATE TABLE IF NOT EXISTS settings (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		// One profile per user, created lazily on the first event
		`CREATE TABLE IF NOT EXISTS profiles (
			user_id             TEXT PRIMARY KEY,
			total_xp            INTEGER NOT NULL DEFAULT 0 CHECK (total_xp >= 0),
			current_streak      INTEGER NOT NULL DEFAULT 0,
			longest_streak      INTEGER NOT NULL DEFAULT 0,
			last_activity_date  TEXT,
			lessons_completed   INTEGER NOT NULL DEFAULT 0,
			courses_completed   INTEGER NOT NULL DEFAULT 0,
			quizzes_passed      INTEGER NOT NULL DEFAULT 0,
			certificates_earned INTEGER NOT NULL DEFAULT 0,
			total_badges        INTEGER NOT NULL DEFAULT 0,
			created_at          INTEGER NOT NULL,
			updated_at          INTEGER NOT NULL
		)`,

		// Append-only XP ledger
		`CREATE TABLE IF NOT EXISTS xp_events (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id         TEXT NOT NULL,
			event_type      TEXT NOT NULL,
			xp_earned       INTEGER NOT NULL,
			description     TEXT NOT NULL DEFAULT '',
			idempotency_key TEXT NOT NULL,
			created_at      INTEGER NOT NULL,
			UNIQUE (user_id, idempotency_key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_xp_events_user ON xp_events(user_id, id)`,
		`CREATE INDEX IF NOT EXISTS idx_xp_events_type ON xp_events(user_id, event_type)`,

		// Badge catalog
		`CREATE TABLE IF NOT EXISTS badges (
			id                TEXT PRIMARY KEY,
			slug              TEXT NOT NULL UNIQUE,
			title             TEXT NOT NULL DEFAULT '',
			description       TEXT NOT NULL DEFAULT '',
			icon              TEXT NOT NULL DEFAULT '',
			category          TEXT NOT NULL DEFAULT '',
			rarity            TEXT NOT NULL DEFAULT 'common',
			requirement_type  TEXT NOT NULL DEFAULT '',
			requirement_value INTEGER NOT NULL DEFAULT 0,
			is_active         BOOLEAN NOT NULL DEFAULT 1,
			created_at        INTEGER NOT NULL
		)`,

		// Awards: the primary key is the at-most-once guarantee
		`CREATE TABLE IF NOT EXISTS user_badges (
			user_id     TEXT NOT NULL,
			badge_id    TEXT NOT NULL REFERENCES badges(id),
			unlocked_at INTEGER NOT NULL,
			is_featured BOOLEAN NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, badge_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_user_badges_badge ON user_badges(badge_id)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// InTx runs fn inside a transaction on the single connection.
func (d *DB) InTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&sqlTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ─── Settings ───────────────────────────────────────────────────────────────

const levelCurveKey = "level_curve"

// SetSetting stores a settings key-value pair.
func (d *DB) SetSetting(ctx context.Context, key, value string) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value,
	)
	return err
}

// GetSetting retrieves a settings value by key.
// Returns "" if key not found.
func (d *DB) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := d.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// LevelCurve returns the saved curve, or nil if none was saved.
func (d *DB) LevelCurve(ctx context.Context) (*domain.LevelCurveConfig, error) {
	raw, err := d.GetSetting(ctx, levelCurveKey)
	if err != nil || raw == "" {
		return nil, err
	}
	var cfg domain.LevelCurveConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("decode level curve: %w", err)
	}
	return &cfg, nil
}

// SaveLevelCurve stores the curve. Callers validate it first.
func (d *DB) SaveLevelCurve(ctx context.Context, cfg domain.LevelCurveConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return d.SetSetting(ctx, levelCurveKey, string(raw))
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

const dateLayout = "2006-01-02"

func nullableDate(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(dateLayout), Valid: true}
}

func parseDate(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, err := time.ParseInLocation(dateLayout, s.String, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY
// constraint failure.
func isUniqueViolation(err error) bool {
	var se *sqlitedrv.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}
