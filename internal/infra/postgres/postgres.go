// Package postgres implements domain.Store on PostgreSQL via pgx.
// Profiles are locked with SELECT ... FOR UPDATE and grants use
// ON CONFLICT DO NOTHING, so several xpcore processes can share one database.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tutu-network/xpcore/internal/domain"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONNECTION POOL
// ══════════════════════════════════════════════════════════════════════════════

// Config holds pool settings applied on top of the DSN.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns pool defaults for a DSN.
func DefaultConfig(dsn string) Config {
	return Config{
		DSN:             dsn,
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// Store is a pgxpool-backed domain.Store.
type Store struct {
	pool *pgxpool.Pool
}

var _ domain.Store = (*Store)(nil)

// Open connects, pings, and migrates.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to parse connection string: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: failed to ping database: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// InTx runs fn in a read-committed transaction. Profile rows are locked
// explicitly by LockProfile.
func (s *Store) InTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATIONS
// ══════════════════════════════════════════════════════════════════════════════

// migrations are applied in order; each runs once, tracked in schema_migrations.
var migrations = []string{
	// 001: core tables
	`CREATE TABLE IF NOT EXISTS settings (
		key   TEXT PRIMARY KEY,
		value JSONB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS profiles (
		user_id             TEXT PRIMARY KEY,
		total_xp            BIGINT NOT NULL DEFAULT 0,
		current_streak      INTEGER NOT NULL DEFAULT 0,
		longest_streak      INTEGER NOT NULL DEFAULT 0,
		last_activity_date  DATE,
		lessons_completed   INTEGER NOT NULL DEFAULT 0,
		courses_completed   INTEGER NOT NULL DEFAULT 0,
		quizzes_passed      INTEGER NOT NULL DEFAULT 0,
		certificates_earned INTEGER NOT NULL DEFAULT 0,
		total_badges        INTEGER NOT NULL DEFAULT 0,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT valid_xp CHECK (total_xp >= 0)
	);

	CREATE TABLE IF NOT EXISTS xp_events (
		id              BIGSERIAL PRIMARY KEY,
		user_id         TEXT NOT NULL,
		event_type      TEXT NOT NULL,
		xp_earned       BIGINT NOT NULL,
		description     TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT uq_xp_events_key UNIQUE (user_id, idempotency_key)
	);
	CREATE INDEX IF NOT EXISTS idx_xp_events_user ON xp_events(user_id, id DESC);
	CREATE INDEX IF NOT EXISTS idx_xp_events_type ON xp_events(user_id, event_type);

	CREATE TABLE IF NOT EXISTS badges (
		id                TEXT PRIMARY KEY,
		slug              TEXT NOT NULL UNIQUE,
		title             TEXT NOT NULL DEFAULT '',
		description       TEXT NOT NULL DEFAULT '',
		icon              TEXT NOT NULL DEFAULT '',
		category          TEXT NOT NULL DEFAULT '',
		rarity            TEXT NOT NULL DEFAULT 'common',
		requirement_type  TEXT NOT NULL DEFAULT '',
		requirement_value BIGINT NOT NULL DEFAULT 0,
		is_active         BOOLEAN NOT NULL DEFAULT TRUE,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT valid_rarity CHECK (rarity IN ('common', 'rare', 'epic', 'legendary'))
	);

	CREATE TABLE IF NOT EXISTS user_badges (
		user_id     TEXT NOT NULL,
		badge_id    TEXT NOT NULL REFERENCES badges(id),
		unlocked_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		is_featured BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (user_id, badge_id)
	);
	CREATE INDEX IF NOT EXISTS idx_user_badges_badge ON user_badges(badge_id);`,
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`); err != nil {
		return fmt.Errorf("postgres: create schema_migrations: %w", err)
	}

	for i, m := range migrations {
		version := i + 1
		var applied bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, version,
		).Scan(&applied); err != nil {
			return fmt.Errorf("postgres: check migration %d: %w", version, err)
		}
		if applied {
			continue
		}

		err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT DO NOTHING`, version)
			return err
		})
		if err != nil {
			return fmt.Errorf("postgres: migration %d failed: %w", version, err)
		}
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SETTINGS
// ══════════════════════════════════════════════════════════════════════════════

const levelCurveKey = "level_curve"

// LevelCurve returns the saved curve, or nil if none was saved.
func (s *Store) LevelCurve(ctx context.Context) (*domain.LevelCurveConfig, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, levelCurveKey).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cfg domain.LevelCurveConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode level curve: %w", err)
	}
	return &cfg, nil
}

// SaveLevelCurve stores the curve. Callers validate it first.
func (s *Store) SaveLevelCurve(ctx context.Context, cfg domain.LevelCurveConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO settings (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		levelCurveKey, raw,
	)
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// IsUniqueViolation checks if the error is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func nullableDate(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &d
}
