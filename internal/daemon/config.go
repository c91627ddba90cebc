// Package daemon manages the xpcore daemon lifecycle and configuration.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/tutu-network/xpcore/internal/app/gamification"
	"github.com/tutu-network/xpcore/internal/app/notify"
	"github.com/tutu-network/xpcore/internal/domain"
	"github.com/tutu-network/xpcore/internal/infra/redis"
)

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all daemon configuration.
type Config struct {
	API           APIConfig               `toml:"api"`
	Database      DatabaseConfig          `toml:"database"`
	Redis         RedisConfig             `toml:"redis"`
	LevelCurve    domain.LevelCurveConfig `toml:"level_curve"`
	Rewards       RewardsConfig           `toml:"rewards"`
	Streak        StreakConfig            `toml:"streak"`
	Reconcile     ReconcileConfig         `toml:"reconcile"`
	Notifications NotificationsConfig     `toml:"notifications"`
	Logging       LoggingConfig           `toml:"logging"`
	Telemetry     TelemetryConfig         `toml:"telemetry"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	RequestTimeout string `toml:"request_timeout"`
	Metrics        bool   `toml:"metrics"`
}

// DatabaseConfig selects and tunes the store.
type DatabaseConfig struct {
	Driver   string `toml:"driver"` // sqlite | postgres
	Dir      string `toml:"dir"`    // sqlite data directory
	DSN      string `toml:"dsn"`    // postgres connection string
	MaxConns int32  `toml:"max_conns"`
	MinConns int32  `toml:"min_conns"`
}

// RedisConfig enables the distributed lock and award bus when Addr is set.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Channel  string `toml:"channel"`
	LockTTL  string `toml:"lock_ttl"`
}

// RewardsConfig is the rarity to XP table.
type RewardsConfig struct {
	Common    int64 `toml:"common"`
	Rare      int64 `toml:"rare"`
	Epic      int64 `toml:"epic"`
	Legendary int64 `toml:"legendary"`
}

// StreakConfig sets the calendar used for streak days.
type StreakConfig struct {
	Timezone string `toml:"timezone"`
}

// ReconcileConfig controls the scheduled sweep.
type ReconcileConfig struct {
	Enabled    bool   `toml:"enabled"`
	Interval   string `toml:"interval"`
	Timeout    string `toml:"timeout"`
	RunOnStart bool   `toml:"run_on_start"`
	Workers    int    `toml:"workers"`
	PageSize   int    `toml:"page_size"`
	RepairXP   bool   `toml:"repair_xp"`
}

// NotificationsConfig sets queue timings for notification streams.
type NotificationsConfig struct {
	AutoClose string `toml:"auto_close"`
	Settle    string `toml:"settle"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Mode  string `toml:"mode"` // dev | prod
	Level string `toml:"level"`
}

// TelemetryConfig controls tracing.
type TelemetryConfig struct {
	TraceStdout bool `toml:"trace_stdout"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	homeDir := xpcoreHome()
	rewards := domain.DefaultRarityRewards()
	return Config{
		API: APIConfig{
			Host:           "127.0.0.1",
			Port:           8420,
			RequestTimeout: "30s",
			Metrics:        true,
		},
		Database: DatabaseConfig{
			Driver:   DriverSQLite,
			Dir:      homeDir,
			MaxConns: 10,
			MinConns: 2,
		},
		Redis: RedisConfig{
			Channel: redis.DefaultConfig().Channel,
			LockTTL: "30s",
		},
		LevelCurve: domain.DefaultLevelCurve(),
		Rewards: RewardsConfig{
			Common:    rewards[domain.RarityCommon],
			Rare:      rewards[domain.RarityRare],
			Epic:      rewards[domain.RarityEpic],
			Legendary: rewards[domain.RarityLegendary],
		},
		Streak: StreakConfig{
			Timezone: "UTC",
		},
		Reconcile: ReconcileConfig{
			Enabled:  true,
			Interval: "1h",
			Timeout:  "30m",
			Workers:  4,
			PageSize: 200,
		},
		Notifications: NotificationsConfig{
			AutoClose: "6s",
			Settle:    "400ms",
		},
		Logging: LoggingConfig{
			Mode:  "dev",
			Level: "info",
		},
	}
}

// LoadConfig reads config from $XPCORE_HOME/config.toml, falling back to
// defaults. A .env file in the working directory or XPCORE_HOME is loaded
// first; XPCORE_* environment variables override the file.
func LoadConfig() (Config, error) {
	loadDotEnv()

	cfg := DefaultConfig()
	path := ConfigPath()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("stat config: %w", err)
	}

	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// SaveConfig writes the config to $XPCORE_HOME/config.toml.
func SaveConfig(cfg Config) error {
	path := ConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// ConfigPath returns the config file location.
func ConfigPath() string {
	return filepath.Join(xpcoreHome(), "config.toml")
}

func loadDotEnv() {
	for _, p := range []string{".env", filepath.Join(xpcoreHome(), ".env")} {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p) // existing env vars win
		}
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("XPCORE_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("XPCORE_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("XPCORE_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("XPCORE_LOG_MODE"); v != "" {
		cfg.Logging.Mode = v
	}
}

// Validate checks the values the daemon cannot start without.
func (c Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database.driver %q", c.Database.Driver))
	}
	if err := c.LevelCurve.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("level_curve: %w", err))
	}
	for rarity, xp := range c.RarityRewards() {
		if xp < 0 {
			errs = append(errs, fmt.Errorf("rewards.%s must not be negative", rarity))
		}
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ─── Derived Settings ───────────────────────────────────────────────────────

// RarityRewards returns the reward table.
func (c Config) RarityRewards() domain.RarityRewards {
	return domain.RarityRewards{
		domain.RarityCommon:    c.Rewards.Common,
		domain.RarityRare:      c.Rewards.Rare,
		domain.RarityEpic:      c.Rewards.Epic,
		domain.RarityLegendary: c.Rewards.Legendary,
	}
}

// Location returns the streak calendar.
func (c Config) Location() (*time.Location, error) {
	if c.Streak.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Streak.Timezone)
	if err != nil {
		return nil, fmt.Errorf("streak.timezone: %w", err)
	}
	return loc, nil
}

// EngineConfig builds the coordinator settings.
func (c Config) EngineConfig() gamification.Config {
	cfg := gamification.DefaultConfig()
	cfg.Rewards = c.RarityRewards()
	cfg.DefaultCurve = c.LevelCurve
	if loc, err := c.Location(); err == nil {
		cfg.Location = loc
	}
	return cfg
}

// ReconcilerConfig builds the sweep settings.
func (c Config) ReconcilerConfig() gamification.ReconcileConfig {
	return gamification.ReconcileConfig{
		Workers:  c.Reconcile.Workers,
		PageSize: c.Reconcile.PageSize,
		RepairXP: c.Reconcile.RepairXP,
	}
}

// NotifyConfig builds the queue timings.
func (c Config) NotifyConfig() notify.Config {
	def := notify.DefaultConfig()
	return notify.Config{
		AutoClose: parseDuration(c.Notifications.AutoClose, def.AutoClose),
		Settle:    parseDuration(c.Notifications.Settle, def.Settle),
	}
}

// RedisSettings builds the redis client settings.
func (c Config) RedisSettings() redis.Config {
	rc := redis.DefaultConfig()
	rc.Addr = c.Redis.Addr
	rc.Password = c.Redis.Password
	rc.DB = c.Redis.DB
	if c.Redis.Channel != "" {
		rc.Channel = c.Redis.Channel
	}
	rc.LockTTL = parseDuration(c.Redis.LockTTL, rc.LockTTL)
	return rc
}

// xpcoreHome returns the xpcore data directory.
func xpcoreHome() string {
	if env := os.Getenv("XPCORE_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".xpcore")
}

// XPCoreHome is exported for use by other packages.
func XPCoreHome() string {
	return xpcoreHome()
}

// parseDuration parses a duration string, returning a fallback on error.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
