package daemon

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/tutu-network/xpcore/internal/api"
	"github.com/tutu-network/xpcore/internal/app/gamification"
	"github.com/tutu-network/xpcore/internal/app/notify"
	"github.com/tutu-network/xpcore/internal/domain"
	"github.com/tutu-network/xpcore/internal/health"
	"github.com/tutu-network/xpcore/internal/infra/postgres"
	"github.com/tutu-network/xpcore/internal/infra/redis"
	"github.com/tutu-network/xpcore/internal/infra/scheduler"
	"github.com/tutu-network/xpcore/internal/infra/sqlite"
	"github.com/tutu-network/xpcore/internal/platform/logger"
)

// Daemon is the xpcore runtime. It wires together all services.
type Daemon struct {
	Config Config
	Log    *logger.Logger
	Store  domain.Store

	Coordinator *gamification.Coordinator
	Catalog     *gamification.Catalog
	Reconciler  *gamification.Reconciler
	Hub         *notify.Hub
	Bus         *redis.Bus // nil without redis
	Scheduler   *scheduler.Scheduler
	Health      *health.Checker
	Server      *api.Server

	rdb             *goredis.Client
	shutdownTracing func(context.Context) error
	cancel          context.CancelFunc
}

// New creates and initializes a Daemon with all services wired.
func New(ctx context.Context) (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return NewWithConfig(ctx, cfg)
}

// NewWithConfig creates a Daemon with the given configuration. Background
// jobs do not start until Serve.
func NewWithConfig(ctx context.Context, cfg Config) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	log, err := logger.New(cfg.Logging.Mode, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	d := &Daemon{Config: cfg, Log: log}
	ok := false
	defer func() {
		if !ok {
			d.Close()
		}
	}()

	d.shutdownTracing, err = setupTracing(cfg.Telemetry)
	if err != nil {
		return nil, err
	}

	// Store
	dataDir, err := d.openStore(ctx)
	if err != nil {
		return nil, err
	}

	// Award engine
	d.Coordinator = gamification.NewCoordinator(d.Store, cfg.EngineConfig(), log)
	d.Catalog = gamification.NewCatalog(d.Store, log)
	d.Reconciler = gamification.NewReconciler(d.Coordinator, nil, cfg.ReconcilerConfig())
	d.Hub = notify.NewHub(log)

	// Redis lock and bus, or in-process equivalents
	if cfg.Redis.Addr != "" {
		rc := cfg.RedisSettings()
		d.rdb, err = redis.Connect(ctx, rc)
		if err != nil {
			return nil, err
		}
		d.Bus = redis.NewBus(d.rdb, rc, log)
		d.Coordinator.SetLocker(redis.NewLocker(d.rdb, rc))
		d.Coordinator.SetPublisher(d.Bus)
	} else {
		d.Coordinator.SetPublisher(d.Hub)
	}

	if err := d.bootstrap(ctx); err != nil {
		return nil, err
	}

	// Background jobs
	d.Scheduler, err = scheduler.New(log)
	if err != nil {
		return nil, err
	}
	if cfg.Reconcile.Enabled {
		err := d.Scheduler.Add(scheduler.JobSpec{
			Name:       "reconcile",
			Interval:   parseDuration(cfg.Reconcile.Interval, time.Hour),
			Timeout:    parseDuration(cfg.Reconcile.Timeout, 0),
			RunOnStart: cfg.Reconcile.RunOnStart,
			Task: func(ctx context.Context) error {
				_, err := d.Reconciler.Run(ctx)
				return err
			},
		})
		if err != nil {
			return nil, err
		}
	}

	// Health checker
	d.Health = health.NewChecker(d.Store, dataDir)
	if d.rdb != nil {
		d.Health.Add(health.PingCheck("redis", redisPinger{d.rdb}))
	}

	// API server
	srv := api.NewServer(d.Coordinator, d.Catalog, d.Reconciler, d.Store, log)
	srv.SetHub(d.Hub, cfg.NotifyConfig())
	srv.SetHealth(d.Health)
	srv.SetTimeout(parseDuration(cfg.API.RequestTimeout, 30*time.Second))
	if cfg.API.Metrics {
		srv.EnableMetrics()
	}
	d.Server = srv

	ok = true
	return d, nil
}

// openStore opens the configured store and returns the directory the
// health checker watches ("" for postgres).
func (d *Daemon) openStore(ctx context.Context) (string, error) {
	cfg := d.Config.Database
	switch cfg.Driver {
	case DriverPostgres:
		pc := postgres.DefaultConfig(cfg.DSN)
		if cfg.MaxConns > 0 {
			pc.MaxConns = cfg.MaxConns
		}
		if cfg.MinConns > 0 {
			pc.MinConns = cfg.MinConns
		}
		st, err := postgres.Open(ctx, pc)
		if err != nil {
			return "", fmt.Errorf("open database: %w", err)
		}
		d.Store = st
		return "", nil
	default:
		dir := cfg.Dir
		if dir == "" {
			dir = xpcoreHome()
		}
		db, err := sqlite.Open(dir)
		if err != nil {
			return "", fmt.Errorf("open database: %w", err)
		}
		d.Store = db
		return dir, nil
	}
}

// bootstrap seeds the badge catalog and level curve on an empty store.
// Stored values always win over the config file.
func (d *Daemon) bootstrap(ctx context.Context) error {
	badges, err := d.Store.Badges(ctx)
	if err != nil {
		return fmt.Errorf("load badges: %w", err)
	}
	if len(badges) == 0 {
		n, err := d.Catalog.Seed(ctx)
		if err != nil {
			return fmt.Errorf("seed badges: %w", err)
		}
		d.Log.Info("seeded badge catalog", "badges", n)
	}

	curve, err := d.Store.LevelCurve(ctx)
	if err != nil {
		return fmt.Errorf("load level curve: %w", err)
	}
	if curve == nil {
		if err := d.Store.SaveLevelCurve(ctx, d.Config.LevelCurve); err != nil {
			return fmt.Errorf("save level curve: %w", err)
		}
	}
	return nil
}

// Serve starts the HTTP server and background jobs and blocks until
// shutdown.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.cancel = cancel

	go d.Health.Run(ctx)

	if d.Bus != nil {
		// Every process's hub hears every award, including its own.
		if err := d.Bus.StartForwarder(ctx, d.Hub.Deliver); err != nil {
			return err
		}
	}
	d.Scheduler.Start()

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)

	httpServer := &http.Server{
		Addr:        addr,
		Handler:     d.Server.Handler(),
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: notification streams are long-lived. Other
		// routes are bounded by the router's timeout middleware.
		IdleTimeout: 2 * time.Minute,
	}

	// Graceful shutdown on signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		// Streams end with the base context before Shutdown waits on them.
		cancel()
		if err := d.Scheduler.Shutdown(); err != nil {
			d.Log.Warn("scheduler shutdown", "error", err)
		}
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	d.Log.Info("xpcore serving", "addr", "http://"+addr, "driver", d.Config.Database.Driver, "redis", d.rdb != nil)
	if d.Config.API.Metrics {
		d.Log.Info("metrics enabled", "url", "http://"+addr+"/metrics")
	}

	httpServer.BaseContext = func(_ net.Listener) context.Context { return ctx }
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.Scheduler != nil {
		_ = d.Scheduler.Shutdown()
	}
	if d.rdb != nil {
		_ = d.rdb.Close()
	}
	if d.Store != nil {
		_ = d.Store.Close()
	}
	if d.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = d.shutdownTracing(ctx)
		cancel()
	}
	if d.Log != nil {
		d.Log.Sync()
	}
}

// redisPinger adapts a redis client to health.Pinger.
type redisPinger struct {
	rdb *goredis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}
