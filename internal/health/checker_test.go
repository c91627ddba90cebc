package health

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tutu-network/xpcore/internal/infra/sqlite"
)

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlite.Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// ─── Checker Tests ──────────────────────────────────────────────────────────

func TestNewChecker(t *testing.T) {
	db := newTestDB(t)

	c := NewChecker(db, t.TempDir())
	if c == nil {
		t.Fatal("NewChecker() returned nil")
	}
	if len(c.checks) != 2 {
		t.Errorf("checks = %d, want 2", len(c.checks))
	}
}

func TestChecker_RunOnceHealthy(t *testing.T) {
	db := newTestDB(t)

	c := NewChecker(db, t.TempDir())
	c.RunOnce(context.Background())

	statuses := c.Statuses()
	if len(statuses) != 2 {
		t.Fatalf("Statuses() = %d, want 2", len(statuses))
	}
	for _, s := range statuses {
		if !s.Healthy {
			t.Errorf("check %q should be healthy, got error: %s", s.Name, s.Error)
		}
	}
	if !c.IsHealthy() {
		t.Error("IsHealthy() should be true when all checks pass")
	}
}

func TestChecker_IsHealthy_BeforeRun(t *testing.T) {
	c := NewChecker(newTestDB(t), t.TempDir())

	// Before any run there are no statuses, so IsHealthy is vacuously true.
	if !c.IsHealthy() {
		t.Error("IsHealthy() should be true before first run (no statuses)")
	}
}

func TestChecker_FailingCheck(t *testing.T) {
	c := NewChecker(newTestDB(t), t.TempDir())
	c.Add(PingCheck("redis", pingFunc(func(context.Context) error {
		return errors.New("connection refused")
	})))
	c.RunOnce(context.Background())

	if c.IsHealthy() {
		t.Error("IsHealthy() should be false with a failing check")
	}
	statuses := c.Statuses()
	last := statuses[len(statuses)-1]
	if last.Name != "redis" || last.Healthy || last.Error != "connection refused" {
		t.Errorf("redis status = %+v", last)
	}
}

func TestChecker_DataDirRecovers(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "missing")

	c := NewChecker(newTestDB(t), dataDir)
	c.RunOnce(context.Background())

	if !c.IsHealthy() {
		t.Errorf("data dir should be recreated, statuses = %+v", c.Statuses())
	}
	if info, err := os.Stat(dataDir); err != nil || !info.IsDir() {
		t.Errorf("data dir not created: %v", err)
	}
}

func TestCheckDataDir(t *testing.T) {
	if err := checkDataDir(""); err != nil {
		t.Errorf("empty dir should pass: %v", err)
	}

	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := checkDataDir(file); err == nil {
		t.Error("a regular file should fail the data dir check")
	}
}
