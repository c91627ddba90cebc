// Package gamification implements the xpcore award engine: the level curve,
// streak tracking, badge evaluation, the award coordinator, and the
// reconciliation sweep.
package gamification

import (
	"math"
	"sort"

	"github.com/tutu-network/xpcore/internal/domain"
)

// LevelTable is the precomputed cumulative XP table for one curve config.
// It is immutable and safe for concurrent use.
type LevelTable struct {
	cfg domain.LevelCurveConfig
	// cumulative[L-1] is the total XP needed to reach level L.
	cumulative []int64
}

// NewLevelTable precomputes the table for cfg. The config is assumed to be
// validated at the admin boundary; degenerate values are clamped so the
// table stays well formed. Thresholds past int64 saturate at MaxInt64,
// which makes those levels unreachable.
func NewLevelTable(cfg domain.LevelCurveConfig) *LevelTable {
	if cfg.MaxLevel < 1 {
		cfg.MaxLevel = 1
	}
	if cfg.XPBase < 1 {
		cfg.XPBase = 1
	}
	if !(cfg.XPMultiplier >= 1) {
		cfg.XPMultiplier = 1
	}

	cum := make([]int64, cfg.MaxLevel)
	for l := 2; l <= cfg.MaxLevel; l++ {
		cum[l-1] = addSaturating(cum[l-2], xpForLevel(cfg, l-1))
	}
	return &LevelTable{cfg: cfg, cumulative: cum}
}

// Config returns the curve the table was built from.
func (t *LevelTable) Config() domain.LevelCurveConfig { return t.cfg }

// MaxLevel returns the level cap.
func (t *LevelTable) MaxLevel() int { return t.cfg.MaxLevel }

// XPForLevel returns the XP needed to advance from level l to l+1.
// Returns 0 at or beyond the cap.
func (t *LevelTable) XPForLevel(l int) int64 {
	if l < 1 || l >= t.cfg.MaxLevel {
		return 0
	}
	return xpForLevel(t.cfg, l)
}

// CumulativeXP returns the total XP at which level l starts.
func (t *LevelTable) CumulativeXP(l int) int64 {
	if l <= 1 {
		return 0
	}
	if l > t.cfg.MaxLevel {
		l = t.cfg.MaxLevel
	}
	return t.cumulative[l-1]
}

// Level returns the highest level whose threshold is <= totalXP.
func (t *LevelTable) Level(totalXP int64) int {
	if totalXP < 0 {
		totalXP = 0
	}
	// First index whose threshold exceeds totalXP; the level is that index.
	return sort.Search(len(t.cumulative), func(i int) bool {
		return t.cumulative[i] > totalXP
	})
}

// XPToNextLevel returns the XP still missing for the next level, or 0 at the cap.
func (t *LevelTable) XPToNextLevel(totalXP int64) int64 {
	if totalXP < 0 {
		totalXP = 0
	}
	l := t.Level(totalXP)
	if l >= t.cfg.MaxLevel {
		return 0
	}
	return t.cumulative[l] - totalXP
}

// ProgressPct returns progress toward the next level (0.0–100.0).
func (t *LevelTable) ProgressPct(totalXP int64) float64 {
	l := t.Level(totalXP)
	if l >= t.cfg.MaxLevel {
		return 100.0
	}
	span := t.cumulative[l] - t.cumulative[l-1]
	if span <= 0 {
		return 100.0
	}
	pct := float64(totalXP-t.cumulative[l-1]) / float64(span) * 100.0
	return math.Min(math.Max(pct, 0), 100)
}

// View derives the level fields for a profile.
func (t *LevelTable) View(p domain.Profile) domain.ProfileView {
	return domain.ProfileView{
		Profile:       p,
		Level:         t.Level(p.TotalXP),
		XPToNextLevel: t.XPToNextLevel(p.TotalXP),
		ProgressPct:   t.ProgressPct(p.TotalXP),
	}
}

// xpForLevel is floor(base × multiplier^(l-1)), saturated at MaxInt64.
func xpForLevel(cfg domain.LevelCurveConfig, l int) int64 {
	v := math.Floor(float64(cfg.XPBase) * math.Pow(cfg.XPMultiplier, float64(l-1)))
	if v >= math.MaxInt64 || math.IsInf(v, 0) || math.IsNaN(v) {
		return math.MaxInt64
	}
	return int64(v)
}

func addSaturating(a, b int64) int64 {
	if a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}
