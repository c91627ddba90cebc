package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tutu-network/xpcore/internal/domain"
)

func TestRenderBar(t *testing.T) {
	tests := []struct {
		pct  float64
		want string
	}{
		{0, strings.Repeat(".", barWidth)},
		{-5, strings.Repeat(".", barWidth)},
		{100, strings.Repeat("=", barWidth)},
		{250, strings.Repeat("=", barWidth)},
		{50, strings.Repeat("=", 14) + ">" + strings.Repeat(".", 15)},
	}
	for _, tt := range tests {
		got := renderBar(tt.pct)
		if got != tt.want {
			t.Errorf("renderBar(%v) = %q, want %q", tt.pct, got, tt.want)
		}
		if len(got) != barWidth {
			t.Errorf("renderBar(%v) width = %d", tt.pct, len(got))
		}
	}
}

func TestLevelLine(t *testing.T) {
	v := domain.ProfileView{Level: 3, XPToNextLevel: 175, ProgressPct: 30}
	got := levelLine(v, 50)
	if !strings.Contains(got, "Level 3") || !strings.Contains(got, "175 XP to level 4") {
		t.Errorf("levelLine = %q", got)
	}

	capped := levelLine(domain.ProfileView{Level: 50, ProgressPct: 100}, 50)
	if !strings.Contains(capped, "max level") {
		t.Errorf("levelLine at cap = %q", capped)
	}
}

func TestPrintAwardResult(t *testing.T) {
	var buf bytes.Buffer
	printAwardResult(&buf, domain.AwardResult{
		UserID:        "u1",
		TotalXP:       310,
		FromLevel:     2,
		ToLevel:       3,
		LeveledUp:     true,
		XPToNextLevel: 165,
		CurrentStreak: 4,
		UnlockedBadges: []domain.BadgeAward{
			{Badge: domain.BadgeDefinition{Title: "First Steps", Rarity: domain.RarityCommon}, XPAwarded: 10},
		},
	})
	out := buf.String()
	for _, want := range []string{"u1: 310 XP, level 3", "(up from 2)", "streak 4", "+ badge First Steps (common, +10 XP)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	printAwardResult(&buf, domain.AwardResult{UserID: "u1", Duplicate: true, ToLevel: 1})
	if !strings.HasPrefix(buf.String(), "Duplicate event for u1") {
		t.Errorf("duplicate output = %q", buf.String())
	}
}

func TestReadBadges_TOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "badges.toml")
	data := `
[[badge]]
slug = "night-owl"
title = "Night Owl"
rarity = "rare"
requirement_type = "lessons_completed"
requirement_value = 20

[[badge]]
title = "Old Timer"
rarity = "common"
inactive = true
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	badges, err := readBadges(path)
	if err != nil {
		t.Fatalf("readBadges: %v", err)
	}
	if len(badges) != 2 {
		t.Fatalf("got %d badges, want 2", len(badges))
	}
	b := badges[0]
	if b.Slug != "night-owl" || b.Rarity != domain.RarityRare || b.RequirementType != domain.RequirementLessonsCompleted || b.RequirementValue != 20 || !b.IsActive {
		t.Errorf("badge[0] = %+v", b)
	}
	if badges[1].IsActive {
		t.Error("badge[1] should be inactive")
	}
}

func TestReadBadges_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "badges.json")
	data := `[{"slug":"helper","title":"Helper","rarity":"epic","requirement_type":"total_xp","requirement_value":500,"is_active":true}]`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	badges, err := readBadges(path)
	if err != nil {
		t.Fatalf("readBadges: %v", err)
	}
	if len(badges) != 1 || badges[0].Slug != "helper" || badges[0].Rarity != domain.RarityEpic {
		t.Errorf("badges = %+v", badges)
	}
}

func TestReadBadges_Errors(t *testing.T) {
	if _, err := readBadges(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := readBadges(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestMergeCurve(t *testing.T) {
	base := domain.DefaultLevelCurve()
	got := mergeCurve(base, 0, 2.0, 0)
	want := domain.LevelCurveConfig{XPBase: base.XPBase, XPMultiplier: 2.0, MaxLevel: base.MaxLevel}
	if got != want {
		t.Errorf("mergeCurve = %+v, want %+v", got, want)
	}
}
