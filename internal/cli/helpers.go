package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/tutu-network/xpcore/internal/daemon"
	"github.com/tutu-network/xpcore/internal/domain"
)

// openDaemon loads config and wires the engine without starting background
// jobs. Callers must Close it.
func openDaemon(cmd *cobra.Command) (*daemon.Daemon, error) {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return nil, err
	}
	return daemon.NewWithConfig(cmd.Context(), cfg)
}

// printAwardResult writes a human summary of an award outcome.
func printAwardResult(w io.Writer, res domain.AwardResult) {
	if res.Duplicate {
		fmt.Fprintf(w, "Duplicate event for %s; no XP applied.\n", res.UserID)
	}
	fmt.Fprintf(w, "%s: %d XP, level %d", res.UserID, res.TotalXP, res.ToLevel)
	if res.LeveledUp {
		fmt.Fprintf(w, " (up from %d)", res.FromLevel)
	}
	fmt.Fprintf(w, ", %d XP to next, streak %d\n", res.XPToNextLevel, res.CurrentStreak)
	for _, b := range res.UnlockedBadges {
		fmt.Fprintf(w, "  + badge %s (%s, +%d XP)\n", b.Badge.Title, b.Badge.Rarity, b.XPAwarded)
	}
}

// ─── Badge Files ────────────────────────────────────────────────────────────

// badgeFile is the TOML layout for catalog imports:
//
//	[[badge]]
//	slug = "first-steps"
//	rarity = "common"
//	requirement_type = "lessons_completed"
//	requirement_value = 1
type badgeFile struct {
	Badges []badgeEntry `toml:"badge"`
}

type badgeEntry struct {
	Slug             string `toml:"slug"`
	Title            string `toml:"title"`
	Description      string `toml:"description"`
	Icon             string `toml:"icon"`
	Category         string `toml:"category"`
	Rarity           string `toml:"rarity"`
	RequirementType  string `toml:"requirement_type"`
	RequirementValue int64  `toml:"requirement_value"`
	Inactive         bool   `toml:"inactive"`
}

func (e badgeEntry) definition() domain.BadgeDefinition {
	return domain.BadgeDefinition{
		Slug:             e.Slug,
		Title:            e.Title,
		Description:      e.Description,
		Icon:             e.Icon,
		Category:         e.Category,
		Rarity:           domain.Rarity(e.Rarity),
		RequirementType:  domain.RequirementType(e.RequirementType),
		RequirementValue: e.RequirementValue,
		IsActive:         !e.Inactive,
	}
}

// readBadges loads badge definitions from a .toml file or a JSON array.
func readBadges(path string) ([]domain.BadgeDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		var f badgeFile
		if _, err := toml.Decode(string(data), &f); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		badges := make([]domain.BadgeDefinition, 0, len(f.Badges))
		for _, e := range f.Badges {
			badges = append(badges, e.definition())
		}
		return badges, nil
	}

	var badges []domain.BadgeDefinition
	if err := json.Unmarshal(data, &badges); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return badges, nil
}
