package cli

import (
	"fmt"
	"strings"

	"github.com/tutu-network/xpcore/internal/domain"
)

// ─── Level Progress Bar ─────────────────────────────────────────────────────
// Renders a profile's progress through its current level:
//   Level 3  [==========>...................]  37% | 110 XP to level 4

const barWidth = 30 // Characters for the progress bar

// renderBar draws a fixed-width bar for pct in [0, 100].
func renderBar(pct float64) string {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	filled := int(pct / 100 * float64(barWidth))
	if filled > barWidth {
		filled = barWidth
	}
	empty := barWidth - filled

	switch {
	case filled == barWidth:
		return strings.Repeat("=", filled)
	case filled > 0:
		return strings.Repeat("=", filled-1) + ">" + strings.Repeat(".", empty)
	default:
		return strings.Repeat(".", barWidth)
	}
}

// levelLine summarizes a profile view on one line.
func levelLine(v domain.ProfileView, maxLevel int) string {
	if v.Level >= maxLevel {
		return fmt.Sprintf("Level %d  [%s] max level", v.Level, renderBar(100))
	}
	return fmt.Sprintf("Level %d  [%s] %3.0f%% | %d XP to level %d",
		v.Level, renderBar(v.ProgressPct), v.ProgressPct, v.XPToNextLevel, v.Level+1)
}
