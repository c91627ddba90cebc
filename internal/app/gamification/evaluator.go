package gamification

import (
	"strings"

	"github.com/gosimple/slug"

	"github.com/tutu-network/xpcore/internal/domain"
)

// Qualifies reports whether counters meet the badge's requirement.
// Typed badges compare their counter with >=. Untyped badges resolve
// through the legacy slug table; a badge that resolves to nothing never
// qualifies.
func Qualifies(b domain.BadgeDefinition, c domain.Counters) bool {
	rt, value := b.RequirementType, b.RequirementValue
	if !rt.Known() {
		var ok bool
		rt, value, ok = ResolveLegacy(b.Slug)
		if !ok {
			return false
		}
	}
	return counterFor(rt, c) >= value
}

// Eligible returns the active badges not in owned that qualify, in catalog order.
func Eligible(badges []domain.BadgeDefinition, owned map[string]bool, c domain.Counters) []domain.BadgeDefinition {
	var out []domain.BadgeDefinition
	for _, b := range badges {
		if !b.IsActive || owned[b.ID] {
			continue
		}
		if Qualifies(b, c) {
			out = append(out, b)
		}
	}
	return out
}

func counterFor(rt domain.RequirementType, c domain.Counters) int64 {
	switch rt {
	case domain.RequirementLessonsCompleted:
		return int64(c.LessonsCompleted)
	case domain.RequirementCoursesCompleted:
		return int64(c.CoursesCompleted)
	case domain.RequirementQuizzesPassed:
		return int64(c.QuizzesPassed)
	case domain.RequirementLevelReached:
		return int64(c.Level)
	case domain.RequirementTotalXP:
		return c.TotalXP
	case domain.RequirementStreakDays:
		return int64(c.Streak)
	case domain.RequirementCertificatesEarned:
		return int64(c.CertificatesEarned)
	case domain.RequirementBadgesEarned:
		return int64(c.BadgesEarned)
	}
	return -1
}

// Evaluable reports whether a badge can ever be granted: it is active and
// has a typed requirement or a slug the legacy table resolves.
func Evaluable(b domain.BadgeDefinition) bool {
	if !b.IsActive {
		return false
	}
	if b.RequirementType.Known() {
		return true
	}
	_, _, ok := ResolveLegacy(b.Slug)
	return ok
}

// ─── Legacy Slug Table ──────────────────────────────────────────────────────

// legacyRule maps a milestone fragment of a badge slug to a typed requirement.
type legacyRule struct {
	Fragment string
	Type     domain.RequirementType
	Value    int64
}

// legacyRules is checked in order; the first matching fragment wins.
var legacyRules = []legacyRule{
	{"first-lesson", domain.RequirementLessonsCompleted, 1},
	{"10-lesson", domain.RequirementLessonsCompleted, 10},
	{"10-lessons", domain.RequirementLessonsCompleted, 10},
	{"25-lessons", domain.RequirementLessonsCompleted, 25},
	{"50-lessons", domain.RequirementLessonsCompleted, 50},
	{"100-lessons", domain.RequirementLessonsCompleted, 100},

	{"first-course", domain.RequirementCoursesCompleted, 1},
	{"5-courses", domain.RequirementCoursesCompleted, 5},
	{"10-courses", domain.RequirementCoursesCompleted, 10},

	{"first-quiz", domain.RequirementQuizzesPassed, 1},
	{"quiz-master", domain.RequirementQuizzesPassed, 25},
	{"10-quizzes", domain.RequirementQuizzesPassed, 10},

	{"first-certificate", domain.RequirementCertificatesEarned, 1},

	{"level-5", domain.RequirementLevelReached, 5},
	{"level-10", domain.RequirementLevelReached, 10},
	{"level-25", domain.RequirementLevelReached, 25},
	{"level-50", domain.RequirementLevelReached, 50},

	{"streak-3", domain.RequirementStreakDays, 3},
	{"streak-7", domain.RequirementStreakDays, 7},
	{"streak-14", domain.RequirementStreakDays, 14},
	{"streak-30", domain.RequirementStreakDays, 30},
	{"streak-100", domain.RequirementStreakDays, 100},

	{"xp-1000", domain.RequirementTotalXP, 1000},
	{"xp-5000", domain.RequirementTotalXP, 5000},
	{"xp-10000", domain.RequirementTotalXP, 10000},

	{"collector-5", domain.RequirementBadgesEarned, 5},
	{"collector-10", domain.RequirementBadgesEarned, 10},
}

// ResolveLegacy translates an untyped badge slug into a typed requirement.
// The slug is normalized first. A fragment matches only as a whole run of
// hyphen-separated tokens, so "level-50" never matches "level-5".
func ResolveLegacy(badgeSlug string) (domain.RequirementType, int64, bool) {
	tokens := strings.Split(slug.Make(badgeSlug), "-")
	for _, r := range legacyRules {
		if containsRun(tokens, strings.Split(r.Fragment, "-")) {
			return r.Type, r.Value, true
		}
	}
	return domain.RequirementNone, 0, false
}

// LegacyFragments returns the fragments of the legacy table, in match order.
func LegacyFragments() []string {
	out := make([]string, len(legacyRules))
	for i, r := range legacyRules {
		out[i] = r.Fragment
	}
	return out
}

func containsRun(tokens, run []string) bool {
	if len(run) == 0 || len(run) > len(tokens) {
		return false
	}
outer:
	for i := 0; i+len(run) <= len(tokens); i++ {
		for j := range run {
			if tokens[i+j] != run[j] {
				continue outer
			}
		}
		return true
	}
	return false
}
