package gamification

import (
	"time"

	"github.com/tutu-network/xpcore/internal/domain"
)

// Streak is the consecutive-day activity state carried on a profile.
type Streak struct {
	Current      int
	Longest      int
	LastActivity time.Time // calendar day at UTC midnight; zero if never active
}

// StreakOf extracts the streak fields from a profile.
func StreakOf(p domain.Profile) Streak {
	return Streak{Current: p.CurrentStreak, Longest: p.LongestStreak, LastActivity: p.LastActivityDate}
}

// ApplyTo writes the streak back onto a profile.
func (s Streak) ApplyTo(p *domain.Profile) {
	p.CurrentStreak = s.Current
	p.LongestStreak = s.Longest
	p.LastActivityDate = s.LastActivity
}

// CalendarDay returns the calendar day of t in loc, as UTC midnight.
func CalendarDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ApplyActivity records one activity at the given instant.
// Same day: no-op. Next day: extend. Any other day, earlier ones
// included: reset to 1. Longest never drops below current.
func ApplyActivity(s Streak, at time.Time, loc *time.Location) Streak {
	day := CalendarDay(at, loc)

	if !s.LastActivity.IsZero() {
		last := CalendarDay(s.LastActivity, time.UTC)
		switch {
		case day.Equal(last):
			return s
		case day.Equal(last.AddDate(0, 0, 1)):
			s.Current++
		default:
			s.Current = 1
		}
	} else {
		s.Current = 1
	}

	if s.Current > s.Longest {
		s.Longest = s.Current
	}
	s.LastActivity = day
	return s
}
