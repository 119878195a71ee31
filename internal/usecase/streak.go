package usecase

import "github.com/naka-gawa/gerrit-stats/internal/domain"

// Streaks computes weekly streaks over a timeline. Weeks start on Monday.
//
// The latest week is the present one: if it has no merges yet it is skipped
// rather than breaking the current streak.
func Streaks(tl domain.Timeline) domain.StreakInfo {
	if len(tl.Days) == 0 {
		return domain.StreakInfo{}
	}

	first := domain.WeekStart(tl.Days[0].Date)
	last := domain.WeekStart(tl.Days[len(tl.Days)-1].Date)
	active := make([]bool, domain.DaysBetween(first, last)/7+1)
	for _, b := range tl.Days {
		if b.MergedCount > 0 {
			active[domain.DaysBetween(first, domain.WeekStart(b.Date))/7] = true
		}
	}

	var info domain.StreakInfo
	run := 0
	for _, a := range active {
		if !a {
			run = 0
			continue
		}
		run++
		info.LongestWeeks = max(info.LongestWeeks, run)
	}

	i := len(active) - 1
	if !active[i] {
		i--
	}
	for ; i >= 0 && active[i]; i-- {
		info.CurrentWeeks++
	}
	return info
}
