package usecase

import (
	"strings"
	"time"

	"github.com/naka-gawa/gerrit-stats/internal/domain"
)

// Bucket materializes one DailyBucket per UTC day from the start of the range
// through today, keyed by each record's merge date.
//
// The range starts at after when given, otherwise at the earliest merge date,
// otherwise today; minWeeks pulls it back to cover that many Monday-aligned weeks.
func Bucket(records []domain.ChangeRecord, after *time.Time, today time.Time, minWeeks int, multiHost bool) domain.Timeline {
	today = domain.Day(today)
	start, end := today, today
	for i, rec := range records {
		d := domain.Day(*rec.MergedAt)
		if i == 0 || d.Before(start) {
			start = d
		}
		if d.After(end) {
			end = d
		}
	}
	if after != nil {
		start = domain.Day(*after)
	}
	if minWeeks > 0 {
		floor := domain.WeekStart(today).AddDate(0, 0, -7*(minWeeks-1))
		if floor.Before(start) {
			start = floor
		}
	}
	if start.After(end) {
		end = start
	}

	n := domain.DaysBetween(start, end) + 1
	days := make([]domain.DailyBucket, n)
	for i := range days {
		days[i].Date = start.AddDate(0, 0, i)
	}

	for _, rec := range records {
		idx := domain.DaysBetween(start, *rec.MergedAt)
		if idx < 0 || idx >= n {
			continue
		}
		b := &days[idx]
		b.MergedCount++
		b.Insertions += uint64(rec.Insertions)
		b.Deletions += uint64(rec.Deletions)
		if b.Hosts == nil {
			b.Hosts = make(map[string]int)
			b.Families = make(map[string]int)
		}
		b.Hosts[rec.HostAlias]++
		b.Families[Family(rec, multiHost)]++
	}

	return domain.Timeline{Start: start, End: end, Days: days}
}

// Family is the colouring group of a change: its host alias when several hosts
// are combined, otherwise the first path segment of its project, so that
// "chromium/src" and "chromium/tools" share a colour.
func Family(rec domain.ChangeRecord, multiHost bool) string {
	if multiHost {
		return rec.HostAlias
	}
	family, _, _ := strings.Cut(rec.Project, "/")
	return family
}
