package usecase

import (
	"sort"
	"time"

	"github.com/naka-gawa/gerrit-stats/internal/domain"
)

// TopProjectsCount is the number of projects surfaced in the summary.
const TopProjectsCount = 5

// RecentWindowDays is the length of the "recent" window ending on the timeline's last day.
const RecentWindowDays = 90

// Summarize derives the aggregate statistics shared by all renderers.
// Project names carry an "alias::" prefix when several hosts are combined.
func Summarize(tl domain.Timeline, records []domain.ChangeRecord, multiHost bool) domain.Summary {
	var s domain.Summary
	recentFrom := tl.End.AddDate(0, 0, -(RecentWindowDays - 1))
	for _, b := range tl.Days {
		s.TotalMerged += b.MergedCount
		s.TotalInsertions += b.Insertions
		s.TotalDeletions += b.Deletions
		s.PeakDaily = max(s.PeakDaily, b.MergedCount)
		if !b.Date.Before(recentFrom) {
			s.RecentMerged90d += b.MergedCount
		}
	}
	s.Streak = Streaks(tl)

	projects := make(map[string]*domain.ProjectStats)
	for _, rec := range records {
		name := rec.Project
		if multiHost {
			name = rec.HostAlias + "::" + rec.Project
		}
		p, ok := projects[name]
		if !ok {
			p = &domain.ProjectStats{Name: name}
			projects[name] = p
		}
		p.Merged++
		p.Insertions += uint64(rec.Insertions)
		p.Deletions += uint64(rec.Deletions)
	}

	// Convert the map to a slice and sort it for consistent output.
	s.TopProjects = make([]domain.ProjectStats, 0, len(projects))
	for _, p := range projects {
		s.TopProjects = append(s.TopProjects, *p)
	}
	sort.Slice(s.TopProjects, func(i, j int) bool {
		a, b := s.TopProjects[i], s.TopProjects[j]
		if a.Merged != b.Merged {
			return a.Merged > b.Merged
		}
		return a.Name < b.Name
	})
	if len(s.TopProjects) > TopProjectsCount {
		s.TopProjects = s.TopProjects[:TopProjectsCount]
	}
	return s
}

// SummarizeReviews counts review events overall and within the recent
// window ending on end. Events dated after end still count toward the total.
func SummarizeReviews(events []domain.ReviewEvent, end time.Time) *domain.ReviewStats {
	recentFrom := domain.Day(end).AddDate(0, 0, -(RecentWindowDays - 1))
	s := &domain.ReviewStats{Total: len(events)}
	for _, ev := range events {
		d := domain.Day(ev.At)
		if !d.Before(recentFrom) && !d.After(domain.Day(end)) {
			s.Recent90d++
		}
	}
	return s
}
