// Package domain contains the core data structures and domain logic for the application.
package domain

import "time"

// DailyBucket holds the merged activity for a single UTC calendar day.
// Hosts counts merged changes per host alias; its key set is the day's host tags.
// Families counts the same changes per colouring family (see usecase.Family).
type DailyBucket struct {
	Date        time.Time      `json:"date"`
	MergedCount int            `json:"merged_count"`
	Insertions  uint64         `json:"insertions"`
	Deletions   uint64         `json:"deletions"`
	Hosts       map[string]int `json:"hosts,omitempty"`
	Families    map[string]int `json:"families,omitempty"`
}

// Timeline is the gap-free sequence of daily buckets from Start to End inclusive.
type Timeline struct {
	Start time.Time     `json:"start"`
	End   time.Time     `json:"end"`
	Days  []DailyBucket `json:"days"`
}

// StreakInfo holds weekly streak metrics. A week is active iff it contains
// at least one merged change.
type StreakInfo struct {
	CurrentWeeks int `json:"current_weeks"`
	LongestWeeks int `json:"longest_weeks"`
}

// ProjectStats holds the merged activity for a single project.
type ProjectStats struct {
	Name       string `json:"name"`
	Merged     int    `json:"merged"`
	Insertions uint64 `json:"insertions"`
	Deletions  uint64 `json:"deletions"`
}

// ReviewStats counts review activity. It never feeds the daily buckets, and
// a Summary carries none when review activity was not fetched.
type ReviewStats struct {
	Total     int `json:"total"`
	Recent90d int `json:"recent_90d"`
}

// Summary is the set of aggregate statistics shared by every renderer.
type Summary struct {
	TotalMerged     int            `json:"total_merged"`
	RecentMerged90d int            `json:"recent_merged_90d"`
	TotalInsertions uint64         `json:"total_insertions"`
	TotalDeletions  uint64         `json:"total_deletions"`
	PeakDaily       int            `json:"peak_daily"`
	Streak          StreakInfo     `json:"streak"`
	TopProjects     []ProjectStats `json:"top_projects"`
	Reviews         *ReviewStats   `json:"reviews,omitempty"`
}
