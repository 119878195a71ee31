// Package render turns aggregated statistics into SVG, markdown and terminal output.
package render

import (
	"math"
	"sort"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/naka-gawa/gerrit-stats/internal/domain"
)

// Cell is one day in the grid. Day is nil for padding before the first or after the last day.
type Cell struct {
	Day *domain.DailyBucket
}

// Week is a grid column. Cells[0] is Monday.
type Week struct {
	Start time.Time
	Cells [7]Cell
}

// Grid is the week-aligned calendar layout of a timeline.
type Grid struct {
	Weeks []Week
}

// BuildGrid lays days out in Monday-first week columns.
func BuildGrid(days []domain.DailyBucket) Grid {
	if len(days) == 0 {
		return Grid{}
	}
	first := domain.WeekStart(days[0].Date)
	last := domain.WeekStart(days[len(days)-1].Date)

	g := Grid{Weeks: make([]Week, domain.DaysBetween(first, last)/7+1)}
	for i := range g.Weeks {
		g.Weeks[i].Start = first.AddDate(0, 0, 7*i)
	}
	for i := range days {
		d := &days[i]
		col := domain.DaysBetween(first, domain.WeekStart(d.Date)) / 7
		row := (int(d.Date.Weekday()) + 6) % 7
		g.Weeks[col].Cells[row].Day = d
	}
	return g
}

// Window keeps only the trailing n week columns. n <= 0 keeps everything.
func (g Grid) Window(n int) Grid {
	if n <= 0 || n >= len(g.Weeks) {
		return g
	}
	return Grid{Weeks: g.Weeks[len(g.Weeks)-n:]}
}

// Total returns the merged count summed over the column's days.
func (w Week) Total() int {
	total := 0
	for _, c := range w.Cells {
		if c.Day != nil {
			total += c.Day.MergedCount
		}
	}
	return total
}

// FirstDay returns the earliest non-padding day of the column.
func (w Week) FirstDay() (time.Time, bool) {
	for _, c := range w.Cells {
		if c.Day != nil {
			return c.Day.Date, true
		}
	}
	return time.Time{}, false
}

// Scale quantizes counts into intensity levels 0-4.
type Scale struct {
	thresholds [3]float64
	max        float64
}

// NewScale derives level thresholds from the 25th, 50th and 75th percentiles
// of the non-zero counts. The observed maximum always maps to level 4.
func NewScale(counts []int) Scale {
	var data stats.Float64Data
	for _, c := range counts {
		if c > 0 {
			data = append(data, float64(c))
		}
	}
	var s Scale
	if len(data) == 0 {
		return s
	}
	s.max, _ = stats.Max(data)
	for i, p := range []float64{25, 50, 75} {
		v, err := stats.PercentileNearestRank(data, p)
		if err != nil || math.IsNaN(v) {
			v = s.max
		}
		s.thresholds[i] = v
	}
	return s
}

// Level maps a count to 0 for no activity, or 1-4.
func (s Scale) Level(count int) int {
	if count <= 0 {
		return 0
	}
	if float64(count) >= s.max {
		return 4
	}
	level := 1
	for _, t := range s.thresholds {
		if float64(count) > t {
			level++
		}
	}
	return level
}

// DailyCounts returns the merged count of every non-padding cell.
func (g Grid) DailyCounts() []int {
	var counts []int
	for _, w := range g.Weeks {
		for _, c := range w.Cells {
			if c.Day != nil {
				counts = append(counts, c.Day.MergedCount)
			}
		}
	}
	return counts
}

// WeeklyCounts returns the merged total of every column.
func (g Grid) WeeklyCounts() []int {
	counts := make([]int, len(g.Weeks))
	for i, w := range g.Weeks {
		counts[i] = w.Total()
	}
	return counts
}

// DominantFamily returns the family with the most merges on the day; ties go
// to the lexically smallest name so the choice is stable.
func DominantFamily(b *domain.DailyBucket) (string, bool) {
	if b == nil || len(b.Families) == 0 {
		return "", false
	}
	names := make([]string, 0, len(b.Families))
	for name := range b.Families {
		names = append(names, name)
	}
	sort.Strings(names)
	best := names[0]
	for _, name := range names[1:] {
		if b.Families[name] > b.Families[best] {
			best = name
		}
	}
	return best, true
}

type monthLabel struct {
	col  int
	name string
}

// monthLabels places a label at each column where the month changes, skipping
// labels that would start fewer than minGap columns after the previous one.
func monthLabels(g Grid, minGap int) []monthLabel {
	var labels []monthLabel
	lastMonth := time.Month(0)
	lastCol := -minGap
	for i, w := range g.Weeks {
		d, ok := w.FirstDay()
		if !ok {
			continue
		}
		if d.Month() == lastMonth {
			continue
		}
		lastMonth = d.Month()
		if i-lastCol < minGap {
			continue
		}
		labels = append(labels, monthLabel{col: i, name: d.Month().String()[:3]})
		lastCol = i
	}
	return labels
}
