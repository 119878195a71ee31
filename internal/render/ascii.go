package render

import (
	"strings"
)

// blocks are the weekly intensity glyphs, lowest first.
var blocks = []rune{' ', '░', '▒', '▓', '█'}

// asciiHeatmap renders one glyph per week column plus a month header line
// aligned over it.
func asciiHeatmap(grid Grid) (header, body string) {
	weekly := grid.WeeklyCounts()
	scale := NewScale(weekly)

	line := make([]rune, len(weekly))
	for i, n := range weekly {
		line[i] = blocks[scale.Level(n)]
	}

	// The header may run past the last week column so a label starting
	// near the right edge is not cut short.
	head := []rune(strings.Repeat(" ", len(weekly)))
	for _, m := range monthLabels(grid, 4) {
		name := []rune(m.name)
		if end := m.col + len(name); end > len(head) {
			head = append(head, []rune(strings.Repeat(" ", end-len(head)))...)
		}
		copy(head[m.col:], name)
	}
	return strings.TrimRight(string(head), " "), string(line)
}

// peakWeek returns the highest weekly merge count in the grid.
func peakWeek(grid Grid) int {
	peak := 0
	for _, n := range grid.WeeklyCounts() {
		peak = max(peak, n)
	}
	return peak
}
