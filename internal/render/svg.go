package render

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	svg "github.com/ajstarks/svgo"
	"github.com/dustin/go-humanize"

	"github.com/naka-gawa/gerrit-stats/internal/domain"
)

const (
	cellSize  = 10
	cellStep  = 13
	cellRound = 2
	marginX   = 16
	gridLeft  = marginX + 28
	gridTop   = 66
	minWidth  = 560
	monoFont  = "ui-monospace,SFMono-Regular,Menlo,Consolas,monospace"
	charWidth = 7.2 // 12px monospace advance
)

// SVGOptions controls the heatmap card.
type SVGOptions struct {
	Owner      string
	Hosts      []string
	Theme      Theme
	MultiColor bool
}

// RenderSVG draws the heatmap card. The output depends only on its inputs.
func RenderSVG(grid Grid, summary domain.Summary, opts SVGOptions) []byte {
	cols := len(grid.Weeks)
	width := max(gridLeft+cols*cellStep+marginX, minWidth)
	gridBottom := gridTop + 7*cellStep
	legendY := gridBottom + 10
	labelY := legendY + 36
	valueY := labelY + 18
	height := valueY + 20

	scale := NewScale(grid.DailyCounts())
	hues := usedHues(grid, opts.MultiColor)

	var buf bytes.Buffer
	canvas := svg.New(&buf)
	canvas.Start(width, height, fmt.Sprintf(`viewBox="0 0 %d %d"`, width, height))
	canvas.Title(headerText(opts.Owner))
	canvas.Style("text/css", stylesheet(opts.Theme, hues))
	canvas.Roundrect(0, 0, width, height, 6, 6, `class="bg"`)

	canvas.Text(marginX, 24, headerText(opts.Owner), `class="title"`)
	if len(opts.Hosts) > 0 {
		canvas.Text(marginX, 40, strings.Join(opts.Hosts, " · "), `class="sub"`)
	}

	for _, m := range monthLabels(grid, 3) {
		canvas.Text(gridLeft+m.col*cellStep, gridTop-6, m.name, `class="label"`)
	}
	for row, name := range []string{"Mon", "", "Wed", "", "Fri", "", ""} {
		if name != "" {
			canvas.Text(marginX, gridTop+row*cellStep+cellSize-1, name, `class="label"`)
		}
	}

	for col, w := range grid.Weeks {
		for row, c := range w.Cells {
			if c.Day == nil {
				continue
			}
			x := gridLeft + col*cellStep
			y := gridTop + row*cellStep
			level := scale.Level(c.Day.MergedCount)
			class := fmt.Sprintf("day l%d", level)
			family, ok := DominantFamily(c.Day)
			if opts.MultiColor && ok && level > 0 {
				class = fmt.Sprintf("day h%d l%d", HueIndex(family), level)
			}
			canvas.Group()
			canvas.Title(tooltip(c.Day, family, opts.MultiColor))
			canvas.Roundrect(x, y, cellSize, cellSize, cellRound, cellRound, fmt.Sprintf(`class="%s"`, class))
			canvas.Gend()
		}
	}

	drawLegend(canvas, grid, opts.MultiColor, width, legendY)
	drawSummary(canvas, summary, width, labelY, valueY)

	canvas.End()
	return buf.Bytes()
}

func headerText(owner string) string {
	if owner == "" {
		return "Gerrit contributions"
	}
	return "Gerrit contributions · " + owner
}

func tooltip(b *domain.DailyBucket, family string, multiColor bool) string {
	date := b.Date.Format(domain.DateLayout)
	var s string
	switch b.MergedCount {
	case 0:
		s = "No merged changes on " + date
	case 1:
		s = "1 merged change on " + date
	default:
		s = fmt.Sprintf("%s merged changes on %s", humanize.Comma(int64(b.MergedCount)), date)
	}
	if multiColor && family != "" {
		s += " (" + family + ")"
	}
	return s
}

// familyHue pairs a family with its ramp for the legend.
type familyHue struct {
	family string
	hue    int
}

func gridFamilies(grid Grid) []familyHue {
	seen := map[string]bool{}
	for _, w := range grid.Weeks {
		for _, c := range w.Cells {
			if c.Day == nil {
				continue
			}
			for f := range c.Day.Families {
				seen[f] = true
			}
		}
	}
	out := make([]familyHue, 0, len(seen))
	for f := range seen {
		out = append(out, familyHue{family: f, hue: HueIndex(f)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].family < out[j].family })
	return out
}

func usedHues(grid Grid, multiColor bool) []int {
	if !multiColor {
		return nil
	}
	set := map[int]bool{}
	for _, f := range gridFamilies(grid) {
		set[f.hue] = true
	}
	hues := make([]int, 0, len(set))
	for h := range set {
		hues = append(hues, h)
	}
	sort.Ints(hues)
	return hues
}

func stylesheet(t Theme, hues []int) string {
	var b strings.Builder
	writeVars(&b, t.Palette, hues)
	if t.DarkVariant != nil {
		b.WriteString("@media (prefers-color-scheme: dark) {\n")
		writeVars(&b, *t.DarkVariant, hues)
		b.WriteString("}\n")
	}
	fmt.Fprintf(&b, ".bg { fill: var(--bg); stroke: var(--border); }\n")
	fmt.Fprintf(&b, ".title { fill: var(--title); font: 600 14px %s; }\n", monoFont)
	fmt.Fprintf(&b, ".sub { fill: var(--text); font: 11px %s; }\n", monoFont)
	fmt.Fprintf(&b, ".label { fill: var(--muted); font: 10px %s; }\n", monoFont)
	fmt.Fprintf(&b, ".value { fill: var(--title); font: 600 12px %s; }\n", monoFont)
	fmt.Fprintf(&b, ".ins { fill: #2da44e; font: 600 12px %s; }\n", monoFont)
	fmt.Fprintf(&b, ".del { fill: #cf222e; font: 600 12px %s; }\n", monoFont)
	for i := 0; i < 5; i++ {
		fmt.Fprintf(&b, ".l%d { fill: var(--l%d); }\n", i, i)
	}
	for _, h := range hues {
		for lvl := 1; lvl <= 4; lvl++ {
			fmt.Fprintf(&b, ".h%d.l%d { fill: var(--h%d-l%d); }\n", h, lvl, h, lvl)
		}
	}
	return b.String()
}

func writeVars(b *strings.Builder, p Palette, hues []int) {
	b.WriteString(":root {\n")
	fmt.Fprintf(b, "  --bg: %s;\n  --border: %s;\n  --title: %s;\n  --text: %s;\n  --muted: %s;\n",
		p.Background, p.Border, p.Title, p.Text, p.Muted)
	for i, c := range p.Scale {
		fmt.Fprintf(b, "  --l%d: %s;\n", i, c)
	}
	for _, h := range hues {
		ramp := hueRamps[h].light
		if p.Dark {
			ramp = hueRamps[h].dark
		}
		for i, c := range ramp {
			fmt.Fprintf(b, "  --h%d-l%d: %s;\n", h, i+1, c)
		}
	}
	b.WriteString("}\n")
}

func drawLegend(canvas *svg.SVG, grid Grid, multiColor bool, width, y int) {
	// Intensity ramp, right aligned.
	x := width - marginX - 5*cellStep - 30
	canvas.Text(x-30, y+cellSize-1, "Less", `class="label"`)
	for i := 0; i < 5; i++ {
		canvas.Roundrect(x+i*cellStep, y, cellSize, cellSize, cellRound, cellRound, fmt.Sprintf(`class="l%d"`, i))
	}
	canvas.Text(x+5*cellStep+4, y+cellSize-1, "More", `class="label"`)

	if !multiColor {
		return
	}
	fx := gridLeft
	for _, f := range gridFamilies(grid) {
		canvas.Roundrect(fx, y, cellSize, cellSize, cellRound, cellRound, fmt.Sprintf(`class="h%d l3"`, f.hue))
		canvas.Text(fx+cellStep, y+cellSize-1, f.family, `class="label"`)
		fx += cellStep + textWidth(f.family) + 12
	}
}

func drawSummary(canvas *svg.SVG, s domain.Summary, width, labelY, valueY int) {
	type stat struct {
		label string
		value string
	}
	cells := []stat{
		{"Merged", humanize.Comma(int64(s.TotalMerged))},
		{"Last 90 days", humanize.Comma(int64(s.RecentMerged90d))},
	}
	if s.Reviews != nil {
		cells = append(cells, stat{"Reviews", humanize.Comma(int64(s.Reviews.Total))})
	}
	cells = append(cells,
		stat{"Lines", ""},
		stat{"Current streak", weeks(s.Streak.CurrentWeeks)},
		stat{"Longest streak", weeks(s.Streak.LongestWeeks)},
	)
	colWidth := (width - 2*marginX) / len(cells)
	for i, st := range cells {
		x := marginX + i*colWidth
		canvas.Text(x, labelY, st.label, `class="label"`)
		if st.label != "Lines" {
			canvas.Text(x, valueY, st.value, `class="value"`)
			continue
		}
		ins := "+" + humanize.Comma(int64(s.TotalInsertions))
		canvas.Text(x, valueY, ins, `class="ins"`)
		canvas.Text(x+textWidth(ins+" "), valueY, "−"+humanize.Comma(int64(s.TotalDeletions)), `class="del"`)
	}
}

func weeks(n int) string {
	if n == 1 {
		return "1 week"
	}
	return humanize.Comma(int64(n)) + " weeks"
}

func textWidth(s string) int {
	return int(float64(len([]rune(s)))*charWidth + 0.5)
}
