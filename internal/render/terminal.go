package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-runewidth"

	"github.com/naka-gawa/gerrit-stats/internal/domain"
)

const (
	boxWidth       = 60
	projectNameMax = 36
)

// TerminalOptions controls the console report.
type TerminalOptions struct {
	Owner    string
	Hosts    []string
	Failures []error
}

// RenderTerminal writes a human readable report. Colour follows fatih/color's
// terminal detection.
func RenderTerminal(w io.Writer, grid Grid, summary domain.Summary, opts TerminalOptions) {
	bold := color.New(color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	title := headerText(opts.Owner)
	if len(opts.Hosts) > 0 {
		title += " (" + strings.Join(opts.Hosts, ", ") + ")"
	}
	title = runewidth.Truncate(title, boxWidth-4, "…")
	fmt.Fprintln(w, "┌"+strings.Repeat("─", boxWidth-2)+"┐")
	fmt.Fprintln(w, "│ "+bold(runewidth.FillRight(title, boxWidth-4))+" │")
	fmt.Fprintln(w, "└"+strings.Repeat("─", boxWidth-2)+"┘")

	header, body := asciiHeatmap(grid)
	if header != "" {
		fmt.Fprintln(w, "  "+header)
	}
	fmt.Fprintln(w, " ["+green(body)+"]")
	fmt.Fprintln(w)

	fmt.Fprintf(w, "  Merged       %s (%s in the last 90 days)\n",
		bold(humanize.Comma(int64(summary.TotalMerged))), humanize.Comma(int64(summary.RecentMerged90d)))
	if r := summary.Reviews; r != nil {
		fmt.Fprintf(w, "  Reviews      %s (%s in the last 90 days)\n",
			bold(humanize.Comma(int64(r.Total))), humanize.Comma(int64(r.Recent90d)))
	}
	fmt.Fprintf(w, "  Lines        %s / %s\n",
		green("+"+humanize.Comma(int64(summary.TotalInsertions))), red("-"+humanize.Comma(int64(summary.TotalDeletions))))
	fmt.Fprintf(w, "  Peak day     %s\n", humanize.Comma(int64(summary.PeakDaily)))
	fmt.Fprintf(w, "  Streak       %s current, %s longest\n",
		weeks(summary.Streak.CurrentWeeks), weeks(summary.Streak.LongestWeeks))

	if len(summary.TopProjects) > 0 {
		fmt.Fprintln(w)
		tbl := table.NewWriter()
		tbl.SetStyle(table.StyleLight)
		tbl.Style().Options.SeparateColumns = false
		tbl.Style().Options.DrawBorder = false
		tbl.AppendHeader(table.Row{"Project", "Merged", "+", "-"})
		for _, p := range summary.TopProjects {
			tbl.AppendRow(table.Row{
				runewidth.Truncate(p.Name, projectNameMax, "…"),
				humanize.Comma(int64(p.Merged)),
				humanize.Comma(int64(p.Insertions)),
				humanize.Comma(int64(p.Deletions)),
			})
		}
		fmt.Fprintln(w, tbl.Render())
	}

	for _, err := range opts.Failures {
		fmt.Fprintln(w, yellow("  warning: "+err.Error()))
	}
}
