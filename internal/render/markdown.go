package render

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/naka-gawa/gerrit-stats/internal/domain"
)

// MarkdownOptions controls the markdown report.
type MarkdownOptions struct {
	Owner string
	Hosts []domain.HostSpec
	// Updated is printed in the footer when non-empty. Callers pass a
	// formatted date so the report stays reproducible.
	Updated string
}

// RenderMarkdown builds a README-ready summary of the statistics.
func RenderMarkdown(grid Grid, summary domain.Summary, opts MarkdownOptions) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## %s\n\n", headerText(opts.Owner))

	header, body := asciiHeatmap(grid)
	b.WriteString("```\n")
	if header != "" {
		b.WriteString(header + "\n")
	}
	b.WriteString(body + "\n")
	fmt.Fprintf(&b, "peak week: %s merged\n", humanize.Comma(int64(peakWeek(grid))))
	b.WriteString("```\n\n")

	b.WriteString(summaryTable(summary).RenderMarkdown())
	b.WriteString("\n\n")

	if len(summary.TopProjects) > 0 {
		b.WriteString("**Top projects**\n\n")
		b.WriteString(projectsTable(summary.TopProjects).RenderMarkdown())
		b.WriteString("\n\n")
	}

	links := hostLinks(opts.Owner, opts.Hosts)
	switch {
	case opts.Updated != "" && links != "":
		fmt.Fprintf(&b, "_Updated %s · %s_\n", opts.Updated, links)
	case opts.Updated != "":
		fmt.Fprintf(&b, "_Updated %s_\n", opts.Updated)
	case links != "":
		fmt.Fprintf(&b, "_%s_\n", links)
	}
	return b.String()
}

func summaryTable(s domain.Summary) table.Writer {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Merged (all time)", "**" + humanize.Comma(int64(s.TotalMerged)) + "**"},
		{"Merged (last 90 days)", humanize.Comma(int64(s.RecentMerged90d))},
	})
	if r := s.Reviews; r != nil {
		t.AppendRows([]table.Row{
			{"Reviews (all time)", humanize.Comma(int64(r.Total))},
			{"Reviews (last 90 days)", humanize.Comma(int64(r.Recent90d))},
		})
	}
	t.AppendRows([]table.Row{
		{"Lines", fmt.Sprintf("+%s / -%s", humanize.Comma(int64(s.TotalInsertions)), humanize.Comma(int64(s.TotalDeletions)))},
		{"Peak day", humanize.Comma(int64(s.PeakDaily))},
		{"Current streak", weeks(s.Streak.CurrentWeeks)},
		{"Longest streak", weeks(s.Streak.LongestWeeks)},
	})
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	return t
}

func projectsTable(projects []domain.ProjectStats) table.Writer {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Project", "Merged", "+Lines", "-Lines"})
	for _, p := range projects {
		t.AppendRow(table.Row{
			"`" + p.Name + "`",
			humanize.Comma(int64(p.Merged)),
			humanize.Comma(int64(p.Insertions)),
			humanize.Comma(int64(p.Deletions)),
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})
	return t
}

// hostLinks points each host at its change search for the owner.
// Gerrit reads a bare "+" in a /q/ path as a space, so the owner is
// query-escaped rather than path-escaped.
func hostLinks(owner string, hosts []domain.HostSpec) string {
	if owner == "" || len(hosts) == 0 {
		return ""
	}
	escaped := url.QueryEscape(owner)
	links := make([]string, 0, len(hosts))
	for _, h := range hosts {
		links = append(links, fmt.Sprintf("[%s](%s/q/owner:%s)", h.Alias, h.BaseURL, escaped))
	}
	return strings.Join(links, " · ")
}
