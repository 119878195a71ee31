package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/naka-gawa/gerrit-stats/internal/hosts"
	"github.com/naka-gawa/gerrit-stats/internal/render"
)

var hostsCmd = &cobra.Command{
	Use:   "hosts",
	Short: "Lists the built-in Gerrit host aliases",
	Run: func(cmd *cobra.Command, args []string) {
		printHosts(cmd.OutOrStdout())
	},
}

var themesCmd = &cobra.Command{
	Use:   "themes",
	Short: "Lists the built-in heatmap themes",
	Run: func(cmd *cobra.Command, args []string) {
		printThemes(cmd.OutOrStdout())
	},
}

func printHosts(w io.Writer) {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.DrawBorder = false
	tbl.Style().Options.SeparateColumns = false
	tbl.AppendHeader(table.Row{"Alias", "URL"})
	for _, a := range hosts.Known() {
		tbl.AppendRow(table.Row{a.Name, a.BaseURL})
	}
	fmt.Fprintln(w, tbl.Render())
}

func printThemes(w io.Writer) {
	for _, name := range render.ThemeNames() {
		t, _ := render.ThemeByName(name)
		var notes []string
		if name == render.DefaultTheme {
			notes = append(notes, "default")
		}
		if t.DarkVariant != nil {
			notes = append(notes, "follows light/dark mode")
		}
		if len(notes) == 0 {
			fmt.Fprintln(w, name)
			continue
		}
		fmt.Fprintf(w, "%s (%s)\n", name, strings.Join(notes, ", "))
	}
}

func init() {
	rootCmd.AddCommand(hostsCmd)
	rootCmd.AddCommand(themesCmd)
}
