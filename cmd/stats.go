// Package cmd contains all the CLI commands for the application,
// built using the Cobra library.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/naka-gawa/gerrit-stats/internal/config"
	"github.com/naka-gawa/gerrit-stats/internal/domain"
	"github.com/naka-gawa/gerrit-stats/internal/gateway"
	"github.com/naka-gawa/gerrit-stats/internal/hosts"
	"github.com/naka-gawa/gerrit-stats/internal/metrics"
	"github.com/naka-gawa/gerrit-stats/internal/output"
	"github.com/naka-gawa/gerrit-stats/internal/render"
	"github.com/naka-gawa/gerrit-stats/internal/usecase"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Aggregates merged Gerrit changes and renders a heatmap",
	Long: `Fetches every merged change of the owner from each host, merges them into a
daily timeline and renders the heatmap SVG, the markdown report and a terminal summary.`,
	Run: func(cmd *cobra.Command, args []string) {
		logger := newLogger(cmd)

		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(cmd.Flags(), configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
			os.Exit(1)
		}

		env := runEnv{stdout: os.Stdout, logger: logger, now: time.Now}
		if err := runStats(context.Background(), cfg, env); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to build stats: %v\n", err)
			os.Exit(1)
		}
	},
}

// runEnv carries the process-level dependencies of a stats run.
type runEnv struct {
	stdout      io.Writer
	logger      *log.Logger
	now         func() time.Time
	gatewayOpts []gateway.Option
}

func runStats(ctx context.Context, cfg *config.Config, env runEnv) error {
	specs, err := hosts.Expand(cfg.Hosts)
	if err != nil {
		return err
	}
	creds := cfg.Credentials()
	for i := range specs {
		specs[i].Credentials = creds
	}

	theme, err := render.ThemeByName(cfg.Theme)
	if err != nil {
		return err
	}
	policy, err := usecase.ParseFailurePolicy(cfg.FailPolicy)
	if err != nil {
		return err
	}

	recorder := metrics.NewRecorder()
	opts := append([]gateway.Option{
		gateway.WithPageSize(cfg.PageSize),
		gateway.WithRateLimit(cfg.QPS),
		gateway.WithMetrics(recorder),
	}, env.gatewayOpts...)
	gerrit := gateway.NewGerritGateway(env.logger, opts...)

	aggOpts := []usecase.AggregatorOption{
		usecase.WithFailurePolicy(policy),
		usecase.WithMinWeeks(cfg.Weeks),
		usecase.WithClock(env.now),
		usecase.WithRecorder(recorder),
	}
	if !cfg.SkipReviews {
		aggOpts = append(aggOpts, usecase.WithReviews(gerrit))
	}
	aggregator := usecase.NewAggregator(gerrit, env.logger, aggOpts...)

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	query := domain.ChangeQuery{
		Owner: domain.ParseOwner(cfg.Owner),
		After: cfg.AfterDate(),
		Hosts: specs,
	}
	result, err := aggregator.Aggregate(ctx, query)
	if cfg.Metrics != "" {
		if werr := recorder.WriteTextfile(cfg.Metrics); werr != nil {
			env.logger.Printf("Failed to write metrics to %s: %v\n", cfg.Metrics, werr)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to aggregate changes: %w", err)
	}

	aliases := make([]string, len(specs))
	for i, s := range specs {
		aliases[i] = s.Alias
	}
	grid := render.BuildGrid(result.Timeline.Days).Window(cfg.Weeks)
	owner := query.Owner.String()
	writer := output.NewWriter(env.logger)

	if cfg.OutputSVG != "" {
		svg := render.RenderSVG(grid, result.Summary, render.SVGOptions{
			Owner:      owner,
			Hosts:      aliases,
			Theme:      theme,
			MultiColor: cfg.MultiColor,
		})
		if _, err := writer.Write(cfg.OutputSVG, svg); err != nil {
			return err
		}
	}

	if cfg.OutputMD != "" {
		mdOpts := render.MarkdownOptions{Owner: owner, Hosts: specs}
		if cfg.MDDate {
			mdOpts.Updated = domain.Day(env.now()).Format(domain.DateLayout)
		}
		if _, err := writer.Write(cfg.OutputMD, []byte(render.RenderMarkdown(grid, result.Summary, mdOpts))); err != nil {
			return err
		}
	}

	failures := make([]error, len(result.Failures))
	for i, f := range result.Failures {
		failures[i] = f
	}
	render.RenderTerminal(env.stdout, grid, result.Summary, render.TerminalOptions{
		Owner:    owner,
		Hosts:    aliases,
		Failures: failures,
	})
	return nil
}

func init() {
	rootCmd.AddCommand(statsCmd)
	config.RegisterFlags(statsCmd.Flags())
}
