package cli

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"pulsereveal/internal/edgar"
	"pulsereveal/internal/models"
	"pulsereveal/internal/notify"
	"pulsereveal/internal/pipeline"
	"pulsereveal/internal/store"
	"pulsereveal/internal/transform"
)

func addPipelineCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newCrawlCmd(app))
	rootCmd.AddCommand(newTransformCmd(app))
}

func (a *App) notifier() *notify.MultiNotifier {
	return notify.NewMultiNotifier(&a.Config.Notifications, a.Logger)
}

func (a *App) crawler(s store.DataStore) *pipeline.Crawler {
	client := edgar.NewClient(edgar.OptionsFromConfig(a.Config.Edgar, a.Logger))
	return pipeline.NewCrawler(client, s, a.Config.Edgar.Concurrency, a.Metrics, a.Logger)
}

func (a *App) engine(s store.DataStore) *transform.Engine {
	return transform.NewEngine(s, a.Logger,
		transform.WithProgressEvery(a.Config.Transform.ProgressEvery),
		transform.WithObserver(a.Metrics),
	)
}

func newRunCmd(app *App) *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Crawl one day of Form 4 filings and promote them",
		Long: `Fetch the EDGAR daily index for the given day, stage every Form 4
transaction in the raw ledger, then promote eligible rows into the
normalized tables. Any failure is sent to the configured notification
channels and the command exits non-zero.`,
		Example: `  pulse run
  pulse run --date 2025-04-24`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			day, err := parseDay(date)
			if err != nil {
				return err
			}

			notifier := app.notifier()
			s, err := app.OpenStore(ctx)
			if err != nil {
				unit := day.Format(models.DateLayout)
				app.Logger.Error().Err(err).Str("date", unit).Msg("Store unavailable")
				if nerr := notifier.SendError(ctx, err, unit); nerr != nil {
					app.Logger.Warn().Err(nerr).Msg("Failure notification not delivered")
				}
				return err
			}
			defer s.Close()

			runner := pipeline.NewRunner(app.crawler(s), app.engine(s), notifier, app.Metrics,
				pipeline.PushConfig{URL: app.Config.Metrics.PushgatewayURL, Job: app.Config.Metrics.Job},
				app.Logger)

			res, runErr := runner.Run(ctx, day)
			if output.IsJSON() {
				if err := output.JSON(res); err != nil {
					return err
				}
				return runErr
			}

			output.Box(fmt.Sprintf("Run %s", res.Day), []string{
				fmt.Sprintf("Run ID:        %s", res.RunID),
				fmt.Sprintf("Filings:       %d", res.Crawl.Filings),
				fmt.Sprintf("Rows staged:   %d", res.Crawl.RowsAppended),
				fmt.Sprintf("Promoted:      %s", output.Green(fmt.Sprint(res.Transform.Promoted))),
				fmt.Sprintf("Skipped:       %d", res.Transform.Skipped),
				fmt.Sprintf("Duplicates:    %d", res.Transform.Duplicates),
				fmt.Sprintf("Duration:      %s", res.Duration.Round(time.Millisecond)),
			})
			renderCounts(output, res.Crawl)

			if runErr != nil {
				output.Error("Run failed: %v", runErr)
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "day to crawl, YYYY-MM-DD (default: today)")
	return cmd
}

func newCrawlCmd(app *App) *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Stage one day of Form 4 filings without promoting",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			day, err := parseDay(date)
			if err != nil {
				return err
			}

			s, err := app.OpenStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			res, crawlErr := app.crawler(s).CrawlDay(ctx, day)
			if output.IsJSON() {
				if err := output.JSON(res); err != nil {
					return err
				}
				return crawlErr
			}

			output.Bold("Crawl %s", res.Day)
			output.Printf("  Filings:     %d\n", res.Filings)
			output.Printf("  Rows staged: %d\n", res.RowsAppended)
			renderCounts(output, res)
			renderProblemFilings(output, res)
			return crawlErr
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "day to crawl, YYYY-MM-DD (default: today)")
	return cmd
}

func newTransformCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "transform",
		Short: "Promote staged rows into the normalized tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			s, err := app.OpenStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			res, drainErr := app.engine(s).Drain(ctx)
			if output.IsJSON() {
				if err := output.JSON(res); err != nil {
					return err
				}
				return drainErr
			}

			output.Bold("Transform")
			output.Printf("  Staged:           %d\n", res.Staged)
			output.Printf("  Promoted:         %s\n", output.Green(fmt.Sprint(res.Promoted)))
			output.Printf("  Skipped:          %d\n", res.Skipped)
			output.Printf("  Already promoted: %d\n", res.AlreadyPromoted)
			output.Printf("  Duplicates:       %d\n", res.Duplicates)
			if drainErr != nil {
				output.Error("Transform stopped: %v", drainErr)
			}
			return drainErr
		},
	}
}

func renderCounts(output *Output, res pipeline.CrawlResult) {
	if len(res.Counts) == 0 {
		return
	}
	statuses := make([]string, 0, len(res.Counts))
	for status := range res.Counts {
		statuses = append(statuses, string(status))
	}
	sort.Strings(statuses)

	output.Println()
	table := NewTable(output, "STATUS", "FILINGS")
	for _, status := range statuses {
		table.AddRow(status, fmt.Sprint(res.Counts[edgar.FilingStatus(status)]))
	}
	table.Render()
}

func renderProblemFilings(output *Output, res pipeline.CrawlResult) {
	var rows [][]string
	for _, fr := range res.Results {
		if fr.Status == "" || fr.Status == edgar.StatusParsed || fr.Status == edgar.StatusEmpty {
			continue
		}
		reason := ""
		if fr.Err != nil {
			reason = fr.Err.Error()
		}
		rows = append(rows, []string{fr.Ref.Path, output.Yellow(string(fr.Status)), reason})
	}
	if len(rows) == 0 {
		return
	}

	output.Println()
	table := NewTable(output, "FILING", "STATUS", "REASON")
	for _, r := range rows {
		table.AddRow(r...)
	}
	table.Render()
}
