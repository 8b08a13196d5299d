package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"pulsereveal/internal/cluster"
	"pulsereveal/internal/models"
	"pulsereveal/internal/store"
	"pulsereveal/internal/summary"
	"pulsereveal/pkg/utils"
)

func addClusterCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newClustersCmd(app))
	rootCmd.AddCommand(newTopCmd(app))
	rootCmd.AddCommand(newTransactionsCmd(app))
}

// alertView is a cluster alert with its optional summary.
type alertView struct {
	models.ClusterAlert
	Summary string `json:"summary,omitempty"`
}

func newClustersCmd(app *App) *cobra.Command {
	var (
		asOf, from, to string
		groupBy        string
		minAmount      float64
		minInsiders    int
		windowDays     int
		sendAlerts     bool
		summarize      bool
	)

	cmd := &cobra.Command{
		Use:   "clusters",
		Short: "Detect clusters of insiders trading the same company",
		Long: `Group recent transactions by company (and by day, unless grouping over
the whole window) and flag every group where enough distinct insiders
traded a large enough combined value.

Thresholds default to the [cluster] section of config.toml.`,
		Example: `  pulse clusters
  pulse clusters --as-of 2025-04-25 --window-days 10
  pulse clusters --group-by company_window --min-insiders 2 --summarize
  pulse clusters --from 2025-04-01 --to 2025-04-30 --notify`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			opts := cluster.OptionsFromConfig(app.Config.Cluster)
			flags := cmd.Flags()
			if flags.Changed("group-by") {
				opts.GroupBy = cluster.GroupBy(groupBy)
			}
			if flags.Changed("min-amount") {
				opts.MinAmount = decimal.NewFromFloat(minAmount)
			}
			if flags.Changed("min-insiders") {
				opts.MinInsiders = minInsiders
			}
			if flags.Changed("window-days") {
				opts.WindowDays = windowDays
			}
			if err := opts.Validate(); err != nil {
				return err
			}

			s, err := app.OpenStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			detector := cluster.NewDetector(s, opts, app.Logger)
			start, end, err := resolveRange(detector, asOf, from, to)
			if err != nil {
				return err
			}

			alerts, err := detector.RunRange(ctx, start, end)
			if err != nil {
				return err
			}
			app.Metrics.ObserveAlerts(string(opts.GroupBy), len(alerts))

			views := make([]alertView, len(alerts))
			var summarizer summary.Summarizer
			if summarize {
				summarizer = summary.FromConfig(app.Config, app.Logger)
			}
			for i, alert := range alerts {
				views[i].ClusterAlert = alert
				if summarizer != nil {
					views[i].Summary = summarizer.Summarize(ctx, alert)
				}
			}

			if sendAlerts {
				notifier := app.notifier()
				for _, v := range views {
					if err := notifier.SendCluster(ctx, v.ClusterAlert, v.Summary); err != nil {
						app.Logger.Warn().Err(err).Str("company", v.Company).Msg("Cluster notification not delivered")
					}
				}
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"from":     start.Format(models.DateLayout),
					"to":       end.Format(models.DateLayout),
					"group_by": opts.GroupBy,
					"alerts":   views,
				})
			}

			output.Bold("Clusters %s to %s", start.Format(models.DateLayout), end.Format(models.DateLayout))
			output.Dim("group by %s, at least %d insiders and %s combined",
				opts.GroupBy, opts.MinInsiders, utils.FormatUSD(opts.MinAmount))
			output.Println()

			if len(views) == 0 {
				output.Info("No clusters found")
				return nil
			}

			table := NewTable(output, "COMPANY", "DATE", "INSIDERS", "TXNS", "TOTAL")
			for _, v := range views {
				table.AddRow(
					utils.Truncate(v.Company, 40),
					alertPeriod(v.ClusterAlert),
					fmt.Sprint(v.InsiderCount()),
					fmt.Sprint(v.TransactionCount),
					output.Cyan(utils.FormatUSD(v.TotalAmount)),
				)
			}
			table.Render()

			for _, v := range views {
				output.Println()
				output.Bold("%s", v.Company)
				output.Printf("  Insiders: %s\n", strings.Join(v.Insiders, ", "))
				if v.Summary != "" {
					output.Printf("  %s\n", v.Summary)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&asOf, "as-of", "", "end of the trailing window, YYYY-MM-DD (default: today)")
	cmd.Flags().StringVar(&from, "from", "", "start of an explicit range, YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "end of an explicit range, YYYY-MM-DD")
	cmd.Flags().StringVar(&groupBy, "group-by", "", "company_date or company_window")
	cmd.Flags().Float64Var(&minAmount, "min-amount", 0, "minimum combined value")
	cmd.Flags().IntVar(&minInsiders, "min-insiders", 0, "minimum distinct insiders")
	cmd.Flags().IntVar(&windowDays, "window-days", 0, "trailing window length in days")
	cmd.Flags().BoolVar(&sendAlerts, "notify", false, "send each alert to the notification channels")
	cmd.Flags().BoolVar(&summarize, "summarize", false, "attach an LLM summary to each alert")

	return cmd
}

func newTopCmd(app *App) *cobra.Command {
	var (
		asOf, from, to string
		limit          int
	)

	cmd := &cobra.Command{
		Use:   "top",
		Short: "Rank companies by combined insider transaction value",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			s, err := app.OpenStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			detector := cluster.NewDetector(s, cluster.OptionsFromConfig(app.Config.Cluster), app.Logger)
			start, end, err := resolveRange(detector, asOf, from, to)
			if err != nil {
				return err
			}

			top, err := detector.Top(ctx, start, end, limit)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(top)
			}

			output.Bold("Top companies %s to %s", start.Format(models.DateLayout), end.Format(models.DateLayout))
			output.Println()
			if len(top) == 0 {
				output.Info("No transactions in range")
				return nil
			}

			table := NewTable(output, "#", "COMPANY", "INSIDERS", "TXNS", "TOTAL")
			for i, t := range top {
				table.AddRow(
					fmt.Sprint(i+1),
					utils.Truncate(t.Company, 40),
					fmt.Sprint(t.InsiderCount),
					fmt.Sprint(t.TransactionCount),
					utils.FormatCompact(t.TotalValue),
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&asOf, "as-of", "", "end of the trailing window, YYYY-MM-DD (default: today)")
	cmd.Flags().StringVar(&from, "from", "", "start of an explicit range, YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "end of an explicit range, YYYY-MM-DD")
	cmd.Flags().IntVar(&limit, "limit", 10, "number of companies to show (0 for all)")

	return cmd
}

func newTransactionsCmd(app *App) *cobra.Command {
	var filter store.TransactionFilter

	cmd := &cobra.Command{
		Use:     "transactions",
		Aliases: []string{"txns"},
		Short:   "List normalized transactions",
		Example: `  pulse transactions --company acme
  pulse transactions --from 2025-04-01 --code P --limit 20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			for _, d := range []string{filter.From, filter.To} {
				if d == "" {
					continue
				}
				if _, err := parseDay(d); err != nil {
					return err
				}
			}
			filter.Code = strings.ToUpper(filter.Code)

			s, err := app.OpenStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			txns, err := s.ListTransactions(ctx, filter)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(txns)
			}
			if len(txns) == 0 {
				output.Info("No transactions found")
				return nil
			}

			table := NewTable(output, "DATE", "COMPANY", "INSIDER", "TYPE", "SHARES", "PRICE", "VALUE")
			for _, t := range txns {
				table.AddRow(
					t.TransactionDate,
					utils.Truncate(t.CompanyName, 30),
					utils.Truncate(t.InsiderName, 24),
					string(t.TransactionType),
					utils.FormatShares(t.Shares),
					utils.FormatUSD(t.PricePerShare),
					output.Amount(t.TotalValue, t.TransactionCode),
				)
			}
			table.Render()
			output.Dim("%d transactions", len(txns))
			return nil
		},
	}

	cmd.Flags().StringVar(&filter.From, "from", "", "earliest transaction date, YYYY-MM-DD")
	cmd.Flags().StringVar(&filter.To, "to", "", "latest transaction date, YYYY-MM-DD")
	cmd.Flags().StringVar(&filter.Company, "company", "", "company name contains")
	cmd.Flags().StringVar(&filter.Insider, "insider", "", "insider name contains")
	cmd.Flags().StringVar(&filter.Code, "code", "", "transaction code (P, S, M, A)")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "maximum rows (0 for all)")

	return cmd
}

// resolveRange picks the explicit --from/--to range when given, otherwise
// the detector's trailing window ending at --as-of.
func resolveRange(d *cluster.Detector, asOf, from, to string) (time.Time, time.Time, error) {
	if from != "" || to != "" {
		if from == "" || to == "" {
			return time.Time{}, time.Time{}, fmt.Errorf("--from and --to must be given together")
		}
		start, err := parseDay(from)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		end, err := parseDay(to)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		if end.Before(start) {
			return time.Time{}, time.Time{}, fmt.Errorf("--to %s is before --from %s", to, from)
		}
		return start, end, nil
	}

	end, err := parseDay(asOf)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start, end := d.WindowRange(end)
	return start, end, nil
}

func alertPeriod(a models.ClusterAlert) string {
	if a.From == a.To {
		return a.Date
	}
	return a.From + " to " + a.To
}
