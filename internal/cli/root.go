package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"pulsereveal/internal/config"
	"pulsereveal/internal/logging"
	"pulsereveal/internal/metrics"
	"pulsereveal/internal/models"
	"pulsereveal/internal/security"
	"pulsereveal/internal/store"
	"pulsereveal/internal/tracing"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2025-05-01"
)

// skipConfig marks commands that run without loading configuration.
const skipConfig = "skip-config"

// App holds the application dependencies.
type App struct {
	Config    *config.Config
	ConfigDir string
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics

	shutdownTracing tracing.ShutdownFunc
}

// OpenStore opens the configured database. Callers close it.
func (a *App) OpenStore(ctx context.Context) (*store.SQLStore, error) {
	if a.Config.Store.Driver == "sqlite3" {
		if err := os.MkdirAll(filepath.Dir(a.Config.Store.DSN), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	s, err := store.Open(ctx, a.Config.Store.Driver, a.Config.Store.DSN)
	if err != nil {
		return nil, err
	}
	a.Logger.Debug().Str("driver", s.Driver()).Msg("Store opened")
	return s, nil
}

// Execute runs the root command and flushes tracing on every exit path.
func Execute() error {
	app := &App{Logger: zerolog.Nop()}
	defer app.close()
	return newRootCmd(app).Execute()
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&App{Logger: zerolog.Nop()})
}

func newRootCmd(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pulse",
		Short: "PulseReveal - SEC Form 4 insider trading pipeline",
		Long: `PulseReveal crawls the SEC EDGAR daily index for Form 4 filings, stages
every reported transaction in a raw ledger, promotes them into normalized
issuer, insider and transaction tables, and flags clusters of insiders
trading the same company together.

Run 'pulse run' once a day, then 'pulse clusters' to see what stands out.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[skipConfig] == "true" {
				return nil
			}
			return app.init(cmd)
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/pulsereveal)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addCoreCommands(rootCmd, app)
	addPipelineCommands(rootCmd, app)
	addClusterCommands(rootCmd, app)

	return rootCmd
}

func (a *App) init(cmd *cobra.Command) error {
	dir, _ := cmd.Flags().GetString("config")
	if dir == "" {
		dir = config.DefaultConfigDir()
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	a.Config = cfg
	a.ConfigDir = dir

	logCfg := logging.DefaultLogConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.File = cfg.Logging.File
	logCfg.FilePath = cfg.Logging.FilePath
	a.Logger = logging.NewLoggerWithConfig(logCfg)

	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		logging.SetDebugLevel()
		a.Logger = a.Logger.Level(zerolog.DebugLevel)
	}

	a.Metrics = metrics.New()

	shutdown, err := tracing.Setup(cmd.Context(), tracing.Config{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    "pulsereveal",
		ServiceVersion: Version,
		Writer:         os.Stderr,
	})
	if err != nil {
		return err
	}
	a.shutdownTracing = shutdown
	return nil
}

func (a *App) close() {
	if a.shutdownTracing == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdownTracing(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("Tracing shutdown failed")
	}
	a.shutdownTracing = nil
}

// parseDay parses a YYYY-MM-DD flag value. Empty means today.
func parseDay(value string) (time.Time, error) {
	if value == "" {
		now := time.Now()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	day, err := time.ParseInLocation(models.DateLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", value)
	}
	return day, nil
}

func addCoreCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("PulseReveal v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				shown := *app.Config
				shown.Store.DSN = security.RedactDSN(shown.Store.DSN)
				return output.JSON(shown)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": app.ConfigDir})
			}
			output.Println(app.ConfigDir)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if app.Config.Edgar.UserAgent == "" {
				output.Warning("edgar.user_agent is empty, SEC may reject requests")
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("✓ Configuration is valid")
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Store")
	output.Printf("  Driver:           %s\n", cfg.Store.Driver)
	output.Printf("  DSN:              %s\n", security.RedactDSN(cfg.Store.DSN))
	output.Println()

	output.Bold("EDGAR")
	output.Printf("  Base URL:         %s\n", cfg.Edgar.BaseURL)
	output.Printf("  User Agent:       %s\n", cfg.Edgar.UserAgent)
	output.Printf("  Request Delay:    %s\n", cfg.Edgar.RequestDelay)
	output.Printf("  Concurrency:      %d\n", cfg.Edgar.Concurrency)
	output.Printf("  Breaker Failures: %d\n", cfg.Edgar.BreakerFailures)
	output.Println()

	output.Bold("Cluster Detection")
	output.Printf("  Group By:         %s\n", cfg.Cluster.GroupBy)
	output.Printf("  Min Amount:       %s\n", cfg.Cluster.MinAmountDecimal().StringFixed(2))
	output.Printf("  Min Insiders:     %d\n", cfg.Cluster.MinInsiders)
	output.Printf("  Window Days:      %d\n", cfg.Cluster.WindowDays)
	output.Println()

	output.Bold("Notifications")
	output.Printf("  Enabled:          %v\n", cfg.Notifications.Enabled)
	output.Printf("  Level:            %s\n", cfg.Notifications.Level)
	output.Printf("  Webhook:          %v\n", cfg.Notifications.Webhook.Enabled)
	output.Printf("  Telegram:         %v\n", cfg.Notifications.Telegram.Enabled)
	output.Printf("  Email:            %v\n", cfg.Notifications.Email.Enabled)
	output.Println()

	output.Bold("Observability")
	output.Printf("  Log Level:        %s\n", cfg.Logging.Level)
	output.Printf("  Pushgateway:      %s\n", cfg.Metrics.PushgatewayURL)
	output.Printf("  Tracing:          %v\n", cfg.Tracing.Enabled)
}
