// Package config provides configuration management for the Form 4 pipeline.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	perrors "pulsereveal/internal/errors"
)

// Config holds all application configuration.
type Config struct {
	Store         StoreConfig        `mapstructure:"store"`
	Edgar         EdgarConfig        `mapstructure:"edgar"`
	Transform     TransformConfig    `mapstructure:"transform"`
	Cluster       ClusterConfig      `mapstructure:"cluster"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Summary       SummaryConfig      `mapstructure:"summary"`
	Metrics       MetricsConfig      `mapstructure:"metrics"`
	Tracing       TracingConfig      `mapstructure:"tracing"`
	Logging       LoggingConfig      `mapstructure:"logging"`
	Credentials   Credentials        `mapstructure:"-" json:"-"` // Loaded separately
}

// StoreConfig selects the database backend.
type StoreConfig struct {
	Driver string `mapstructure:"driver"` // sqlite3, postgres
	DSN    string `mapstructure:"dsn"`
}

// EdgarConfig holds EDGAR access configuration.
type EdgarConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	UserAgent       string        `mapstructure:"user_agent"`
	IndexTimeout    time.Duration `mapstructure:"index_timeout"`
	FilingTimeout   time.Duration `mapstructure:"filing_timeout"`
	IndexDelay      time.Duration `mapstructure:"index_delay"`
	RequestDelay    time.Duration `mapstructure:"request_delay"`
	Concurrency     int           `mapstructure:"concurrency"`
	BreakerFailures int           `mapstructure:"breaker_failures"`
}

// TransformConfig holds transform engine configuration.
type TransformConfig struct {
	ProgressEvery int `mapstructure:"progress_every"`
}

// ClusterConfig holds cluster detection thresholds.
type ClusterConfig struct {
	GroupBy     string  `mapstructure:"group_by"` // company_date, company_window
	MinAmount   float64 `mapstructure:"min_amount"`
	MinInsiders int     `mapstructure:"min_insiders"`
	WindowDays  int     `mapstructure:"window_days"`
}

// MinAmountDecimal returns the amount threshold as a decimal.
func (c ClusterConfig) MinAmountDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.MinAmount)
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Level    string         `mapstructure:"level"` // all, alerts_only, errors_only
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Email    EmailConfig    `mapstructure:"email"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token" json:"-"`
	ChatID   string `mapstructure:"chat_id"`
}

// EmailConfig holds email notification configuration.
type EmailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	SMTPHost string `mapstructure:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password" json:"-"`
	From     string `mapstructure:"from"`
	To       string `mapstructure:"to"`
}

// SummaryConfig holds the cluster summarizer configuration.
type SummaryConfig struct {
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

// MetricsConfig holds Pushgateway configuration.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// TracingConfig toggles span export.
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoggingConfig holds log output configuration.
type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	File     bool   `mapstructure:"file"`
	FilePath string `mapstructure:"file_path"`
}

// Credentials holds secrets kept out of config.toml.
type Credentials struct {
	Database   DatabaseCredentials   `mapstructure:"database"`
	OpenRouter OpenRouterCredentials `mapstructure:"openrouter"`
}

// DatabaseCredentials holds a full connection string.
type DatabaseCredentials struct {
	URL string `mapstructure:"url"`
}

// OpenRouterCredentials holds the summarizer API key.
type OpenRouterCredentials struct {
	APIKey string `mapstructure:"api_key"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/pulsereveal"
	}
	return filepath.Join(home, ".config", "pulsereveal")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. Missing files
// are created from templates and the defaults are used.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	// .env in the working directory, then in the config dir; existing
	// environment variables win.
	_ = godotenv.Load()
	_ = godotenv.Load(filepath.Join(configDir, ".env"))

	cfg := &Config{}

	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, perrors.Wrap(err, "loading config.toml")
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, perrors.Wrap(err, "loading credentials.toml")
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, perrors.Wrap(err, "validating config")
	}

	return cfg, nil
}

// Default returns a configuration populated with defaults only.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite3")
	v.SetDefault("store.dsn", filepath.Join(DefaultConfigDir(), "insider_trading.db"))

	v.SetDefault("edgar.base_url", "https://www.sec.gov")
	v.SetDefault("edgar.user_agent", "")
	v.SetDefault("edgar.index_timeout", "30s")
	v.SetDefault("edgar.filing_timeout", "20s")
	v.SetDefault("edgar.index_delay", "1s")
	v.SetDefault("edgar.request_delay", "150ms")
	v.SetDefault("edgar.concurrency", 4)
	v.SetDefault("edgar.breaker_failures", 10)

	v.SetDefault("transform.progress_every", 50)

	v.SetDefault("cluster.group_by", "company_date")
	v.SetDefault("cluster.min_amount", 500000.0)
	v.SetDefault("cluster.min_insiders", 3)
	v.SetDefault("cluster.window_days", 5)

	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.level", "all")
	v.SetDefault("notifications.email.smtp_port", 587)

	v.SetDefault("summary.model", "openai/gpt-4o-mini")
	v.SetDefault("summary.base_url", "https://openrouter.ai/api/v1")

	v.SetDefault("metrics.job", "pulsereveal")

	v.SetDefault("tracing.enabled", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.file_path", filepath.Join(DefaultConfigDir(), "logs", "pulse.log"))
}

func loadConfigFile(configDir string, cfg *Config) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		if err := createTemplate(configDir, "config.toml", configTemplate, 0644); err != nil {
			return err
		}
	}

	return v.Unmarshal(cfg)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		// Use restricted permissions for credentials file
		if err := createTemplate(configDir, "credentials.toml", credentialsTemplate, 0600); err != nil {
			return err
		}
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	// Database
	if cfg.Credentials.Database.URL != "" {
		cfg.Store.DSN = cfg.Credentials.Database.URL
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Store.DSN = v
		if cfg.Store.Driver == "sqlite3" && looksLikePostgres(v) {
			cfg.Store.Driver = "postgres"
		}
	}
	if v := os.Getenv("PULSE_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}

	// EDGAR
	if v := os.Getenv("SEC_USER_AGENT"); v != "" {
		cfg.Edgar.UserAgent = v
	}

	// Summarizer
	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		cfg.Credentials.OpenRouter.APIKey = v
	}

	// Email
	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Notifications.Email.SMTPHost = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Notifications.Email.SMTPPort = port
		}
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		cfg.Notifications.Email.Username = v
		if cfg.Notifications.Email.From == "" {
			cfg.Notifications.Email.From = v
		}
	}
	if v := os.Getenv("SMTP_PASS"); v != "" {
		cfg.Notifications.Email.Password = v
	}
	if v := os.Getenv("ALERT_EMAIL_TO"); v != "" {
		cfg.Notifications.Email.To = v
	}

	// Telegram
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Notifications.Telegram.ChatID = v
	}
}

func looksLikePostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite3", "postgres":
	default:
		return perrors.NewValidationError("store.driver", c.Store.Driver, "must be 'sqlite3' or 'postgres'")
	}
	if c.Store.DSN == "" {
		return perrors.NewValidationError("store.dsn", c.Store.DSN, "must not be empty")
	}

	if c.Edgar.BaseURL == "" {
		return perrors.NewValidationError("edgar.base_url", c.Edgar.BaseURL, "must not be empty")
	}
	if c.Edgar.Concurrency < 1 {
		return perrors.NewValidationError("edgar.concurrency", c.Edgar.Concurrency, "must be at least 1")
	}
	if c.Edgar.RequestDelay < 0 || c.Edgar.IndexDelay < 0 {
		return perrors.NewValidationError("edgar.request_delay", c.Edgar.RequestDelay, "delays must be non-negative")
	}
	if c.Edgar.IndexTimeout <= 0 || c.Edgar.FilingTimeout <= 0 {
		return perrors.NewValidationError("edgar.index_timeout", c.Edgar.IndexTimeout, "timeouts must be positive")
	}
	if c.Edgar.BreakerFailures < 0 {
		return perrors.NewValidationError("edgar.breaker_failures", c.Edgar.BreakerFailures, "must be non-negative")
	}

	if c.Transform.ProgressEvery < 0 {
		return perrors.NewValidationError("transform.progress_every", c.Transform.ProgressEvery, "must be non-negative")
	}

	if c.Cluster.GroupBy != "company_date" && c.Cluster.GroupBy != "company_window" {
		return perrors.NewValidationError("cluster.group_by", c.Cluster.GroupBy, "must be 'company_date' or 'company_window'")
	}
	if c.Cluster.MinAmount < 0 {
		return perrors.NewValidationError("cluster.min_amount", c.Cluster.MinAmount, "must be non-negative")
	}
	if c.Cluster.MinInsiders < 1 {
		return perrors.NewValidationError("cluster.min_insiders", c.Cluster.MinInsiders, "must be at least 1")
	}
	if c.Cluster.WindowDays < 0 {
		return perrors.NewValidationError("cluster.window_days", c.Cluster.WindowDays, "must be non-negative")
	}

	switch c.Notifications.Level {
	case "", "all", "alerts_only", "errors_only":
	default:
		return perrors.NewValidationError("notifications.level", c.Notifications.Level, "must be all, alerts_only or errors_only")
	}

	return nil
}

// IsPostgres returns true if the PostgreSQL backend is selected.
func (c *Config) IsPostgres() bool {
	return c.Store.Driver == "postgres"
}
