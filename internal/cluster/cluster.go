// Package cluster detects coordinated insider trading: several distinct
// insiders at one company trading a large combined value close together.
package cluster

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"pulsereveal/internal/config"
	"pulsereveal/internal/logging"
	"pulsereveal/internal/models"
	"pulsereveal/internal/store"
)

// GroupBy selects the grouping key.
type GroupBy string

const (
	// GroupByCompanyDate groups by (company, transaction date).
	GroupByCompanyDate GroupBy = "company_date"
	// GroupByCompanyWindow groups by company over the whole loaded window.
	GroupByCompanyWindow GroupBy = "company_window"
)

// Options holds detection thresholds.
type Options struct {
	GroupBy     GroupBy
	MinAmount   decimal.Decimal
	MinInsiders int
	WindowDays  int
}

// DefaultOptions returns 500,000 / 3 insiders / (company, date) / 5 days.
func DefaultOptions() Options {
	return Options{
		GroupBy:     GroupByCompanyDate,
		MinAmount:   decimal.NewFromInt(500000),
		MinInsiders: 3,
		WindowDays:  5,
	}
}

// OptionsFromConfig converts the [cluster] config section.
func OptionsFromConfig(cfg config.ClusterConfig) Options {
	return Options{
		GroupBy:     GroupBy(cfg.GroupBy),
		MinAmount:   cfg.MinAmountDecimal(),
		MinInsiders: cfg.MinInsiders,
		WindowDays:  cfg.WindowDays,
	}
}

// Validate checks the option values.
func (o Options) Validate() error {
	switch o.GroupBy {
	case GroupByCompanyDate, GroupByCompanyWindow:
	default:
		return fmt.Errorf("unknown group_by %q", o.GroupBy)
	}
	if o.MinAmount.IsNegative() {
		return fmt.Errorf("min_amount must be non-negative")
	}
	if o.MinInsiders < 1 {
		return fmt.Errorf("min_insiders must be at least 1")
	}
	if o.WindowDays < 0 {
		return fmt.Errorf("window_days must be non-negative")
	}
	return nil
}

type groupKey struct {
	company string
	date    string
}

type group struct {
	total    decimal.Decimal
	insiders map[string]struct{}
	count    int
	from, to string
}

// Detect groups rows and returns an alert for every group whose combined
// value reaches MinAmount and whose distinct insider count reaches
// MinInsiders. The result does not depend on row order.
func Detect(rows []models.ClusterRow, opts Options) []models.ClusterAlert {
	groups := make(map[groupKey]*group)

	for _, r := range rows {
		key := groupKey{company: r.Company}
		if opts.GroupBy != GroupByCompanyWindow {
			key.date = r.TransactionDate
		}

		g, ok := groups[key]
		if !ok {
			g = &group{insiders: make(map[string]struct{}), from: r.TransactionDate, to: r.TransactionDate}
			groups[key] = g
		}
		g.total = g.total.Add(r.TotalValue)
		g.insiders[r.Insider] = struct{}{}
		g.count++
		if r.TransactionDate < g.from {
			g.from = r.TransactionDate
		}
		if r.TransactionDate > g.to {
			g.to = r.TransactionDate
		}
	}

	var alerts []models.ClusterAlert
	for key, g := range groups {
		if g.total.LessThan(opts.MinAmount) || len(g.insiders) < opts.MinInsiders {
			continue
		}

		insiders := make([]string, 0, len(g.insiders))
		for name := range g.insiders {
			insiders = append(insiders, name)
		}
		sort.Strings(insiders)

		alerts = append(alerts, models.ClusterAlert{
			Company:          key.company,
			Date:             g.to,
			From:             g.from,
			To:               g.to,
			TotalAmount:      g.total,
			Insiders:         insiders,
			TransactionCount: g.count,
		})
	}

	sort.Slice(alerts, func(i, j int) bool {
		a, b := alerts[i], alerts[j]
		if a.Date != b.Date {
			return a.Date > b.Date
		}
		if c := a.TotalAmount.Cmp(b.TotalAmount); c != 0 {
			return c > 0
		}
		return a.Company < b.Company
	})

	return alerts
}

// CompanyTotal is one line of the top-companies ranking.
type CompanyTotal struct {
	Company          string          `json:"company"`
	TotalValue       decimal.Decimal `json:"total_value"`
	TransactionCount int             `json:"transaction_count"`
	InsiderCount     int             `json:"insider_count"`
}

// TopCompanies ranks companies by combined transaction value. n <= 0
// returns every company.
func TopCompanies(rows []models.ClusterRow, n int) []CompanyTotal {
	type acc struct {
		total    decimal.Decimal
		count    int
		insiders map[string]struct{}
	}
	byCompany := make(map[string]*acc)
	for _, r := range rows {
		a, ok := byCompany[r.Company]
		if !ok {
			a = &acc{insiders: make(map[string]struct{})}
			byCompany[r.Company] = a
		}
		a.total = a.total.Add(r.TotalValue)
		a.count++
		a.insiders[r.Insider] = struct{}{}
	}

	out := make([]CompanyTotal, 0, len(byCompany))
	for company, a := range byCompany {
		out = append(out, CompanyTotal{
			Company:          company,
			TotalValue:       a.total,
			TransactionCount: a.count,
			InsiderCount:     len(a.insiders),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].TotalValue.Cmp(out[j].TotalValue); c != 0 {
			return c > 0
		}
		return out[i].Company < out[j].Company
	})

	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Detector loads rows from the store and runs Detect.
type Detector struct {
	store  store.DataStore
	opts   Options
	logger zerolog.Logger
}

// NewDetector creates a detector.
func NewDetector(s store.DataStore, opts Options, logger zerolog.Logger) *Detector {
	return &Detector{store: s, opts: opts, logger: logging.WithStage(logger, "clusters")}
}

// Options returns the detector's thresholds.
func (d *Detector) Options() Options {
	return d.opts
}

// WindowRange returns the trailing window ending at asOf.
func (d *Detector) WindowRange(asOf time.Time) (from, to time.Time) {
	return asOf.AddDate(0, 0, -d.opts.WindowDays), asOf
}

// Run detects clusters over [asOf - WindowDays, asOf].
func (d *Detector) Run(ctx context.Context, asOf time.Time) ([]models.ClusterAlert, error) {
	from, to := d.WindowRange(asOf)
	return d.RunRange(ctx, from, to)
}

// RunRange detects clusters over an explicit inclusive date range.
func (d *Detector) RunRange(ctx context.Context, from, to time.Time) ([]models.ClusterAlert, error) {
	ctx, span := otel.Tracer("pulsereveal/cluster").Start(ctx, "clusters.detect")
	defer span.End()

	if err := d.opts.Validate(); err != nil {
		return nil, err
	}

	dateRange := store.DateRange{From: from.Format(models.DateLayout), To: to.Format(models.DateLayout)}
	rows, err := d.store.ClusterRows(ctx, dateRange)
	if err != nil {
		d.logger.Error().Err(err).Str("from", dateRange.From).Str("to", dateRange.To).Msg("Failed to load transactions for cluster detection")
		return nil, err
	}

	alerts := Detect(rows, d.opts)
	span.SetAttributes(attribute.Int("clusters.rows", len(rows)), attribute.Int("clusters.alerts", len(alerts)))
	d.logger.Info().
		Str("from", dateRange.From).
		Str("to", dateRange.To).
		Str("group_by", string(d.opts.GroupBy)).
		Int("transactions", len(rows)).
		Int("alerts", len(alerts)).
		Msg("Cluster detection complete")

	return alerts, nil
}

// Top ranks companies by combined value over an explicit range.
func (d *Detector) Top(ctx context.Context, from, to time.Time, n int) ([]CompanyTotal, error) {
	rows, err := d.store.ClusterRows(ctx, store.DateRange{From: from.Format(models.DateLayout), To: to.Format(models.DateLayout)})
	if err != nil {
		return nil, err
	}
	return TopCompanies(rows, n), nil
}
