// Package transform promotes staged raw transactions into the normalized
// ledger, resolving issuer and insider identities along the way.
package transform

import (
	"context"
	"reflect"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"pulsereveal/internal/logging"
	"pulsereveal/internal/models"
	"pulsereveal/internal/store"
)

// Outcome is the per-row result of a drain.
type Outcome string

const (
	OutcomePromoted        Outcome = "promoted"
	OutcomeSkipped         Outcome = "skipped"
	OutcomeAlreadyPromoted Outcome = "already_promoted"
	OutcomeDuplicate       Outcome = "duplicate"
	OutcomeFailed          Outcome = "failed"
)

// Skip reasons. Skipped rows stay in staging.
const (
	ReasonZeroShares     = "zero_shares"
	ReasonNegativeShares = "negative_shares"
	ReasonInvalidDate    = "invalid_date"
)

// RowOutcome records what happened to one staged row.
type RowOutcome struct {
	RawID   int64
	Outcome Outcome
	Reason  string
}

// Result summarizes one drain.
type Result struct {
	Staged          int          `json:"staged"`
	Promoted        int          `json:"promoted"`
	Skipped         int          `json:"skipped"`
	AlreadyPromoted int          `json:"already_promoted"`
	Duplicates      int          `json:"duplicates"`
	Rows            []RowOutcome `json:"-"`
}

// Observer receives per-row outcomes, e.g. for metrics.
type Observer interface {
	ObservePromotion(outcome Outcome, reason string)
}

// Engine drains the raw ledger.
type Engine struct {
	store         store.DataStore
	logger        zerolog.Logger
	progressEvery int
	observer      Observer
}

// Option configures an Engine.
type Option func(*Engine)

// WithProgressEvery logs a progress line every n promotions (0 disables).
func WithProgressEvery(n int) Option {
	return func(e *Engine) { e.progressEvery = n }
}

// WithObserver attaches an outcome observer. A nil observer, including a
// typed nil pointer, leaves the engine unobserved.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o == nil {
			return
		}
		if v := reflect.ValueOf(o); v.Kind() == reflect.Pointer && v.IsNil() {
			return
		}
		e.observer = o
	}
}

// NewEngine creates a transform engine over s.
func NewEngine(s store.DataStore, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:         s,
		logger:        logger,
		progressEvery: 50,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Drain promotes every eligible staged row. Each promotion is its own
// database transaction. A storage failure stops the drain; the partial
// result is returned with the error.
func (e *Engine) Drain(ctx context.Context) (Result, error) {
	ctx, span := otel.Tracer("pulsereveal/transform").Start(ctx, "transform.drain")
	defer span.End()

	var res Result
	log := logging.ForStage(ctx, e.logger, "transform")

	staged, err := e.store.ListStaged(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list staged transactions")
		return res, err
	}
	res.Staged = len(staged)
	log.Info().Int("staged", res.Staged).Msg("Starting transform")

	for _, raw := range staged {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if reason, skip := skipReason(raw); skip {
			res.Skipped++
			e.record(&res, RowOutcome{RawID: raw.ID, Outcome: OutcomeSkipped, Reason: reason})
			log.Debug().Int64("raw_id", raw.ID).Str("reason", reason).Str("filing", raw.FilingPath).Msg("Row left in staging")
			continue
		}

		pr, err := e.store.Promote(ctx, raw, Normalize(raw))
		if err != nil {
			e.record(&res, RowOutcome{RawID: raw.ID, Outcome: OutcomeFailed})
			log.Error().Err(err).Int64("raw_id", raw.ID).Str("filing", raw.FilingPath).Msg("Promotion failed, aborting transform")
			span.SetAttributes(attribute.Int("transform.promoted", res.Promoted))
			return res, err
		}

		if pr.Duplicate {
			res.Duplicates++
			e.record(&res, RowOutcome{RawID: raw.ID, Outcome: OutcomeDuplicate})
			log.Debug().Int64("raw_id", raw.ID).Str("filing", raw.FilingPath).Msg("Source row already in ledger, staged copy discarded")
			continue
		}
		if !pr.Promoted {
			res.AlreadyPromoted++
			e.record(&res, RowOutcome{RawID: raw.ID, Outcome: OutcomeAlreadyPromoted})
			continue
		}

		res.Promoted++
		e.record(&res, RowOutcome{RawID: raw.ID, Outcome: OutcomePromoted})
		if e.progressEvery > 0 && res.Promoted%e.progressEvery == 0 {
			log.Info().Int("promoted", res.Promoted).Int("staged", res.Staged).Msg("Transform progress")
		}
	}

	span.SetAttributes(
		attribute.Int("transform.staged", res.Staged),
		attribute.Int("transform.promoted", res.Promoted),
		attribute.Int("transform.skipped", res.Skipped),
	)
	log.Info().
		Int("promoted", res.Promoted).
		Int("skipped", res.Skipped).
		Int("already_promoted", res.AlreadyPromoted).
		Int("duplicates", res.Duplicates).
		Msg("Transform complete")

	return res, nil
}

func (e *Engine) record(res *Result, row RowOutcome) {
	res.Rows = append(res.Rows, row)
	if e.observer != nil {
		e.observer.ObservePromotion(row.Outcome, row.Reason)
	}
}

// skipReason reports why a staged row must not be promoted yet.
func skipReason(raw models.RawTransaction) (string, bool) {
	if raw.Shares.IsZero() {
		return ReasonZeroShares, true
	}
	if !raw.Shares.IsPositive() {
		return ReasonNegativeShares, true
	}
	if _, err := time.Parse(models.DateLayout, raw.TransactionDate); err != nil {
		return ReasonInvalidDate, true
	}
	return "", false
}

// Normalize derives the normalized record for a staged row. Identity ids
// are filled in by the store during promotion.
func Normalize(raw models.RawTransaction) models.Transaction {
	title := models.DefaultSecurityTitle
	if raw.SecurityTitle != nil && *raw.SecurityTitle != "" {
		title = *raw.SecurityTitle
	}

	filingDate := raw.TransactionDate
	if raw.FilingDate != nil {
		if _, err := time.Parse(models.DateLayout, *raw.FilingDate); err == nil {
			filingDate = *raw.FilingDate
		}
	}

	return models.Transaction{
		TransactionDate: raw.TransactionDate,
		TransactionCode: raw.TransactionCode,
		SecurityTitle:   title,
		TransactionType: models.ClassifyCode(raw.TransactionCode),
		Shares:          raw.Shares,
		PricePerShare:   raw.PricePerShare,
		TotalValue:      raw.Shares.Mul(raw.PricePerShare),
		FilingDate:      filingDate,
		FilingPath:      raw.FilingPath,
		FilingSeq:       raw.FilingSeq,
	}
}
