package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	perrors "pulsereveal/internal/errors"
	"pulsereveal/internal/logging"
	"pulsereveal/internal/metrics"
	"pulsereveal/internal/models"
	"pulsereveal/internal/notify"
	"pulsereveal/internal/transform"
)

// Drainer is the part of the transform engine the runner needs.
type Drainer interface {
	Drain(ctx context.Context) (transform.Result, error)
}

// PushConfig says where metrics go at the end of a run.
type PushConfig struct {
	URL string
	Job string
}

// RunResult summarizes one run.
type RunResult struct {
	RunID     string           `json:"run_id"`
	Day       string           `json:"day"`
	Crawl     CrawlResult      `json:"crawl"`
	Transform transform.Result `json:"transform"`
	Duration  time.Duration    `json:"duration"`
}

// Runner performs crawl then transform for one day.
type Runner struct {
	crawler  *Crawler
	engine   Drainer
	notifier notify.Notifier
	metrics  *metrics.Metrics
	push     PushConfig
	logger   zerolog.Logger
}

// NewRunner creates a runner. A nil notifier disables failure notifications.
func NewRunner(c *Crawler, engine Drainer, n notify.Notifier, m *metrics.Metrics, push PushConfig, logger zerolog.Logger) *Runner {
	if n == nil {
		n = notify.NewNoOpNotifier()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Runner{
		crawler:  c,
		engine:   engine,
		notifier: n,
		metrics:  m,
		push:     push,
		logger:   logger,
	}
}

// Run crawls day and then drains the raw ledger. The transform runs even
// when the crawl failed, so rows staged before the failure are promoted.
// Any failure is sent to the notifier and returned.
func (r *Runner) Run(ctx context.Context, day time.Time) (RunResult, error) {
	started := time.Now()
	res := RunResult{RunID: uuid.NewString(), Day: day.Format(models.DateLayout)}

	log := logging.WithDate(logging.WithRunID(r.logger, res.RunID), day)
	ctx = logging.WithLogger(ctx, log)

	ctx, span := otel.Tracer("pulsereveal/pipeline").Start(ctx, "run")
	defer span.End()
	span.SetAttributes(attribute.String("run.id", res.RunID), attribute.String("run.day", res.Day))

	log.Info().Msg("Run started")

	crawlStarted := time.Now()
	crawl, crawlErr := r.crawler.CrawlDay(ctx, day)
	res.Crawl = crawl
	r.metrics.ObserveStage("crawl", crawlStarted, crawlErr)

	var drainErr error
	if ctx.Err() == nil {
		drainStarted := time.Now()
		res.Transform, drainErr = r.engine.Drain(ctx)
		r.metrics.ObserveStage("transform", drainStarted, drainErr)
	}

	err := perrors.Join(crawlErr, drainErr)
	res.Duration = time.Since(started)
	r.metrics.ObserveStage("run", started, err)

	if err != nil {
		log.Error().Err(err).Dur("duration", res.Duration).Msg("Run failed")
		r.notifyFailure(ctx, err, res.Day)
	} else {
		log.Info().
			Int("filings", res.Crawl.Filings).
			Int("rows_staged", res.Crawl.RowsAppended).
			Int("promoted", res.Transform.Promoted).
			Int("skipped", res.Transform.Skipped).
			Dur("duration", res.Duration).
			Msg("Run complete")
	}

	r.pushMetrics(ctx, res.RunID, log)
	return res, err
}

func (r *Runner) notifyFailure(ctx context.Context, err error, unit string) {
	// Deliver even when the run was cancelled
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if nerr := r.notifier.SendError(nctx, err, unit); nerr != nil {
		r.logger.Warn().Err(nerr).Msg("Failure notification not delivered")
	}
}

func (r *Runner) pushMetrics(ctx context.Context, runID string, log zerolog.Logger) {
	if r.push.URL == "" {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := r.metrics.Push(pctx, r.push.URL, r.push.Job, runID); err != nil {
		log.Warn().Err(err).Str("pushgateway", r.push.URL).Msg("Metrics push failed")
	}
}
