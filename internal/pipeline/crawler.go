// Package pipeline composes the EDGAR crawl and the transform engine into
// one run.
package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"pulsereveal/internal/edgar"
	perrors "pulsereveal/internal/errors"
	"pulsereveal/internal/logging"
	"pulsereveal/internal/metrics"
	"pulsereveal/internal/models"
	"pulsereveal/internal/store"
)

// Fetcher is the part of the EDGAR client the crawler needs.
type Fetcher interface {
	FetchIndex(ctx context.Context, day time.Time) ([]models.FilingReference, error)
	FetchFiling(ctx context.Context, ref models.FilingReference) edgar.FilingResult
	ResetBreaker()
}

// CrawlResult summarizes one day of crawling.
type CrawlResult struct {
	Day          string                     `json:"day"`
	Filings      int                        `json:"filings"`
	RowsAppended int                        `json:"rows_appended"`
	Counts       map[edgar.FilingStatus]int `json:"counts"`
	// Results holds one entry per index filing, in index order. Entries for
	// filings never reached (cancellation, aborted day) have an empty Status.
	Results []edgar.FilingResult `json:"-"`
}

// Crawler discovers a day's Form 4 filings and stages their rows.
type Crawler struct {
	fetcher     Fetcher
	store       store.DataStore
	concurrency int
	metrics     *metrics.Metrics
	logger      zerolog.Logger
}

// NewCrawler creates a crawler. concurrency bounds in-flight filings; the
// request rate itself is capped by the fetcher's limiter.
func NewCrawler(f Fetcher, s store.DataStore, concurrency int, m *metrics.Metrics, logger zerolog.Logger) *Crawler {
	if concurrency < 1 {
		concurrency = 1
	}
	if m == nil {
		m = metrics.New()
	}
	return &Crawler{
		fetcher:     f,
		store:       s,
		concurrency: concurrency,
		metrics:     m,
		logger:      logger,
	}
}

// CrawlDay fetches the index for day, then fetches, parses and stages each
// filing. Per-filing failures are recorded in the result and never stop
// the day. A raw ledger write failure aborts the day and is returned along
// with the partial result.
func (c *Crawler) CrawlDay(ctx context.Context, day time.Time) (CrawlResult, error) {
	ctx, span := otel.Tracer("pulsereveal/pipeline").Start(ctx, "crawl")
	defer span.End()

	res := CrawlResult{
		Day:    day.Format(models.DateLayout),
		Counts: make(map[edgar.FilingStatus]int),
	}
	span.SetAttributes(attribute.String("crawl.day", res.Day))
	log := logging.ForStage(ctx, logging.WithDate(c.logger, day), "crawl")

	c.fetcher.ResetBreaker()

	refs, err := c.fetcher.FetchIndex(ctx, day)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	res.Filings = len(refs)
	res.Results = make([]edgar.FilingResult, len(refs))
	if len(refs) == 0 {
		log.Info().Msg("No Form 4 filings for this day")
		return res, nil
	}
	log.Info().Int("filings", len(refs)).Msg("Crawling filings")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	appended := make([]int, len(refs))
	for i, ref := range refs {
		if gctx.Err() != nil {
			break
		}
		i, ref := i, ref
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			fr := c.fetcher.FetchFiling(gctx, ref)
			if fr.Status == edgar.StatusParsed {
				flog := logging.WithFiling(log, ref.Path)
				if err := c.store.AppendRaw(gctx, fr.Rows); err != nil {
					flog.Error().Err(err).Msg("Raw ledger write failed, aborting day")
					return perrors.Wrapf(err, "stage %s", ref.Path)
				}
				appended[i] = len(fr.Rows)
				flog.Debug().Int("rows", len(fr.Rows)).Msg("Filing staged")
			}
			// Rows are in the ledger now
			fr.Rows = nil
			res.Results[i] = fr
			c.metrics.ObserveFiling(string(fr.Status))
			return nil
		})
	}

	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	for i, fr := range res.Results {
		if fr.Status != "" {
			res.Counts[fr.Status]++
		}
		res.RowsAppended += appended[i]
	}
	c.metrics.ObserveRawRows(res.RowsAppended)

	span.SetAttributes(
		attribute.Int("crawl.filings", res.Filings),
		attribute.Int("crawl.rows", res.RowsAppended),
	)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		log.Error().Err(err).Int("rows", res.RowsAppended).Msg("Crawl aborted")
		return res, err
	}

	log.Info().
		Int("filings", res.Filings).
		Int("parsed", res.Counts[edgar.StatusParsed]).
		Int("empty", res.Counts[edgar.StatusEmpty]).
		Int("no_ownership_document", res.Counts[edgar.StatusNoOwnershipDocument]).
		Int("fetch_failed", res.Counts[edgar.StatusFetchFailed]).
		Int("malformed", res.Counts[edgar.StatusMalformed]).
		Int("skipped", res.Counts[edgar.StatusSkipped]).
		Int("rows", res.RowsAppended).
		Msg("Crawl complete")

	return res, nil
}
