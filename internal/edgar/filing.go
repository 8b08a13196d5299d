package edgar

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	perrors "pulsereveal/internal/errors"
	"pulsereveal/internal/logging"
	"pulsereveal/internal/models"
	"pulsereveal/internal/resilience"
)

// FilingStatus is the outcome of processing one filing.
type FilingStatus string

const (
	StatusParsed              FilingStatus = "parsed"
	StatusEmpty               FilingStatus = "empty"
	StatusNoOwnershipDocument FilingStatus = "no_ownership_document"
	StatusFetchFailed         FilingStatus = "fetch_failed"
	StatusMalformed           FilingStatus = "malformed"
	StatusSkipped             FilingStatus = "skipped"
)

// FilingResult is the per-filing outcome. Rows is non-empty only for
// StatusParsed; Err is set for fetch failures, malformed documents and skips.
type FilingResult struct {
	Ref    models.FilingReference
	Status FilingStatus
	Rows   []models.RawTransaction
	Err    error
}

// FilingURL returns the archive location of a filing path.
func FilingURL(baseURL, path string) string {
	return baseURL + "/Archives/" + path
}

// FetchFiling downloads and parses one filing. It never returns partial
// rows and never panics; every failure is reported in the result.
func (c *Client) FetchFiling(ctx context.Context, ref models.FilingReference) FilingResult {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "edgar.fetch_filing")
	defer span.End()
	span.SetAttributes(attribute.String("edgar.filing", ref.Path))

	log := logging.WithFiling(c.logger, ref.Path)

	body, err := c.get(ctx, FilingURL(c.baseURL, ref.Path), c.filingTimeout)
	if err != nil {
		status := StatusFetchFailed
		if errors.Is(err, resilience.ErrCircuitOpen) {
			status = StatusSkipped
		}
		span.SetStatus(codes.Error, err.Error())
		log.Warn().Err(err).Str("status", string(status)).Msg("Filing not retrieved")
		return FilingResult{Ref: ref, Status: status, Err: perrors.NewFilingError(ref.Path, "fetch", err)}
	}

	res := ParseFiling(ref, body)
	span.SetAttributes(attribute.String("edgar.status", string(res.Status)), attribute.Int("edgar.rows", len(res.Rows)))
	switch res.Status {
	case StatusMalformed:
		span.SetStatus(codes.Error, res.Err.Error())
		log.Warn().Err(res.Err).Msg("Malformed filing skipped")
	case StatusNoOwnershipDocument:
		log.Debug().Msg("No ownership document in filing")
	}
	return res
}

// ParseFiling turns a downloaded filing into a result. Any panic inside the
// decoder is recovered and reported as StatusMalformed.
func ParseFiling(ref models.FilingReference, body []byte) (res FilingResult) {
	res.Ref = ref

	defer func() {
		if r := recover(); r != nil {
			res.Status = StatusMalformed
			res.Rows = nil
			res.Err = perrors.NewFilingError(ref.Path, "parse", fmt.Errorf("%w: panic: %v", perrors.ErrMalformedFiling, r))
		}
	}()

	doc, ok := ExtractOwnershipXML(body)
	if !ok {
		res.Status = StatusNoOwnershipDocument
		res.Err = perrors.NewFilingError(ref.Path, "extract", perrors.ErrNoOwnershipDocument)
		return res
	}

	rows, err := ParseOwnershipDocument(doc)
	if err != nil {
		res.Status = StatusMalformed
		res.Err = perrors.NewFilingError(ref.Path, "parse", err)
		return res
	}
	if len(rows) == 0 {
		res.Status = StatusEmpty
		return res
	}

	var filingDate *string
	if ref.DateFiled != "" {
		d := ref.DateFiled
		filingDate = &d
	}
	for i := range rows {
		rows[i].FilingPath = ref.Path
		rows[i].FilingSeq = i
		rows[i].FilingDate = filingDate
	}

	res.Status = StatusParsed
	res.Rows = rows
	return res
}
