package edgar

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"pulsereveal/internal/logging"
	"pulsereveal/internal/models"
)

const tracerName = "pulsereveal/edgar"

// IndexURL returns the daily form index location for day.
func IndexURL(baseURL string, day time.Time) string {
	quarter := (int(day.Month())-1)/3 + 1
	return fmt.Sprintf("%s/Archives/edgar/daily-index/%d/QTR%d/form.%s.idx",
		strings.TrimRight(baseURL, "/"), day.Year(), quarter, day.Format("20060102"))
}

// FetchIndex downloads the daily form index for day and returns its Form 4
// entries. A missing or unreachable index is logged and yields an empty
// list; the only error returned is context cancellation.
func (c *Client) FetchIndex(ctx context.Context, day time.Time) ([]models.FilingReference, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "edgar.fetch_index")
	defer span.End()

	url := IndexURL(c.baseURL, day)
	span.SetAttributes(attribute.String("edgar.url", url))
	log := logging.WithDate(c.logger, day)

	body, err := c.get(ctx, url, c.indexTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		span.SetStatus(codes.Error, err.Error())
		log.Warn().Err(err).Str("url", url).Msg("Daily index unavailable, no filings for this day")
		return nil, nil
	}

	refs, err := ParseIndex(bytes.NewReader(body))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		log.Warn().Err(err).Str("url", url).Msg("Failed to read daily index")
		return nil, nil
	}
	span.SetAttributes(attribute.Int("edgar.filings", len(refs)))

	// Politeness pause before the per-filing requests start
	if err := sleep(ctx, c.indexDelay); err != nil {
		return refs, err
	}

	return refs, nil
}

// ParseIndex extracts Form 4 entries from a daily form index. A line
// qualifies when its first field is exactly "4" and its last field ends
// in ".txt"; the last field is the filing path.
func ParseIndex(r io.Reader) ([]models.FilingReference, error) {
	var refs []models.FilingReference

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		if fields[0] != "4" {
			continue
		}
		path := fields[len(fields)-1]
		if !strings.HasSuffix(path, ".txt") {
			continue
		}

		ref := models.FilingReference{Path: path, FormType: fields[0]}
		// Form Type, Company Name (may contain spaces), CIK, Date Filed, File Name
		if len(fields) >= 5 {
			ref.CompanyName = strings.Join(fields[1:len(fields)-3], " ")
			ref.CIK = fields[len(fields)-3]
			ref.DateFiled = normalizeIndexDate(fields[len(fields)-2])
		}
		refs = append(refs, ref)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return refs, nil
}

// normalizeIndexDate converts YYYYMMDD to YYYY-MM-DD. Anything that does
// not parse as a date is dropped.
func normalizeIndexDate(s string) string {
	for _, layout := range []string{"20060102", models.DateLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(models.DateLayout)
		}
	}
	return ""
}
