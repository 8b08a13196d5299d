// Package edgar fetches SEC daily form indexes and Form 4 filings and
// extracts insider transactions from their ownership documents.
package edgar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"pulsereveal/internal/config"
	perrors "pulsereveal/internal/errors"
	"pulsereveal/internal/logging"
	"pulsereveal/internal/resilience"
)

// DefaultUserAgent is sent when no User-Agent is configured.
const DefaultUserAgent = "pulsereveal/1.0 (set edgar.user_agent or SEC_USER_AGENT)"

// maxDocumentSize bounds a single response body.
const maxDocumentSize = 64 << 20

// Options configures a Client.
type Options struct {
	BaseURL         string
	UserAgent       string
	IndexTimeout    time.Duration
	FilingTimeout   time.Duration
	IndexDelay      time.Duration
	RequestDelay    time.Duration
	BreakerFailures int
	HTTPClient      *http.Client
	Logger          zerolog.Logger
}

// OptionsFromConfig builds client options from the [edgar] section.
func OptionsFromConfig(cfg config.EdgarConfig, logger zerolog.Logger) Options {
	return Options{
		BaseURL:         cfg.BaseURL,
		UserAgent:       cfg.UserAgent,
		IndexTimeout:    cfg.IndexTimeout,
		FilingTimeout:   cfg.FilingTimeout,
		IndexDelay:      cfg.IndexDelay,
		RequestDelay:    cfg.RequestDelay,
		BreakerFailures: cfg.BreakerFailures,
		Logger:          logger,
	}
}

// Client talks to EDGAR. All requests share one rate limiter, so the
// request rate stays under the configured ceiling at any concurrency.
type Client struct {
	http          *http.Client
	baseURL       string
	userAgent     string
	indexTimeout  time.Duration
	filingTimeout time.Duration
	indexDelay    time.Duration
	limiter       *rate.Limiter
	breaker       *resilience.CircuitBreaker
	logger        zerolog.Logger
}

// NewClient creates a new EDGAR client.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		opts.Logger.Warn().Msg("No SEC User-Agent configured, EDGAR may reject requests")
		userAgent = DefaultUserAgent
	}

	limit := rate.Inf
	if opts.RequestDelay > 0 {
		limit = rate.Every(opts.RequestDelay)
	}

	indexTimeout := opts.IndexTimeout
	if indexTimeout <= 0 {
		indexTimeout = 30 * time.Second
	}
	filingTimeout := opts.FilingTimeout
	if filingTimeout <= 0 {
		filingTimeout = 20 * time.Second
	}

	return &Client{
		http:          httpClient,
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		userAgent:     userAgent,
		indexTimeout:  indexTimeout,
		filingTimeout: filingTimeout,
		indexDelay:    opts.IndexDelay,
		limiter:       rate.NewLimiter(limit, 1),
		breaker: resilience.NewCircuitBreaker("edgar", resilience.CircuitBreakerConfig{
			FailureThreshold: opts.BreakerFailures,
			IsFailure:        isTransportFailure,
		}),
		logger: opts.Logger,
	}
}

// ResetBreaker closes the circuit. Called at the start of each day.
func (c *Client) ResetBreaker() {
	c.breaker.Reset()
}

// BreakerOpen reports whether remaining requests are being skipped.
func (c *Client) BreakerOpen() bool {
	return c.breaker.State() == resilience.CircuitOpen
}

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d", e.URL, e.Code)
}

func (e *StatusError) Unwrap() error {
	return perrors.ErrFetchFailed
}

// isTransportFailure decides which errors trip the breaker: network
// failures, timeouts, throttling and server errors. A missing document
// does not.
func isTransportFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code == http.StatusForbidden || se.Code >= 500
	}
	return true
}

// get performs one rate-limited GET with its own timeout. Never retried.
func (c *Client) get(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	return resilience.ExecuteWithResult(ctx, c.breaker, func(ctx context.Context) ([]byte, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Accept", "text/plain, text/html, application/xml, */*")

		start := time.Now()
		resp, err := c.http.Do(req)
		if err != nil {
			logging.LogHTTPCall(c.logger, http.MethodGet, url, 0, time.Since(start), err)
			return nil, fmt.Errorf("%w: %w", perrors.ErrFetchFailed, err)
		}
		defer resp.Body.Close()

		logging.LogHTTPCall(c.logger, http.MethodGet, url, resp.StatusCode, time.Since(start), nil)

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
			return nil, &StatusError{URL: url, Code: resp.StatusCode}
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
		if err != nil {
			return nil, fmt.Errorf("%w: reading body: %w", perrors.ErrFetchFailed, err)
		}
		return body, nil
	})
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
