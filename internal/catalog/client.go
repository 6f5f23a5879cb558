// onixmirror - ONIX Catalog Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/onixmirror

// Package catalog is the HTTP client of the remote ONIX catalog API.
//
// Every call goes through a retry loop with doubling delay for transport
// failures. Each attempt waits on a rate limiter and runs through a circuit
// breaker shared by all operations. A rejection by the open breaker is not an
// attempt: the call waits for the breaker to go half-open.
// Responses are parsed once and returned as a Document; an <error> element
// in the response becomes a *ContentError and is never retried.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/onixmirror/internal/config"
	"github.com/tomtom215/onixmirror/internal/logging"
	"github.com/tomtom215/onixmirror/internal/metrics"
	"github.com/tomtom215/onixmirror/internal/onix"
)

// Response namespaces of the catalog operations.
const (
	NSRecords = "http://www.dilve.es/dilve/api/xsd/getRecordsXResponse"
	NSStatus  = "http://www.dilve.es/dilve/api/xsd/getRecordStatusXResponse"
	NSList    = "http://www.dilve.es/dilve/api/xsd/getRecordListXResponse"
	NSONIX    = "http://ns.editeur.org/onix/3.0/reference"
)

// Operation names, used in errors, logs and metric labels.
const (
	OpRecord = "record"
	OpStatus = "status"
	OpList   = "list"
)

// StatusDateFormat is the fromDate format of the status operation.
const StatusDateFormat = "2006-01-02T15:04:05Z"

// minBreakerWait is the pause after a half-open breaker turns a request away.
const minBreakerWait = 10 * time.Millisecond

// maxErrorBodySize bounds how much of a failed response is kept for the error.
const maxErrorBodySize = 1024

// Document is a parsed catalog response.
type Document struct {
	Raw  []byte
	Root *onix.Node
}

// Client talks to the catalog API. It is safe for concurrent use.
type Client struct {
	baseURL    string
	user       string
	password   string
	client     *http.Client
	maxRetries int
	retryDelay time.Duration
	limiter    *rate.Limiter
	cb         *gobreaker.CircuitBreaker[*Document]

	breakerTimeout time.Duration
	openedAt       atomic.Int64 // unix nanos of the last transition to open
}

// NewClient creates a client from cfg.
func NewClient(cfg *config.APIConfig) *Client {
	maxRetries := cfg.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	breakerTimeout := cfg.BreakerTimeout
	if breakerTimeout <= 0 {
		breakerTimeout = DefaultBreakerTimeout
	}

	c := &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		user:           cfg.User,
		password:       cfg.Password,
		client:         &http.Client{Timeout: cfg.Timeout},
		maxRetries:     maxRetries,
		retryDelay:     cfg.RetryDelay,
		limiter:        limiter,
		breakerTimeout: breakerTimeout,
	}
	c.cb = newCircuitBreaker(BreakerName, breakerTimeout, func() {
		c.openedAt.Store(time.Now().UnixNano())
	})
	return c
}

// FetchRecord retrieves the ONIX 3.0 record of identifier.
func (c *Client) FetchRecord(ctx context.Context, identifier string) (*Document, error) {
	params := url.Values{}
	params.Set("identifier", identifier)
	params.Set("metadataformat", "ONIX")
	params.Set("version", "3.0")
	return c.call(ctx, OpRecord, "getRecordsX.do", params, NSRecords)
}

// FetchStatus retrieves the identifiers created, changed or deleted since from.
func (c *Client) FetchStatus(ctx context.Context, from time.Time) (*Document, error) {
	params := url.Values{}
	params.Set("fromDate", from.UTC().Format(StatusDateFormat))
	params.Set("type", "A")
	params.Set("detail", "N")
	return c.call(ctx, OpStatus, "getRecordStatusX.do", params, NSStatus)
}

// FetchList retrieves the identifier list published under program.
func (c *Client) FetchList(ctx context.Context, program string) (*Document, error) {
	params := url.Values{}
	params.Set("type", "L")
	params.Set("program", program)
	return c.call(ctx, OpList, "getRecordListX.do", params, NSList)
}

func (c *Client) call(ctx context.Context, op, endpoint string, params url.Values, namespace string) (*Document, error) {
	start := time.Now()
	defer func() { metrics.RecordFetch(op, time.Since(start)) }()
	return c.fetchWithRetry(ctx, op, endpoint, params, namespace)
}

// fetchWithRetry makes up to maxRetries attempts. Only transport errors are
// retried; the delay doubles after every failed attempt. Breaker rejections
// do not use up an attempt.
func (c *Client) fetchWithRetry(ctx context.Context, op, endpoint string, params url.Values, namespace string) (*Document, error) {
	reqURL := c.buildURL(endpoint, params)
	delay := c.retryDelay
	logger := logging.Ctx(ctx)

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		doc, err := c.cb.Execute(func() (*Document, error) {
			return c.attempt(ctx, op, reqURL, namespace)
		})
		switch {
		case err == nil:
			return doc, nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			metrics.RecordFetchAttempt(op, "circuit_open")
			if werr := c.waitForBreaker(ctx, err); werr != nil {
				return nil, werr
			}
			continue
		case IsContentError(err):
			return nil, err
		case ctx.Err() != nil:
			return nil, ctx.Err()
		}

		metrics.RecordFetchAttempt(op, "transport")
		lastErr = err

		logger.Warn().
			Err(err).
			Str("operation", op).
			Int("attempt", attempt).
			Int("max_attempts", c.maxRetries).
			Msg("Catalog request failed")

		if attempt < c.maxRetries {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay *= 2
		}
		attempt++
	}
	return nil, lastErr
}

// attempt performs one request and parses the response.
func (c *Client) attempt(ctx context.Context, op, reqURL, namespace string) (*Document, error) {
	body, err := c.get(ctx, op, reqURL)
	if err != nil {
		return nil, err
	}
	doc, err := parseResponse(op, body, namespace)
	if err != nil {
		metrics.RecordFetchAttempt(op, "content")
		return nil, err
	}
	metrics.RecordFetchAttempt(op, "ok")
	return doc, nil
}

// waitForBreaker blocks until the open breaker is due to go half-open, or
// briefly when a half-open breaker is already at its trial request limit.
func (c *Client) waitForBreaker(ctx context.Context, rejection error) error {
	wait := minBreakerWait
	if errors.Is(rejection, gobreaker.ErrOpenState) {
		if opened := c.openedAt.Load(); opened != 0 {
			if remaining := time.Until(time.Unix(0, opened).Add(c.breakerTimeout)); remaining > wait {
				wait = remaining
			}
		}
	}

	logging.Ctx(ctx).Debug().Dur("wait", wait).Msg("Circuit breaker open, waiting")
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// buildURL never ends up in logs: it carries the credentials.
func (c *Client) buildURL(endpoint string, params url.Values) string {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("user", c.user)
	q.Set("password", c.password)
	return fmt.Sprintf("%s/%s?%s", c.baseURL, endpoint, q.Encode())
}

func (c *Client) get(ctx context.Context, op, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "application/xml, text/xml")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: scrubURL(err)}
	}
	defer closeQuietly(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected response: %s", readBodyForError(resp.Body)),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	return body, nil
}

// scrubURL drops the request URL from *url.Error so credentials stay out of errors.
func scrubURL(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return fmt.Errorf("%s request: %w", uerr.Op, uerr.Err)
	}
	return err
}

func readBodyForError(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return "(failed to read response body)"
	}
	s := strings.TrimSpace(string(body))
	if len(body) == maxErrorBodySize {
		s += " ... (truncated)"
	}
	return s
}

func closeQuietly(c io.Closer) {
	_ = c.Close() //nolint:errcheck // body already consumed
}
