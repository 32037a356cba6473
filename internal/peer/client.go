// Package peer holds the borrow coordinator's HTTP clients for the users and
// books directories. Every call is a single request: no retries.
package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rfichi/borrowed-book-api/internal/domain"
	"github.com/rfichi/borrowed-book-api/internal/observability/metrics"
	"github.com/rfichi/borrowed-book-api/internal/observability/tracing"
	"github.com/rfichi/borrowed-book-api/internal/reliability/circuitbreaker"
	"github.com/rfichi/borrowed-book-api/internal/security/middleware"
)

// Config describes how to reach one peer directory
type Config struct {
	BaseURL          string
	APIKey           string
	Timeout          time.Duration
	FailureThreshold int32
	SuccessThreshold int32
	OpenTimeout      time.Duration
	// Transport defaults to an otelhttp-instrumented http.DefaultTransport.
	Transport http.RoundTripper
}

type client struct {
	service string
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *slog.Logger
}

func newClient(service string, cfg Config, logger *slog.Logger) *client {
	transport := cfg.Transport
	if transport == nil {
		transport = tracing.Transport(http.DefaultTransport)
	}
	failures := cfg.FailureThreshold
	if failures <= 0 {
		failures = 5
	}
	successes := cfg.SuccessThreshold
	if successes <= 0 {
		successes = 1
	}
	openTimeout := cfg.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}

	breaker := circuitbreaker.NewCircuitBreaker(service, failures, successes, openTimeout)
	breaker.SetStateChangeCallback(func(from, to circuitbreaker.State) {
		logger.Warn("circuit breaker state changed",
			slog.String("peer", service),
			slog.String("from", from.String()),
			slog.String("to", to.String()),
		)
		metrics.SetBreakerState(service, int(to))
	})
	metrics.SetBreakerState(service, int(circuitbreaker.StateClosed))

	return &client{
		service: service,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout, Transport: transport},
		breaker: breaker,
		logger:  logger,
	}
}

// call is one peer request
type call struct {
	op     string
	method string
	path   string
	body   any
	out    any
	// byStatus maps expected non-2xx statuses to call-site errors.
	byStatus map[int]error
}

// do performs c and maps the outcome: 2xx decodes into out, statuses listed in
// byStatus return their error, any other status is an *domain.UpstreamError,
// and transport failures or an open breaker are ErrUpstreamUnavailable.
func (c *client) do(ctx context.Context, cl call) error {
	start := time.Now()
	err := c.breaker.Execute(func() error {
		return c.roundTrip(ctx, cl)
	}, countsAgainstPeer)

	result := "ok"
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		result = "breaker_open"
		err = fmt.Errorf("%s service: %w", c.service, domain.ErrUpstreamUnavailable)
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		result = "unavailable"
	case errors.Is(err, domain.ErrUpstreamError):
		result = "upstream_error"
	case err != nil:
		result = "rejected"
	}
	metrics.ObserveUpstream(c.service, cl.op, result, time.Since(start))

	if err != nil && result != "rejected" {
		c.logger.Warn("peer call failed",
			slog.String("peer", c.service),
			slog.String("operation", cl.op),
			slog.String("result", result),
			slog.String("error", err.Error()),
		)
	}
	return err
}

func (c *client) roundTrip(ctx context.Context, cl call) error {
	var body io.Reader
	if cl.body != nil {
		raw, err := json.Marshal(cl.body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", cl.op, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, c.baseURL+cl.path, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", cl.op, err)
	}
	req.Header.Set(middleware.InternalAPIKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := middleware.GetRequestID(ctx); id != "" {
		req.Header.Set(middleware.RequestIDHeader, id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s service %s: %v: %w", c.service, cl.op, err, domain.ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if cl.out == nil {
			io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(cl.out); err != nil {
			return &domain.UpstreamError{Service: c.service, StatusCode: resp.StatusCode, Detail: "malformed response body"}
		}
		return nil
	}

	if mapped, ok := cl.byStatus[resp.StatusCode]; ok {
		io.Copy(io.Discard, resp.Body)
		return mapped
	}
	return &domain.UpstreamError{Service: c.service, StatusCode: resp.StatusCode, Detail: readDetail(resp.Body)}
}

// countsAgainstPeer trips the breaker on transport failures and 5xx answers only
func countsAgainstPeer(err error) bool {
	if errors.Is(err, domain.ErrUpstreamUnavailable) {
		return true
	}
	var upErr *domain.UpstreamError
	return errors.As(err, &upErr) && upErr.StatusCode >= 500
}

func readDetail(r io.Reader) string {
	var body struct {
		Detail any `json:"detail"`
	}
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	if json.Unmarshal(raw, &body) == nil && body.Detail != nil {
		if s, ok := body.Detail.(string); ok {
			return s
		}
	}
	return ""
}
