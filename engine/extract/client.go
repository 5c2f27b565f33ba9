// Package extract calls the external AI extraction service and normalizes
// its heterogeneous responses into the canonical parsed shape.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/carsgate/portal-engine/pkg/resilience"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"
)

const (
	// DefaultEndpoint is the production extraction webhook.
	DefaultEndpoint = "https://api.carsgate.co/webhook/v1/portal/ai"
	// DefaultTimeout bounds one extraction round trip.
	DefaultTimeout = 60 * time.Second

	requestSource  = "carsgate-portal"
	requestVersion = "2025-09-22"
	requestLocale  = "en-SA"
)

var (
	// ErrTimedOut marks a slow upstream so callers can distinguish it from a
	// genuine failure in the message they show.
	ErrTimedOut = errors.New("extraction timed out")
	// ErrBadResponse marks an unparseable upstream response.
	ErrBadResponse = errors.New("invalid response from extraction service")
)

// Request is the exact wire contract of the extraction service.
type Request struct {
	Source  string `json:"source"`
	URL     string `json:"url"`
	Raw     string `json:"raw"`
	Version string `json:"version"`
	Locale  string `json:"locale"`
}

// Client is the extraction service client. Cancellation is cooperative: the
// caller's context aborts the underlying request.
type Client struct {
	endpoint string
	timeout  time.Duration
	http     *http.Client
	limiter  *rate.Limiter
	breaker  *resilience.Breaker
	log      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint overrides the extraction endpoint.
func WithEndpoint(url string) Option { return func(c *Client) { c.endpoint = url } }

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option { return func(c *Client) { c.timeout = d } }

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// New creates an extraction client with rate limiting, a circuit breaker,
// and traced HTTP transport.
func New(log *slog.Logger, opts ...Option) *Client {
	if log == nil {
		log = slog.Default()
	}
	c := &Client{
		endpoint: DefaultEndpoint,
		timeout:  DefaultTimeout,
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(rate.Every(500*time.Millisecond), 3),
		breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
		log:     log,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Analyze sends raw content to the extraction service and returns the
// normalized parsed result. The round trip is bounded by the client timeout;
// ctx cancellation aborts it early. A context cancelled by the caller
// surfaces as context.Canceled, a timeout as ErrTimedOut.
func (c *Client) Analyze(ctx context.Context, listingURL, raw string) (json.RawMessage, error) {
	ctx, span := otel.Tracer("engine/extract").Start(ctx, "extract.analyze")
	defer span.End()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, c.mapErr(ctx, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body json.RawMessage
	err := c.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		body, err = c.post(ctx, Request{
			Source:  requestSource,
			URL:     listingURL,
			Raw:     raw,
			Version: requestVersion,
			Locale:  requestLocale,
		})
		return err
	})
	if err != nil {
		return nil, c.mapErr(ctx, err)
	}
	return body, nil
}

func (c *Client) post(ctx context.Context, req Request) (json.RawMessage, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}

	c.log.Info("extraction response",
		"status", resp.StatusCode,
		"bytes", len(body),
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("analyze failed (%d): %s", resp.StatusCode, truncate(string(body), 200))
	}
	if !json.Valid(body) {
		return nil, ErrBadResponse
	}
	return json.RawMessage(body), nil
}

// mapErr translates transport errors into the taxonomy the store expects:
// caller cancellation stays context.Canceled, the deadline becomes
// ErrTimedOut, everything else passes through.
func (c *Client) mapErr(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return context.Canceled
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrTimedOut, c.timeout)
	}
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
