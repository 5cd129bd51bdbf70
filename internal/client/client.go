// Package client talks to a docket server and implements reconcile.Remote.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/docket/internal/clock"
	"github.com/roach88/docket/internal/reconcile"
	"github.com/roach88/docket/internal/server"
	"github.com/roach88/docket/internal/stock"
	"github.com/roach88/docket/internal/store"
)

// DefaultTimeout bounds each non-streaming request.
const DefaultTimeout = 5 * time.Second

// DefaultReconnectDelay is the wait between change feed reconnects.
const DefaultReconnectDelay = 2 * time.Second

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Code    string
	Details string
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("server returned %d %s: %s", e.Status, e.Code, e.Details)
	}
	return fmt.Sprintf("server returned %d %s", e.Status, e.Code)
}

// Client is an HTTP Remote.
//
// Thread-safety: All methods are safe for concurrent use.
type Client struct {
	baseURL        *url.URL
	http           *http.Client
	stream         *http.Client
	timeout        time.Duration
	reconnectDelay time.Duration
	clock          clock.Clock
	logger         *slog.Logger
}

var _ reconcile.Remote = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client for both plain requests
// and the change feed.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
			c.stream = hc
		}
	}
}

// WithTimeout bounds each non-streaming request. Default: 5s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithReconnectDelay sets the wait between feed reconnects. Default: 2s.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.reconnectDelay = d
		}
	}
}

// WithClock sets the clock used for reconnect waits.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) {
		c.clock = clk
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a client for the server at baseURL, e.g.
// "http://localhost:8080".
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("parse server url: unsupported scheme %q", u.Scheme)
	}

	c := &Client{
		baseURL:        u,
		http:           http.DefaultClient,
		stream:         http.DefaultClient,
		timeout:        DefaultTimeout,
		reconnectDelay: DefaultReconnectDelay,
		clock:          clock.Real(),
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ReadCounters returns the shared sheet.
func (c *Client) ReadCounters(ctx context.Context) (stock.Counters, error) {
	sheet, err := c.ReadSheet(ctx)
	if err != nil {
		return nil, err
	}
	return sheet.Counters, nil
}

// ReadSheet returns the shared sheet with its revision and digest.
func (c *Client) ReadSheet(ctx context.Context) (store.Sheet, error) {
	var sheet store.Sheet
	if err := c.do(ctx, http.MethodGet, "/v1/counters", "", nil, &sheet); err != nil {
		return store.Sheet{}, fmt.Errorf("read counters: %w", err)
	}
	if sheet.Counters == nil {
		sheet.Counters = stock.Counters{}
	}
	return sheet, nil
}

// WriteCounters replaces the shared sheet.
func (c *Client) WriteCounters(ctx context.Context, counters stock.Counters, actorID string) error {
	body := server.WriteRequest{Counters: counters.Clone()}
	if err := c.do(ctx, http.MethodPut, "/v1/counters", actorID, body, nil); err != nil {
		return fmt.Errorf("write counters: %w", err)
	}
	return nil
}

// ResetCounters clears the shared sheet.
func (c *Client) ResetCounters(ctx context.Context, actorID string) error {
	if err := c.do(ctx, http.MethodPost, "/v1/counters/reset", actorID, nil, nil); err != nil {
		return fmt.Errorf("reset counters: %w", err)
	}
	return nil
}

// History returns up to limit recent changes, newest first.
func (c *Client) History(ctx context.Context, limit int) ([]store.HistoryEntry, error) {
	path := "/v1/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var entries []store.HistoryEntry
	if err := c.do(ctx, http.MethodGet, path, "", nil, &entries); err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	return entries, nil
}

func (c *Client) endpoint(path string) string {
	return c.baseURL.String() + path
}

// do sends one JSON request and decodes a JSON answer into out (if non-nil).
func (c *Client) do(ctx context.Context, method, path, actorID string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if actorID != "" {
		req.Header.Set(server.HeaderActorID, actorID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, Code: http.StatusText(resp.StatusCode)}
	var payload server.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&payload); err == nil && payload.Error != "" {
		apiErr.Code = payload.Error
		apiErr.Details = payload.Details
	}
	return apiErr
}
