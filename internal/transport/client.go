// Package transport sends JSON requests to an upstream service and folds every
// outcome into a Result.
package transport

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
)

// maxResponseBytes caps how much of an upstream body is read (4MB).
const maxResponseBytes = 4 << 20

var (
	// ErrNetworkUnavailable means the upstream could not be reached or did not
	// answer with JSON.
	ErrNetworkUnavailable = errors.New("upstream unavailable")
	// ErrEncodeRequest means the request body could not be serialized.
	ErrEncodeRequest = errors.New("encode request body")
)

// Result is the outcome of one call. Err is nil when the upstream answered
// with a JSON body, whatever its HTTP status.
type Result struct {
	Status int
	Body   json.RawMessage
	Err    error
}

// OK returns true if the upstream answered with JSON.
func (r Result) OK() bool {
	return r.Err == nil
}

// Unavailable returns true if the call failed at the network or parse level.
func (r Result) Unavailable() bool {
	return errors.Is(r.Err, ErrNetworkUnavailable)
}

// Decode unmarshals the body of a successful result into T.
func Decode[T any](r Result) (T, error) {
	var out T
	if r.Err != nil {
		return out, r.Err
	}
	if err := json.Unmarshal(r.Body, &out); err != nil {
		return out, fmt.Errorf("decode upstream payload: %w", err)
	}
	return out, nil
}

// IsFieldTypeError reports whether a Decode error came from a field whose JSON
// type did not match. encoding/json still fills every other field in that
// case, so the decoded value is usable.
func IsFieldTypeError(err error) bool {
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &typeErr)
}

// Client talks to one upstream base URL. It keeps no state between calls.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout bounds each call. Zero leaves only the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a client for baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured upstream base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Send issues method against path. A non-nil body is sent as JSON.
func (c *Client) Send(ctx context.Context, method, path string, body any) Result {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return Result{Err: fmt.Errorf("%w: %w", ErrEncodeRequest, err)}
		}
		reader = bytes.NewReader(payload)
	}

	endpoint := c.resolve(path)
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return Result{Err: fmt.Errorf("%w: build request: %w", ErrNetworkUnavailable, err)}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("upstream request failed", "method", method, "url", endpoint, "error", err)
		return Result{Err: fmt.Errorf("%w: %w", ErrNetworkUnavailable, err)}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close upstream body", "url", endpoint, "error", closeErr)
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{Status: resp.StatusCode, Err: fmt.Errorf("%w: read body: %w", ErrNetworkUnavailable, err)}
	}
	if !json.Valid(raw) {
		c.logger.Debug("upstream returned non-JSON body", "url", endpoint, "status", resp.StatusCode, "bytes", len(raw))
		return Result{Status: resp.StatusCode, Err: fmt.Errorf("%w: response from %s is not JSON", ErrNetworkUnavailable, endpoint)}
	}

	c.logger.Debug("upstream responded", "method", method, "url", endpoint, "status", resp.StatusCode)
	return Result{Status: resp.StatusCode, Body: json.RawMessage(raw)}
}

func (c *Client) resolve(path string) string {
	if path == "" {
		return c.baseURL
	}
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}
