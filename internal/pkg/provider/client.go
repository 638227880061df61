// Package provider is the HTTP client shared by the provider transports.
//
// Every call goes through a circuit breaker. 5xx and 429 responses count as
// breaker failures; other 4xx responses do not, since they describe the
// request rather than the provider's health. Retries are not done here: the
// caller's retry executor owns them.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bissquit/courier/internal/pkg/ctxlog"
	"github.com/sony/gobreaker/v2"
)

const (
	defaultTimeout  = 10 * time.Second
	maxErrorBody    = 4 << 10
	maxResponseBody = 1 << 20
)

// StatusError is a non-2xx provider response. An open breaker is reported as 503.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// HTTPStatus returns the response status code.
func (e *StatusError) HTTPStatus() int { return e.StatusCode }

func (e *StatusError) Unwrap() error { return e.Err }

// BreakerConfig configures the circuit breaker.
type BreakerConfig struct {
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before a probe.
	OpenTimeout time.Duration
	// Interval clears the failure counts while closed. Zero never clears them.
	Interval time.Duration
}

// DefaultBreakerConfig returns the default breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		Interval:            60 * time.Second,
	}
}

// Config contains provider client configuration.
type Config struct {
	Name    string
	BaseURL string
	Timeout time.Duration
	Breaker BreakerConfig
}

// Client calls one provider API.
type Client struct {
	name       string
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*http.Response]
	authorize  func(req *http.Request)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithBearerToken sets the Authorization header to "Bearer token".
func WithBearerToken(token string) Option {
	return func(cl *Client) {
		cl.authorize = func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithBasicAuth sets HTTP basic authentication.
func WithBasicAuth(username, password string) Option {
	return func(cl *Client) {
		cl.authorize = func(req *http.Request) {
			req.SetBasicAuth(username, password)
		}
	}
}

// NewClient creates a new provider client.
func NewClient(config Config, opts ...Option) *Client {
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.Breaker.ConsecutiveFailures == 0 {
		config.Breaker = DefaultBreakerConfig()
	}

	c := &Client{
		name:       config.Name,
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: &http.Client{Timeout: config.Timeout},
		authorize:  func(*http.Request) {},
	}
	for _, opt := range opts {
		opt(c)
	}

	threshold := config.Breaker.ConsecutiveFailures
	c.breaker = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: 1,
		Interval:    config.Breaker.Interval,
		Timeout:     config.Breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			recordBreakerState(name, from, to)
		},
	})

	return c
}

// Name returns the provider name used in errors and metrics.
func (c *Client) Name() string { return c.name }

// PostJSON sends body as JSON to path and decodes a 2xx response into out.
// A 2xx whose body does not decode still succeeds and leaves out untouched.
func (c *Client) PostJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.post(ctx, path, "application/json", payload, out)
}

// PostForm sends form as application/x-www-form-urlencoded to path and
// decodes a 2xx response into out.
func (c *Client) PostForm(ctx context.Context, path string, form url.Values, out any) error {
	return c.post(ctx, path, "application/x-www-form-urlencoded", []byte(form.Encode()), out)
}

func (c *Client) post(ctx context.Context, path, contentType string, payload []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	// the provider has accepted the message; an unreadable body only loses its id
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(out); err != nil {
		ctxlog.FromContext(ctx).Warn("provider accepted request with unreadable body",
			"provider", c.name,
			"status", resp.StatusCode,
			"error", err,
		)
	}
	return nil
}

// do executes req through the breaker. A non-2xx response is returned as
// *StatusError with the body closed.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		r, doErr := c.httpClient.Do(req)
		if doErr != nil {
			return nil, doErr
		}
		if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
			return r, c.statusError(r)
		}
		return r, nil
	})
	recordRequest(c.name, resp, err, time.Since(start))

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &StatusError{
				Provider:   c.name,
				StatusCode: http.StatusServiceUnavailable,
				Body:       "circuit breaker is open",
				Err:        err,
			}
		}
		// the statusError already drained and closed the body
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.statusError(resp)
	}
	return resp, nil
}

func (c *Client) statusError(resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
	return &StatusError{
		Provider:   c.name,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}
