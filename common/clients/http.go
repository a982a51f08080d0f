package clients

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Logger interface for HTTP client logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Gate validates a URL before any byte is sent to it
type Gate interface {
	Validate(ctx context.Context, rawURL string) error
}

// ErrTooManyRedirects is returned when a redirect chain exceeds the cap
var ErrTooManyRedirects = errors.New("too many redirects")

// FetchError describes a failed remote fetch
type FetchError struct {
	URL        string
	Message    string
	StatusCode int
	Cause      error
}

func (e *FetchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Message)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

// Page is a fetched document
type Page struct {
	URL         string // final URL after redirects
	ContentType string
	Body        []byte
}

// HTTPClient is the outbound client for third-party hosts. Every request and
// every redirect hop passes the gate first; a browser-like User-Agent and any
// per-host Referer/Origin rule are applied.
type HTTPClient struct {
	client *http.Client
	gate   Gate
	cfg    ClientConfig
	logger Logger
}

// NewHTTPClient creates a gated HTTP client
func NewHTTPClient(cfg ClientConfig, gate Gate, logger Logger) *HTTPClient {
	c := &HTTPClient{gate: gate, cfg: cfg, logger: logger}
	c.client = &http.Client{
		Transport:     cfg.Transport,
		CheckRedirect: c.checkRedirect,
	}
	return c
}

// WithMaxRedirects returns a client sharing the transport but capping
// redirect chains at n hops
func (c *HTTPClient) WithMaxRedirects(n int) *HTTPClient {
	cfg := c.cfg
	cfg.MaxRedirects = n
	return NewHTTPClient(cfg, c.gate, c.logger)
}

// Config returns the client's configuration
func (c *HTTPClient) Config() ClientConfig {
	return c.cfg
}

func (c *HTTPClient) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) > c.cfg.MaxRedirects {
		return fmt.Errorf("%w: more than %d", ErrTooManyRedirects, c.cfg.MaxRedirects)
	}
	if err := c.gate.Validate(req.Context(), req.URL.String()); err != nil {
		c.logger.Warn("redirect blocked", "from", via[len(via)-1].URL.String(), "to", req.URL.String(), "error", err)
		return err
	}
	c.decorate(req)
	return nil
}

func (c *HTTPClient) decorate(req *http.Request) {
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "*/*")
	}
	c.cfg.HeaderRules.Apply(req)
}

// DoRequest validates the target, then creates and executes the request.
// The caller owns the response body.
func (c *HTTPClient) DoRequest(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	if err := c.gate.Validate(ctx, url); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, &FetchError{URL: url, Message: "build request", Cause: err}
	}
	c.decorate(req)

	resp, err := c.client.Do(req)
	if err != nil {
		var urlErr interface{ Unwrap() error }
		if errors.As(err, &urlErr) {
			if inner := urlErr.Unwrap(); inner != nil {
				err = inner
			}
		}
		return nil, &FetchError{URL: url, Message: "request failed", Cause: err}
	}
	return resp, nil
}

// GetPage fetches url with the configured timeout and reads at most
// MaxPageBytes of the body. Non-2xx responses are errors.
func (c *HTTPClient) GetPage(ctx context.Context, url string) (*Page, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	resp, err := c.DoRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}

	limit := c.cfg.MaxPageBytes
	if limit <= 0 {
		limit = 10 << 20
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, &FetchError{URL: url, Message: "read body", Cause: err}
	}

	c.logger.Debug("page fetched", "url", url, "final_url", resp.Request.URL.String(), "bytes", len(body))
	return &Page{
		URL:         resp.Request.URL.String(),
		ContentType: strings.ToLower(resp.Header.Get("Content-Type")),
		Body:        body,
	}, nil
}
