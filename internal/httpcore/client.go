// Package httpcore is the authenticated HTTP layer under the archive
// repository. It owns the retry ladder, the 401 refresh gate, and streaming
// transfers. Every other package goes through it; nothing above it retries.
package httpcore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultTimeout applies to plain JSON calls.
	DefaultTimeout = 30 * time.Second
	// UploadTimeout is 2x the default.
	UploadTimeout = 2 * DefaultTimeout
	// DownloadTimeout is 3x the default.
	DownloadTimeout = 3 * DefaultTimeout

	maxAttempts = 3
	backoffBase = 1 * time.Second
)

// RefreshFunc exchanges the current session for a fresh token. It is called
// at most once per 401 burst.
type RefreshFunc func(ctx context.Context) (token string, err error)

// LogoutFunc is invoked when authentication is unrecoverable.
type LogoutFunc func(reason string)

// Client is a REST client with bearer auth, bounded retries and a
// re-entrancy-safe token refresh. Safe for concurrent use.
type Client struct {
	base string
	hc   *http.Client

	mu    sync.RWMutex
	token string

	refreshGate chan struct{}
	refresh     RefreshFunc
	logout      LogoutFunc
	logoutOnce  sync.Once

	sleep func(time.Duration)
}

// Option configures a Client at creation time.
type Option func(*Client)

// WithToken sets the initial bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithRefresh registers the token refresh callback.
func WithRefresh(fn RefreshFunc) Option {
	return func(c *Client) { c.refresh = fn }
}

// WithLogout registers the forced-logout callback.
func WithLogout(fn LogoutFunc) Option {
	return func(c *Client) { c.logout = fn }
}

// WithHTTPClient replaces the underlying transport, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// New creates a client for the given base URL.
func New(base string, opts ...Option) *Client {
	c := &Client{
		base:        strings.TrimRight(base, "/"),
		hc:          &http.Client{},
		refreshGate: make(chan struct{}, 1),
		sleep:       time.Sleep,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetToken replaces the bearer token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// envelope is the server's uniform response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Details map[string]any  `json:"details"`
}

// request describes one logical call. The body must be replayable: it is a
// byte slice, never a live reader, so retries and the 401 replay can resend
// it unchanged.
type request struct {
	method      string
	path        string
	query       url.Values
	body        []byte
	contentType string
	timeout     time.Duration
	idempotent  bool
}

// Get performs a GET and decodes the envelope data into out (out may be nil).
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.doJSON(ctx, request{method: http.MethodGet, path: path, query: query, timeout: DefaultTimeout, idempotent: true}, out)
}

// PostJSON performs a POST with a JSON body. POSTs are not retried on
// transport errors unless the caller marks them idempotent via PostJSONIdem.
func (c *Client) PostJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return c.doJSON(ctx, request{method: http.MethodPost, path: path, body: body, contentType: "application/json", timeout: DefaultTimeout}, out)
}

// PostJSONIdem is PostJSON with the retry ladder enabled. Used for bulk
// operations the server treats as idempotent.
func (c *Client) PostJSONIdem(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return c.doJSON(ctx, request{method: http.MethodPost, path: path, body: body, contentType: "application/json", timeout: DefaultTimeout, idempotent: true}, out)
}

// Put performs a PUT with a JSON body.
func (c *Client) Put(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return c.doJSON(ctx, request{method: http.MethodPut, path: path, body: body, contentType: "application/json", timeout: DefaultTimeout, idempotent: true}, out)
}

// Delete performs a DELETE.
func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, request{method: http.MethodDelete, path: path, timeout: DefaultTimeout, idempotent: true}, out)
}

// Check performs a GET and reports reachability plus auth validity. A 2xx
// yields (true, nil); a clean 401 yields (false, nil); transport failures
// are returned as errors.
func (c *Client) Check(ctx context.Context, path string) (bool, error) {
	err := c.doJSON(ctx, request{method: http.MethodGet, path: path, timeout: DefaultTimeout, idempotent: true}, nil)
	if err == nil {
		return true, nil
	}
	if IsStatus(err, http.StatusUnauthorized) {
		return false, nil
	}
	return false, err
}

// doJSON runs the request through the retry and refresh ladders and decodes
// the envelope data into out.
func (c *Client) doJSON(ctx context.Context, req request, out any) error {
	status, body, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	return decodeEnvelope(status, body, out)
}

func decodeEnvelope(status int, body []byte, out any) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if status >= 400 {
			return &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
		}
		return fmt.Errorf("decode response: %w", err)
	}
	if status >= 400 || !env.Success {
		return &APIError{StatusCode: status, Message: env.Error, Details: env.Details}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

// do executes the attempt loop: transport retries for idempotent requests,
// then the single 401 refresh-and-replay.
func (c *Client) do(ctx context.Context, req request) (int, []byte, error) {
	status, body, err := c.attemptLoop(ctx, req)
	if err != nil {
		return 0, nil, err
	}
	if status != http.StatusUnauthorized {
		return status, body, nil
	}

	// First 401: one refresh, one replay. A second 401 is final.
	if rerr := c.tryRefresh(ctx); rerr != nil {
		if rerr == ErrRefreshInFlight {
			return status, body, nil
		}
		c.forceLogout(fmt.Sprintf("token refresh failed: %v", rerr))
		return status, body, nil
	}
	status, body, err = c.attemptLoop(ctx, req)
	if err != nil {
		return 0, nil, err
	}
	if status == http.StatusUnauthorized {
		c.forceLogout("session rejected after token refresh")
	}
	return status, body, nil
}

// attemptLoop sends the request up to maxAttempts times with exponential
// backoff on retryable failures. Non-idempotent requests get one attempt.
func (c *Client) attemptLoop(ctx context.Context, req request) (int, []byte, error) {
	attempts := maxAttempts
	if !req.idempotent {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			c.sleep(backoffBase << (attempt - 2))
		}
		status, body, err := c.send(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return 0, nil, ctx.Err()
			}
			lastErr = err
			continue
		}
		if retryableStatus(status) && attempt < attempts {
			lastErr = &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
			continue
		}
		return status, body, nil
	}
	return 0, nil, fmt.Errorf("request failed after %d attempts: %w", attempts, lastErr)
}

func (c *Client) send(ctx context.Context, req request) (int, []byte, error) {
	timeout := req.timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var rd io.Reader
	if req.body != nil {
		rd = bytes.NewReader(req.body)
	}
	hr, err := http.NewRequestWithContext(ctx, req.method, c.url(req.path, req.query), rd)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	c.setHeaders(hr, req.contentType)

	resp, err := c.hc.Do(hr)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", req.method, req.path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func (c *Client) url(path string, query url.Values) string {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) setHeaders(hr *http.Request, contentType string) {
	hr.Header.Set("Accept", "application/json")
	if contentType != "" {
		hr.Header.Set("Content-Type", contentType)
	}
	if tok := c.Token(); tok != "" {
		hr.Header.Set("Authorization", "Bearer "+tok)
	}
}

// retryableStatus reports whether the status belongs to the transient set.
func retryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (c *Client) forceLogout(reason string) {
	if c.logout == nil {
		return
	}
	c.logoutOnce.Do(func() { c.logout(reason) })
}
