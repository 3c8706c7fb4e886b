// Package rest is the transport layer for the vendor API: one shared HTTP
// client carrying the session's auth headers, JSON in and out, and a typed
// error for every way the backend says no. It never retries; retry decisions
// belong to the callers that know what a step means.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// DefaultBaseURL is the production backend all known frames talk to.
const DefaultBaseURL = "https://api.pushd.com/v5/"

const (
	headerAuthToken = "x-token-auth"
	headerUserID    = "x-user-id"

	defaultUserAgent = "auraframes/1.0"
	defaultTimeout   = 30 * time.Second

	maxErrorBody = 4 << 10
)

// Client issues authenticated requests against the vendor API. Safe for
// concurrent use; auth headers are installed once at login and read by every
// in-flight request.
type Client struct {
	rawBaseURL string
	baseURL    *url.URL
	httpClient *http.Client
	logger     *slog.Logger
	userAgent  string

	mu     sync.RWMutex
	userID string
	token  string
}

// Option customises a Client.
type Option func(*Client)

// WithBaseURL points the client at a different backend, typically a test
// server.
func WithBaseURL(raw string) Option {
	return func(c *Client) {
		c.rawBaseURL = raw
	}
}

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithLogger attaches a logger used for debug request traces.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(agent string) Option {
	return func(c *Client) {
		if strings.TrimSpace(agent) != "" {
			c.userAgent = agent
		}
	}
}

// New builds a Client for the vendor API.
func New(opts ...Option) (*Client, error) {
	client := &Client{
		rawBaseURL: DefaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     slog.Default(),
		userAgent:  defaultUserAgent,
	}
	for _, opt := range opts {
		opt(client)
	}
	parsed, err := url.Parse(client.rawBaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("rest: invalid base URL %q", client.rawBaseURL)
	}
	if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}
	client.baseURL = parsed
	return client, nil
}

// SetAuth installs the session auth headers used by subsequent requests.
func (c *Client) SetAuth(userID, token string) {
	c.mu.Lock()
	c.userID = userID
	c.token = token
	c.mu.Unlock()
}

// ClearAuth removes the session auth headers.
func (c *Client) ClearAuth() {
	c.mu.Lock()
	c.userID = ""
	c.token = ""
	c.mu.Unlock()
}

// Authenticated reports whether auth headers are currently installed.
func (c *Client) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token != ""
}

// Get issues a GET and decodes the response into dest when dest is non-nil.
func (c *Client) Get(ctx context.Context, path string, dest any) error {
	return c.do(ctx, http.MethodGet, path, nil, dest)
}

// Post issues a POST with a JSON payload.
func (c *Client) Post(ctx context.Context, path string, payload, dest any) error {
	return c.do(ctx, http.MethodPost, path, payload, dest)
}

// Put issues a PUT with a JSON payload.
func (c *Client) Put(ctx context.Context, path string, payload, dest any) error {
	return c.do(ctx, http.MethodPut, path, payload, dest)
}

// Delete issues a DELETE.
func (c *Client) Delete(ctx context.Context, path string, dest any) error {
	return c.do(ctx, http.MethodDelete, path, nil, dest)
}

// Download fetches raw bytes from an absolute URL, typically the image proxy.
func (c *Client) Download(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("rest: build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	c.applyAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: http.MethodGet, URL: rawURL, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.statusError(resp, rawURL)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: "read", URL: rawURL, Err: err}
	}
	return data, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, dest any) error {
	target, err := c.resolve(path)
	if err != nil {
		return err
	}

	var body []byte
	if payload != nil {
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("rest: marshal request: %w", err)
		}
	}
	c.logRequest(ctx, method, target, body)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("rest: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.applyAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if dest == nil {
			// drain so keep-alive connections can be reused
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return fmt.Errorf("rest: decode %s %s: %w", method, target, err)
		}
		return nil
	}
	return c.statusError(resp, target)
}

func (c *Client) applyAuth(req *http.Request) {
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set(headerAuthToken, c.token)
		req.Header.Set(headerUserID, c.userID)
	}
	c.mu.RUnlock()
}

// resolve joins a request path against the base URL. Paths with a leading
// slash deliberately escape the versioned prefix; the notification endpoints
// live outside /v5/.
func (c *Client) resolve(path string) (string, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("rest: invalid request path %q: %w", path, err)
	}
	return c.baseURL.ResolveReference(ref).String(), nil
}

func (c *Client) statusError(resp *http.Response, target string) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var parsed errorBody
	_ = json.Unmarshal(raw, &parsed)
	message := parsed.message()
	if message == "" {
		message = strings.TrimSpace(string(raw))
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &AuthError{StatusCode: resp.StatusCode, Message: message}
	case resp.StatusCode == http.StatusNotFound:
		return &NotFoundError{URL: target}
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return &ValidationError{StatusCode: resp.StatusCode, Message: message, Fields: parsed.Errors}
	case resp.StatusCode >= 500:
		return &ServerError{StatusCode: resp.StatusCode, Message: message}
	default:
		return &StatusError{StatusCode: resp.StatusCode, Message: message}
	}
}

func (c *Client) logRequest(ctx context.Context, method, target string, body []byte) {
	if c.logger == nil || !c.logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	attrs := []any{"method", method, "url", target}
	if len(body) > 0 {
		var decoded map[string]any
		if err := json.Unmarshal(body, &decoded); err == nil {
			if safe, err := json.Marshal(RedactSensitive(decoded)); err == nil {
				attrs = append(attrs, "payload", string(safe))
			}
		}
	}
	c.logger.Debug("issuing API request", attrs...)
}
