// Package transport fetches history ranges and media from the remote
// history service over HTTP.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/adamavenir/histkeep/internal/mediacache"
)

// APIError represents a non-2xx response from the history service.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" && e.Message != "" {
		return fmt.Sprintf("history service error: %s (%d): %s", e.Code, e.Status, e.Message)
	}
	if e.Code != "" {
		return fmt.Sprintf("history service error: %s (%d)", e.Code, e.Status)
	}
	if e.Message != "" {
		return fmt.Sprintf("history service error (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("history service error (%d)", e.Status)
}

type apiErrorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// Client talks to the history service. Requests are bounded by their
// context; the resolver and the fetch coordinator own the deadlines.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	cache      *mediacache.Cache
}

// NewClient constructs a client. cache receives fetched media and may be nil
// when only ranges are fetched.
func NewClient(baseURL, token string, cache *mediacache.Cache, opts ...Option) (*Client, error) {
	normalized, err := NormalizeBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	c := &Client{
		baseURL:    normalized,
		token:      token,
		httpClient: &http.Client{},
		cache:      cache,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NormalizeBaseURL normalizes a service base URL and ensures it has a scheme.
func NormalizeBaseURL(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", fmt.Errorf("remote url cannot be empty")
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return "", fmt.Errorf("invalid remote url: %w", err)
	}
	if parsed.Scheme == "" {
		return "", fmt.Errorf("remote url must include scheme (https://)")
	}
	return strings.TrimRight(value, "/"), nil
}

// do sends a GET request and returns the response for a 2xx status. Other
// statuses become *APIError.
func (c *Client) do(ctx context.Context, path string, query url.Values, accept string) (*http.Response, error) {
	endpoint, err := c.buildURL(path, query)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	slog.DebugContext(ctx, "remote request", "path", path)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{Status: resp.StatusCode}
	var payload apiErrorPayload
	if err := json.Unmarshal(data, &payload); err == nil {
		apiErr.Code = payload.Error
		apiErr.Message = payload.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return nil, apiErr
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	resp, err := c.do(ctx, path, query, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) buildURL(path string, query url.Values) (string, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", err
	}
	endpoint := base.ResolveReference(ref)
	if len(query) > 0 {
		endpoint.RawQuery = query.Encode()
	}
	return endpoint.String(), nil
}

// isTransient reports whether err is worth retrying: server-side failures,
// throttling and network errors. Cancellation is not.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500 || apiErr.Status == http.StatusTooManyRequests
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
