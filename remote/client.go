// Package remote executes fetcher requests against another docgrid server.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"docgrid/fetcher"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

// DefaultTimeout bounds a single execution round trip
const DefaultTimeout = 30 * time.Second

// ErrInvalidBaseURL is returned when the server address cannot be used
var ErrInvalidBaseURL = errors.New("invalid base url")

// StatusError is returned when the server answers with a non-2xx status
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("remote execution failed with status %d: %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("remote execution failed with status %d: %s", e.StatusCode, e.Message)
}

// Client implements fetcher.Executor over HTTP. Each Execute call is a single
// POST to /indexes/:id/executions.
type Client struct {
	baseURL    string
	masterKey  string
	httpClient *http.Client
	logger     *zap.Logger
}

// Option configures a Client
type Option func(*Client)

// WithMasterKey sets the bearer token sent with every request
func WithMasterKey(key string) Option {
	return func(c *Client) {
		c.masterKey = key
	}
}

// WithTimeout sets the per-request timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a client for the server at baseURL, e.g. http://localhost:3000
func NewClient(baseURL string, logger *zap.Logger, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, baseURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger.Named("remote"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Execute implements fetcher.Executor
func (c *Client) Execute(ctx context.Context, req fetcher.Request) (*fetcher.Response, error) {
	body, err := sonic.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/indexes/%s/executions", c.baseURL, url.PathEscape(req.Index))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.masterKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.masterKey)
	}

	startTime := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.Debug("remote execution completed",
		zap.String("index", req.Index),
		zap.Int("size", req.SearchSource.Size),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(startTime)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newStatusError(resp.StatusCode, respBody)
	}

	var out fetcher.Response
	if err := sonic.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}

func newStatusError(status int, body []byte) *StatusError {
	statusErr := &StatusError{StatusCode: status}

	var payload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := sonic.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		statusErr.Code = payload.Code
		statusErr.Message = payload.Message
	} else {
		statusErr.Message = strings.TrimSpace(string(body))
	}
	return statusErr
}
