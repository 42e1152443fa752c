package api

import (
	"log/slog"
	"net/http"
	"time"
)

// Client provides access to the upstream REST API via the candidate ladder.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	// Per-candidate deadline. A timed-out candidate advances the ladder
	// instead of hanging the whole request.
	tryTimeout time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new REST client for the given base URL. The base may
// or may not end in a version segment; Candidates normalizes either form.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:     slog.Default(),
		tryTimeout: 10 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTryTimeout sets the per-candidate request deadline.
func WithTryTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.tryTimeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}
