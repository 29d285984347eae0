// Package upstream talks to the external pricing provider. Every failure mode
// is folded into the returned provider.FetchResult.
package upstream

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	// DefaultBaseURL is the pricing API the relay was first deployed against.
	DefaultBaseURL    = "https://vn-stock-api-bsjj.onrender.com/api/stocks"
	DefaultTimeout    = 25 * time.Second
	DefaultMaxRetries = 2
	DefaultRetryDelay = 2 * time.Second
)

// Mode selects how a symbol set is turned into upstream calls.
type Mode string

const (
	// ModeBatch issues one call per symbol set.
	ModeBatch Mode = "batch"
	// ModePerSymbol issues one sequential call per symbol and merges them.
	ModePerSymbol Mode = "per_symbol"
)

// ParseMode accepts "batch" and "per_symbol" (also "per-symbol"), case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ModeBatch):
		return ModeBatch, nil
	case string(ModePerSymbol), "per-symbol", "persymbol":
		return ModePerSymbol, nil
	}
	return "", fmt.Errorf("unknown upstream mode %q", s)
}

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=upstream_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a client for the upstream pricing API.
type Client struct {
	// baseURL is the base URL for the API; requests go to <baseURL>/price.
	baseURL string
	// httpClient is the HTTP client.
	httpClient HTTPClient
	// header contains additional headers to be sent with each request.
	header http.Header
	// mode selects batch or per-symbol calls.
	mode Mode
	// timeout bounds each individual call.
	timeout time.Duration
	// maxRetries is the number of retries after the first attempt.
	maxRetries int
	// retryDelay is the fixed wait between attempts.
	retryDelay time.Duration

	logger         *zap.Logger
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer
}

// ClientOption is a configuration option for the upstream client.
type ClientOption func(*Client)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient HTTPClient) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) ClientOption {
	return func(c *Client) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// WithMode selects batch or per-symbol calls.
func WithMode(mode Mode) ClientOption {
	return func(c *Client) {
		c.mode = mode
	}
}

// WithTimeout bounds each individual upstream call.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithRetry sets how many times a failed batch is retried and the fixed
// delay between attempts.
func WithRetry(maxRetries int, delay time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.retryDelay = delay
	}
}

// WithLogger sets the logger for failed attempts.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithTracerProvider sets where fetch spans go. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) ClientOption {
	return func(c *Client) {
		c.tracerProvider = tp
	}
}

// NewClient creates a new upstream client.
func NewClient(options ...ClientOption) (*Client, error) {
	var client = &Client{
		baseURL:    DefaultBaseURL,
		httpClient: http.DefaultClient,
		header:     http.Header{},
		mode:       ModeBatch,
		timeout:    DefaultTimeout,
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		logger:     zap.NewNop(),
	}
	for _, option := range options {
		option(client)
	}

	u, err := url.Parse(client.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", client.baseURL)
	}
	mode, err := ParseMode(string(client.mode))
	if err != nil {
		return nil, err
	}
	client.mode = mode
	if client.timeout <= 0 {
		return nil, errors.New("timeout must be positive")
	}
	if client.maxRetries < 0 {
		return nil, errors.New("max retries cannot be negative")
	}
	if client.httpClient == nil {
		return nil, errors.New("http client is nil")
	}
	if client.logger == nil {
		client.logger = zap.NewNop()
	}
	if client.tracerProvider == nil {
		client.tracerProvider = otel.GetTracerProvider()
	}
	client.tracer = client.tracerProvider.Tracer("pricerelay/upstream")
	return client, nil
}

func (c *Client) Name() string { return "upstream" }

// Mode reports whether the client batches symbols.
func (c *Client) Mode() Mode { return c.mode }
