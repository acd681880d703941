// Package client provides the HTTP transport used to fetch search pages.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/pharmeasy-scraper/pkg/request"
)

// Prometheus metrics for transport operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scraper_requests_total",
		Help: "Total search API requests by status",
	}, []string{"status"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scraper_request_duration_seconds",
		Help:    "Search API request duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scraper_errors_total",
		Help: "Total transport errors by class",
	}, []string{"class"})
)

// maxBodyBytes caps a single response body.
const maxBodyBytes = 32 << 20

// Client fetches pages over HTTP.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// User-Agent header, used when a request carries none
	UserAgent string

	// Timeout for a single HTTP request
	Timeout time.Duration

	// Retry (MaxRetries counts attempts; 1 means no retry)
	MaxRetries     int
	InitialBackoff time.Duration
}

// DefaultConfig returns the default configuration: 30s timeout, no retries.
func DefaultConfig(userAgent string) Config {
	return Config{
		UserAgent:      userAgent,
		Timeout:        30 * time.Second,
		MaxRetries:     1,
		InitialBackoff: 1 * time.Second,
	}
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive (got %s)", cfg.Timeout)
	}

	if cfg.MaxRetries < 1 {
		return nil, fmt.Errorf("max_retries must be >= 1 (got %d)", cfg.MaxRetries)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		config: cfg,
		logger: log.With().Str("component", "http-client").Logger(),
	}, nil
}

// FetchPage performs the GET described by d and returns the response body.
// Non-2xx responses and network failures are returned as *FetchError.
func (c *Client) FetchPage(ctx context.Context, d request.Descriptor) ([]byte, error) {
	retry := DefaultRetryConfig()
	retry.MaxAttempts = c.config.MaxRetries
	if c.config.InitialBackoff > 0 {
		retry.InitialBackoff = c.config.InitialBackoff
	}

	var body []byte
	err := retryWithBackoff(ctx, retry, func() (ErrorClass, error) {
		var err error
		body, err = c.do(ctx, d)
		if err != nil {
			if fe, ok := err.(*FetchError); ok {
				return fe.ErrorClass, err
			}
			return "", err
		}
		return "", nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// do executes a single attempt.
func (c *Client) do(ctx context.Context, d request.Descriptor) ([]byte, error) {
	startTime := time.Now()
	defer func() {
		requestDuration.Observe(time.Since(startTime).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for key, values := range d.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	c.logger.Debug().
		Int("page", d.PageIndex).
		Str("url", d.URL).
		Msg("Executing search request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues("network_error").Inc()
		return nil, &FetchError{
			URL:        d.URL,
			ErrorClass: ErrorClassNetwork,
			Message:    "request failed",
			Err:        err,
		}
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		class := classifyStatus(resp.StatusCode)
		errorsTotal.WithLabelValues(string(class)).Inc()
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))

		c.logger.Debug().
			Int("page", d.PageIndex).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Search request returned error status")

		return nil, &FetchError{
			URL:        d.URL,
			StatusCode: resp.StatusCode,
			ErrorClass: class,
			Message:    resp.Status,
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &FetchError{
			URL:        d.URL,
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			Message:    "read body",
			Err:        err,
		}
	}

	return body, nil
}

// classifyStatus categorizes a non-2xx status code.
func classifyStatus(status int) ErrorClass {
	switch {
	case status >= 500:
		return ErrorClassServer
	case status >= 400:
		return ErrorClassClient
	default:
		// 1xx/3xx that net/http did not resolve
		return ErrorClassClient
	}
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
