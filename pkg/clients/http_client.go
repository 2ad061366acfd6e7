// Package clients provides the outbound HTTP client shared by the API and
// webhook executors: pooled transport with HTTP/2, per-host rate limiting
// and per-host circuit breaking.
package clients

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

// HTTPClient wraps http.Client with rate limiting and circuit breaking.
type HTTPClient struct {
	config     *HTTPConfig
	logger     *zap.Logger
	httpClient *http.Client
	transport  *http.Transport

	rateLimiter *HostRateLimiter

	breakersMu sync.Mutex
	breakers   map[string]*CircuitBreaker

	totalRequests  int64
	failedRequests int64
}

// HTTPConfig configures the HTTP client
type HTTPConfig struct {
	// Connection settings
	MaxIdleConns        int           `json:"max_idle_conns"`
	MaxIdleConnsPerHost int           `json:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `json:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `json:"idle_conn_timeout"`

	// HTTP/2 settings
	EnableHTTP2 bool `json:"enable_http2"`

	// Timeouts
	DialTimeout           time.Duration `json:"dial_timeout"`
	TLSHandshakeTimeout   time.Duration `json:"tls_handshake_timeout"`
	ResponseHeaderTimeout time.Duration `json:"response_header_timeout"`
	KeepAlive             time.Duration `json:"keep_alive"`

	// Rate limiting, per host. Zero disables it.
	RateLimit float64 `json:"rate_limit"`
	RateBurst int     `json:"rate_burst"`

	// Circuit breaker, per host
	CircuitBreakerEnabled bool          `json:"circuit_breaker_enabled"`
	FailureThreshold      int           `json:"failure_threshold"`
	SuccessThreshold      int           `json:"success_threshold"`
	OpenTimeout           time.Duration `json:"open_timeout"`

	UserAgent string `json:"user_agent"`
}

// DefaultHTTPConfig returns the default configuration
func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   20,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
		EnableHTTP2:           true,
		DialTimeout:           10 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		KeepAlive:             30 * time.Second,
		RateLimit:             20,
		RateBurst:             10,
		CircuitBreakerEnabled: true,
		FailureThreshold:      5,
		SuccessThreshold:      1,
		OpenTimeout:           30 * time.Second,
		UserAgent:             "datasync/1.0",
	}
}

// NewHTTPClient creates a new HTTP client. Request deadlines come from the
// request context, so the client itself has no overall timeout.
func NewHTTPClient(config *HTTPConfig, logger *zap.Logger) *HTTPClient {
	if config == nil {
		config = DefaultHTTPConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := &HTTPClient{
		config:   config,
		logger:   logger.With(zap.String("component", "http_client")),
		breakers: make(map[string]*CircuitBreaker),
	}

	client.transport = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: config.KeepAlive,
		}).DialContext,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		MaxConnsPerHost:       config.MaxConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	if config.EnableHTTP2 {
		if err := http2.ConfigureTransport(client.transport); err != nil {
			client.logger.Warn("failed to configure HTTP/2", zap.Error(err))
		}
	}

	client.httpClient = &http.Client{
		Transport: client.transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}

	if config.RateLimit > 0 {
		client.rateLimiter = NewHostRateLimiter(config.RateLimit, config.RateBurst)
	}

	return client
}

// StandardClient returns the underlying *http.Client, for libraries that
// need one (the OAuth2 token source).
func (c *HTTPClient) StandardClient() *http.Client { return c.httpClient }

// Get performs an HTTP GET request
func (c *HTTPClient) Get(ctx context.Context, url string, headers map[string]string) (*http.Response, error) {
	req, err := c.NewRequest(ctx, http.MethodGet, url, nil, headers)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Post performs an HTTP POST request
func (c *HTTPClient) Post(ctx context.Context, url string, body io.Reader, headers map[string]string) (*http.Response, error) {
	req, err := c.NewRequest(ctx, http.MethodPost, url, body, headers)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Do performs req after the host's rate limiter and circuit breaker admit
// it. Responses with status >= 500 count as breaker failures but are still
// returned to the caller.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	host := req.URL.Host

	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(req.Context(), host); err != nil {
			atomic.AddInt64(&c.failedRequests, 1)
			return nil, fmt.Errorf("rate limit wait for %s: %w", host, err)
		}
	}

	breaker := c.breaker(host)
	if breaker != nil && !breaker.Allow() {
		atomic.AddInt64(&c.failedRequests, 1)
		return nil, fmt.Errorf("%s: %w", host, ErrCircuitOpen)
	}

	atomic.AddInt64(&c.totalRequests, 1)
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil || resp.StatusCode >= http.StatusInternalServerError {
		atomic.AddInt64(&c.failedRequests, 1)
		if breaker != nil {
			breaker.RecordFailure()
		}
		if err != nil {
			c.logger.Debug("request failed",
				zap.String("method", req.Method),
				zap.String("host", host),
				zap.Duration("duration", duration),
				zap.Error(err))
			return nil, err
		}
		return resp, nil
	}

	if breaker != nil {
		breaker.RecordSuccess()
	}
	return resp, nil
}

func (c *HTTPClient) breaker(host string) *CircuitBreaker {
	if !c.config.CircuitBreakerEnabled {
		return nil
	}
	c.breakersMu.Lock()
	defer c.breakersMu.Unlock()

	cb, ok := c.breakers[host]
	if !ok {
		cb = NewCircuitBreaker(CircuitBreakerConfig{
			FailureThreshold: c.config.FailureThreshold,
			SuccessThreshold: c.config.SuccessThreshold,
			Timeout:          c.config.OpenTimeout,
		}, c.logger.With(zap.String("host", host)))
		c.breakers[host] = cb
	}
	return cb
}

// NewRequest creates a request with headers and the default User-Agent.
func (c *HTTPClient) NewRequest(ctx context.Context, method, url string, body io.Reader, headers map[string]string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	if req.Header.Get("User-Agent") == "" && c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	return req, nil
}

// Stats returns request counters.
func (c *HTTPClient) Stats() HTTPStats {
	total := atomic.LoadInt64(&c.totalRequests)
	failed := atomic.LoadInt64(&c.failedRequests)
	stats := HTTPStats{TotalRequests: total, FailedRequests: failed}
	if total > 0 {
		stats.SuccessRate = float64(total-failed) / float64(total) * 100
	}
	return stats
}

// Close releases idle connections.
func (c *HTTPClient) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}

// HTTPStats represents HTTP client statistics
type HTTPStats struct {
	TotalRequests  int64   `json:"total_requests"`
	FailedRequests int64   `json:"failed_requests"`
	SuccessRate    float64 `json:"success_rate"`
}
