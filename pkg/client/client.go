// Package client provides the gated HTTP client: every outbound request passes
// through a rate gate exactly once, immediately before it hits the network.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/gatedfetch/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for gated client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatedfetch_requests_total",
		Help: "Total outbound requests by method and status",
	}, []string{"method", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gatedfetch_request_duration_seconds",
		Help:    "Outbound request duration in seconds, excluding gate wait",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"method"})

	gateWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gatedfetch_gate_wait_seconds",
		Help:    "Time spent blocked in the rate gate before a request",
		Buckets: []float64{0, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 5},
	}, []string{"strategy"})
)

// ErrInvalidConfig is returned by New for an unusable Config.
var ErrInvalidConfig = errors.New("client: invalid config")

// Client is a gated HTTP client.
type Client struct {
	httpClient *http.Client
	gate       ratelimit.Gate
	limiter    *ratelimit.Limiter // non-nil only when the client owns it
	strategy   ratelimit.Strategy
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// User-Agent header sent with every request.
	UserAgent string

	// Rate limiting. Ignored when Gate is set.
	Strategy ratelimit.Strategy
	Interval time.Duration // minimum spacing / replenishment interval
	Capacity int           // token bucket only

	// Gate overrides Strategy, typically a ratelimit.Handle shared with other
	// clients so that they all draw from one Limiter.
	Gate ratelimit.Gate

	// Publisher receives ledger snapshots of an owned token bucket limiter.
	Publisher ratelimit.Publisher

	// HTTPClient is the transport. Defaults to a new http.Client with Timeout.
	HTTPClient *http.Client
	Timeout    time.Duration

	// Logger defaults to the global logger with component=gated-client.
	Logger *zerolog.Logger
}

// DefaultConfig returns a token bucket configuration allowing one request
// every 100ms.
func DefaultConfig(userAgent string) Config {
	return Config{
		UserAgent: userAgent,
		Strategy:  ratelimit.StrategyTokenBucket,
		Interval:  ratelimit.DefaultInterval,
		Capacity:  1,
		Timeout:   30 * time.Second,
	}
}

// New creates a new gated client. If the configuration asks for a token
// bucket, New starts a Limiter that Close stops.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("%w: user-agent is required", ErrInvalidConfig)
	}

	logger := log.With().Str("component", "gated-client").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	c := &Client{
		httpClient: httpClient,
		config:     cfg,
		logger:     logger,
	}

	if cfg.Gate != nil {
		c.gate = cfg.Gate
		c.strategy = "shared"
		return c, nil
	}

	switch cfg.Strategy {
	case ratelimit.StrategyNone, "":
		c.gate = ratelimit.Unlimited{}
		c.strategy = ratelimit.StrategyNone

	case ratelimit.StrategySimple:
		if cfg.Interval <= 0 {
			return nil, fmt.Errorf("%w: interval must be > 0 for %s strategy", ErrInvalidConfig, cfg.Strategy)
		}
		c.gate = ratelimit.NewSimpleGate(cfg.Interval)
		c.strategy = ratelimit.StrategySimple

	case ratelimit.StrategyTokenBucket:
		capacity := cfg.Capacity
		if capacity == 0 {
			capacity = 1
		}
		limiter, err := ratelimit.NewWithConfig(ratelimit.Config{
			Interval:  cfg.Interval,
			Capacity:  capacity,
			Publisher: cfg.Publisher,
			Logger:    cfg.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		c.gate = limiter
		c.limiter = limiter
		c.strategy = ratelimit.StrategyTokenBucket

	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, cfg.Strategy)
	}

	return c, nil
}

// Do sends req after passing the gate once. Responses with any status are
// returned as-is; only transport failures produce an error.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	method := req.Method

	waitStart := time.Now()
	c.gate.Wait()
	waited := time.Since(waitStart)
	gateWaitSeconds.WithLabelValues(string(c.strategy)).Observe(waited.Seconds())

	if c.config.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	c.logger.Debug().
		Str("method", method).
		Str("url", req.URL.String()).
		Dur("gate_wait", waited).
		Msg("Sending request")

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	requestDuration.WithLabelValues(method).Observe(time.Since(startTime).Seconds())

	if err != nil {
		requestsTotal.WithLabelValues(method, "network_error").Inc()
		c.logger.Warn().Err(err).Str("url", req.URL.String()).Msg("Request failed")
		return nil, &TransportError{URL: req.URL.String(), Err: err}
	}

	requestsTotal.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
	return resp, nil
}

// NewRequest starts building a request. The gate is not touched until Call.
func (c *Client) NewRequest(ctx context.Context, method, rawURL string) (*Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return &Request{client: c, req: req}, nil
}

// Get performs a gated GET request.
func (c *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	r, err := c.NewRequest(ctx, http.MethodGet, rawURL)
	if err != nil {
		return nil, err
	}
	return r.Call()
}

// Handle returns a handle to the client's own token bucket limiter so other
// clients can share it. ok is false when the client does not own a limiter.
func (c *Client) Handle() (h ratelimit.Handle, ok bool) {
	if c.limiter == nil {
		return ratelimit.Handle{}, false
	}
	return c.limiter.Handle(), true
}

// Strategy reports which gate the client uses ("shared" for an injected Gate).
func (c *Client) Strategy() ratelimit.Strategy {
	return c.strategy
}

// Close stops an owned limiter. Handles obtained from it become unusable.
func (c *Client) Close() error {
	if c.limiter != nil {
		c.limiter.Stop()
	}
	return nil
}

// Request is a pending request built by Client.NewRequest.
type Request struct {
	client *Client
	req    *http.Request
}

// Header sets a request header and returns the builder.
func (r *Request) Header(key, value string) *Request {
	r.req.Header.Set(key, value)
	return r
}

// Query adds a query parameter and returns the builder.
func (r *Request) Query(key, value string) *Request {
	q := r.req.URL.Query()
	q.Add(key, value)
	r.req.URL.RawQuery = q.Encode()
	return r
}

// URL returns the request URL.
func (r *Request) URL() string {
	return r.req.URL.String()
}

// Call passes the gate and sends the request.
func (r *Request) Call() (*http.Response, error) {
	return r.client.Do(r.req)
}
