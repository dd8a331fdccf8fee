package client

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/gatedfetch/internal/testutil"
	"github.com/Sternrassler/gatedfetch/pkg/ratelimit"
	"github.com/rs/zerolog"
)

// countingGate records every Wait call and, optionally, the request count
// seen by the server at the time of the call.
type countingGate struct {
	calls      atomic.Int32
	onWait     func()
	serverSeen []int
}

func (g *countingGate) Wait() {
	g.calls.Add(1)
	if g.onWait != nil {
		g.onWait()
	}
}

func testConfig(cfg Config) Config {
	logger := zerolog.Nop()
	cfg.Logger = &logger
	if cfg.UserAgent == "" {
		cfg.UserAgent = "gatedfetch-test/1.0"
	}
	return cfg
}

func newTestClient(t *testing.T, cfg Config) *Client {
	t.Helper()

	c, err := New(testConfig(cfg))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
		errorMsg    string
		strategy    ratelimit.Strategy
	}{
		{
			name:     "default token bucket",
			config:   DefaultConfig("TestApp/1.0.0"),
			strategy: ratelimit.StrategyTokenBucket,
		},
		{
			name:     "ungated",
			config:   Config{UserAgent: "TestApp/1.0.0", Strategy: ratelimit.StrategyNone},
			strategy: ratelimit.StrategyNone,
		},
		{
			name:     "empty strategy means ungated",
			config:   Config{UserAgent: "TestApp/1.0.0"},
			strategy: ratelimit.StrategyNone,
		},
		{
			name:     "simple gate",
			config:   Config{UserAgent: "TestApp/1.0.0", Strategy: ratelimit.StrategySimple, Interval: time.Millisecond},
			strategy: ratelimit.StrategySimple,
		},
		{
			name:     "shared gate overrides strategy",
			config:   Config{UserAgent: "TestApp/1.0.0", Strategy: ratelimit.StrategySimple, Gate: ratelimit.Unlimited{}},
			strategy: "shared",
		},
		{
			name:        "empty user agent",
			config:      Config{Strategy: ratelimit.StrategyNone},
			expectError: true,
			errorMsg:    "user-agent is required",
		},
		{
			name:        "simple without interval",
			config:      Config{UserAgent: "TestApp/1.0.0", Strategy: ratelimit.StrategySimple},
			expectError: true,
			errorMsg:    "interval must be > 0",
		},
		{
			name:        "token bucket without interval",
			config:      Config{UserAgent: "TestApp/1.0.0", Strategy: ratelimit.StrategyTokenBucket},
			expectError: true,
			errorMsg:    "interval must be > 0",
		},
		{
			name:        "unknown strategy",
			config:      Config{UserAgent: "TestApp/1.0.0", Strategy: "sliding"},
			expectError: true,
			errorMsg:    "unknown strategy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := zerolog.Nop()
			tt.config.Logger = &logger

			c, err := New(tt.config)
			if tt.expectError {
				if err == nil {
					c.Close()
					t.Fatal("Expected error but got nil")
				}
				if !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("Expected ErrInvalidConfig, got %v", err)
				}
				if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Error message = %q, want it to contain %q", err.Error(), tt.errorMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			defer c.Close()

			if c.Strategy() != tt.strategy {
				t.Errorf("Strategy() = %q, want %q", c.Strategy(), tt.strategy)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("TestApp/1.0.0")

	if cfg.UserAgent != "TestApp/1.0.0" {
		t.Errorf("UserAgent = %q, want %q", cfg.UserAgent, "TestApp/1.0.0")
	}
	if cfg.Strategy != ratelimit.StrategyTokenBucket {
		t.Errorf("Strategy = %q, want token_bucket", cfg.Strategy)
	}
	if cfg.Interval != 100*time.Millisecond {
		t.Errorf("Interval = %v, want 100ms", cfg.Interval)
	}
	if cfg.Capacity != 1 {
		t.Errorf("Capacity = %d, want 1", cfg.Capacity)
	}
}

func TestDo_GateInvokedOncePerRequest(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/ok", testutil.NewJSONResponse(`{}`))

	gate := &countingGate{}
	gate.onWait = func() {
		gate.serverSeen = append(gate.serverSeen, mock.RequestCount())
	}
	c := newTestClient(t, Config{Gate: gate})

	for i := 0; i < 3; i++ {
		resp, err := c.Get(context.Background(), mock.URL()+"/ok")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		resp.Body.Close()
	}

	if got := gate.calls.Load(); got != 3 {
		t.Errorf("Gate calls = %d, want 3", got)
	}
	if mock.RequestCount() != 3 {
		t.Errorf("Server requests = %d, want 3", mock.RequestCount())
	}
	// The gate runs before the network call each time.
	for i, seen := range gate.serverSeen {
		if seen != i {
			t.Errorf("Gate call %d saw %d server requests, want %d", i+1, seen, i)
		}
	}
}

func TestRequest_BuilderDoesNotGateUntilCall(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/items", testutil.NewJSONResponse(`[]`))

	gate := &countingGate{}
	c := newTestClient(t, Config{Gate: gate})

	req, err := c.NewRequest(context.Background(), http.MethodGet, mock.URL()+"/items")
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header("X-Trace", "abc").Query("q", "bolt")

	if gate.calls.Load() != 0 {
		t.Fatalf("Gate invoked before Call")
	}
	if !strings.Contains(req.URL(), "q=bolt") {
		t.Errorf("URL() = %q, want query q=bolt", req.URL())
	}

	resp, err := req.Call()
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	resp.Body.Close()

	if gate.calls.Load() != 1 {
		t.Errorf("Gate calls = %d, want 1", gate.calls.Load())
	}
	if got := mock.LastRequestHeader().Get("X-Trace"); got != "abc" {
		t.Errorf("X-Trace header = %q, want abc", got)
	}
}

func TestDo_UserAgentSet(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/ua", testutil.NewJSONResponse(`{}`))

	c := newTestClient(t, Config{UserAgent: "TestApp/2.0 (test@example.com)"})

	resp, err := c.Get(context.Background(), mock.URL()+"/ua")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()

	header := mock.LastRequestHeader()
	if got := header.Get("User-Agent"); got != "TestApp/2.0 (test@example.com)" {
		t.Errorf("User-Agent = %q", got)
	}
	if got := header.Get("Accept"); got != "application/json" {
		t.Errorf("Accept = %q, want application/json", got)
	}
}

func TestDo_ErrorStatusesAreNotErrors(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/missing", testutil.NewAPIErrorResponse(404, "not found"))
	mock.SetResponse("/broken", testutil.NewServerErrorResponse())

	c := newTestClient(t, Config{})

	for path, status := range map[string]int{"/missing": 404, "/broken": 500} {
		resp, err := c.Get(context.Background(), mock.URL()+path)
		if err != nil {
			t.Fatalf("Get(%s) error = %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != status {
			t.Errorf("Get(%s) status = %d, want %d", path, resp.StatusCode, status)
		}
	}
}

func TestDo_NetworkErrorIsTransportError(t *testing.T) {
	mock := testutil.NewMockAPI()
	url := mock.URL() + "/gone"
	mock.Close()

	c := newTestClient(t, Config{})

	_, err := c.Get(context.Background(), url)
	if err == nil {
		t.Fatal("Expected error from closed server")
	}

	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("Expected *TransportError, got %T: %v", err, err)
	}
	if transportErr.URL != url {
		t.Errorf("TransportError.URL = %q, want %q", transportErr.URL, url)
	}
	if transportErr.Err == nil {
		t.Error("TransportError.Err should carry the network failure")
	}
}

func TestDo_TokenBucketSpacesRequests(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/ok", testutil.NewJSONResponse(`{}`))

	interval := 50 * time.Millisecond
	c := newTestClient(t, Config{Strategy: ratelimit.StrategyTokenBucket, Interval: interval, Capacity: 1})

	for i := 0; i < 3; i++ {
		resp, err := c.Get(context.Background(), mock.URL()+"/ok")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		resp.Body.Close()
	}

	times := mock.RequestTimes()
	if len(times) != 3 {
		t.Fatalf("Server saw %d requests, want 3", len(times))
	}
	if span := times[2].Sub(times[0]); span < 2*interval-15*time.Millisecond {
		t.Errorf("Three requests spanned %v, want at least %v", span, 2*interval)
	}
}

func TestHandle_SharedAcrossClients(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/ok", testutil.NewJSONResponse(`{}`))

	interval := 50 * time.Millisecond
	owner := newTestClient(t, Config{Strategy: ratelimit.StrategyTokenBucket, Interval: interval, Capacity: 1})

	h, ok := owner.Handle()
	if !ok {
		t.Fatal("Token bucket client should expose a Handle")
	}
	follower := newTestClient(t, Config{Gate: h})

	if _, ok := follower.Handle(); ok {
		t.Error("Client with an injected gate should not expose a Handle")
	}

	for _, c := range []*Client{owner, follower, owner} {
		resp, err := c.Get(context.Background(), mock.URL()+"/ok")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		resp.Body.Close()
	}

	times := mock.RequestTimes()
	if span := times[2].Sub(times[0]); span < 2*interval-15*time.Millisecond {
		t.Errorf("Requests through a shared limiter spanned %v, want at least %v", span, 2*interval)
	}
}
