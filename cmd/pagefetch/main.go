// Command pagefetch walks a paginated JSON list through a rate-gated client
// and prints every item as one JSON line on stdout.
//
// Usage:
//
//	pagefetch [flags] URL
//
// Flags default from the environment: PAGEFETCH_STRATEGY,
// PAGEFETCH_INTERVAL, PAGEFETCH_CAPACITY, PAGEFETCH_USER_AGENT, REDIS_URL,
// METRICS_ADDR and LOG_LEVEL.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Sternrassler/gatedfetch/pkg/client"
	"github.com/Sternrassler/gatedfetch/pkg/logging"
	"github.com/Sternrassler/gatedfetch/pkg/metrics"
	"github.com/Sternrassler/gatedfetch/pkg/pagination"
	"github.com/Sternrassler/gatedfetch/pkg/ratelimit"
	"github.com/Sternrassler/gatedfetch/pkg/uri"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const defaultUserAgent = "gatedfetch-pagefetch/0.1.0"

type config struct {
	URL         string
	All         bool
	Strategy    ratelimit.Strategy
	Interval    time.Duration
	Capacity    int
	UserAgent   string
	RedisURL    string
	MetricsAddr string
	LogLevel    string
	Pretty      bool
}

func main() {
	cfg, err := loadConfig(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "pagefetch: %v\n", err)
		os.Exit(2)
	}

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.Pretty,
		Output: os.Stderr,
	})
	logger := logging.NewLogger("pagefetch")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdout, logger); err != nil {
		logger.Error().Err(err).Str("error_class", string(client.Classify(err))).Msg("Fetch failed")
		os.Exit(1)
	}
}

// loadConfig reads flags from args, falling back to environment variables.
func loadConfig(args []string, stderr io.Writer) (config, error) {
	interval, err := time.ParseDuration(getEnv("PAGEFETCH_INTERVAL", ratelimit.DefaultInterval.String()))
	if err != nil {
		return config{}, fmt.Errorf("PAGEFETCH_INTERVAL: %w", err)
	}
	capacity, err := strconv.Atoi(getEnv("PAGEFETCH_CAPACITY", "1"))
	if err != nil {
		return config{}, fmt.Errorf("PAGEFETCH_CAPACITY: %w", err)
	}

	var cfg config
	var strategy string

	fs := flag.NewFlagSet("pagefetch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.BoolVar(&cfg.All, "all", false, "fetch every page before printing; fail without output if any page fails")
	fs.StringVar(&strategy, "strategy", getEnv("PAGEFETCH_STRATEGY", string(ratelimit.StrategyTokenBucket)), "rate limiting strategy: none, simple, token_bucket")
	fs.DurationVar(&cfg.Interval, "interval", interval, "request spacing or token replenishment interval")
	fs.IntVar(&cfg.Capacity, "capacity", capacity, "token bucket capacity")
	fs.StringVar(&cfg.UserAgent, "user-agent", getEnv("PAGEFETCH_USER_AGENT", defaultUserAgent), "User-Agent header")
	fs.StringVar(&cfg.RedisURL, "redis", getEnv("REDIS_URL", ""), "Redis address for publishing limiter state (optional)")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", getEnv("METRICS_ADDR", ""), "address serving /metrics, /health and /ready (optional)")
	fs.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", string(logging.LevelInfo)), "debug, info, warn or error")
	fs.BoolVar(&cfg.Pretty, "pretty", false, "human-readable logs")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return config{}, errors.New("exactly one URL argument is required")
	}
	cfg.URL = fs.Arg(0)

	cfg.Strategy, err = ratelimit.ParseStrategy(strategy)
	if err != nil {
		return config{}, err
	}
	return cfg, nil
}

// run fetches cfg.URL and writes its items to out.
func run(ctx context.Context, cfg config, out io.Writer, logger zerolog.Logger) error {
	link, err := uri.Parse[pagination.Page[json.RawMessage]](cfg.URL)
	if err != nil {
		return err
	}

	clientLogger := logging.NewLogger("gated-client")
	clientCfg := client.DefaultConfig(cfg.UserAgent)
	clientCfg.Strategy = cfg.Strategy
	clientCfg.Interval = cfg.Interval
	clientCfg.Capacity = cfg.Capacity
	clientCfg.Logger = &clientLogger

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.RedisURL, err)
		}
		logger.Info().Str("redis", cfg.RedisURL).Msg("Publishing limiter state")

		namespace := "gatedfetch:" + link.URL().Host
		clientCfg.Publisher = ratelimit.NewRedisPublisher(redisClient, namespace, logging.NewLogger("ratelimit"))
	}

	c, err := client.New(clientCfg)
	if err != nil {
		return err
	}
	defer c.Close()

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           newMux(redisClient),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("Serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info().
		Str("url", link.String()).
		Str("strategy", string(c.Strategy())).
		Bool("all", cfg.All).
		Msg("Fetching list")

	w := bufio.NewWriter(out)
	defer w.Flush()

	pageLogger := logging.NewLogger("pagination")
	if cfg.All {
		items, err := pagination.FetchAll(ctx, c, link, pagination.WithLogger(pageLogger))
		if err != nil {
			return err
		}
		for _, item := range items {
			if err := writeLine(w, item); err != nil {
				return err
			}
		}
		return nil
	}

	stream, err := pagination.FetchIter(ctx, c, link, pagination.WithLogger(pageLogger))
	if err != nil {
		return err
	}
	for item := range stream.All(ctx) {
		if err := writeLine(w, item); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// writeLine writes item compacted onto a single line.
func writeLine(w *bufio.Writer, item json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Compact(&buf, item); err != nil {
		return fmt.Errorf("compact item: %w", err)
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}

func newMux(redisClient *redis.Client) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler(redisClient))
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// readyHandler reports 503 while the optional Redis publisher target is
// unreachable.
func readyHandler(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := redisClient.Ping(ctx).Err(); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
