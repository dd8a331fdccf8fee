package pagination

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/Sternrassler/gatedfetch/pkg/uri"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for page walking.
var (
	pagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatedfetch_pages_fetched_total",
		Help: "Total list pages fetched by mode (lazy, eager)",
	}, []string{"mode"})

	streamTruncationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gatedfetch_stream_truncations_total",
		Help: "Total lazy streams ended early because a later page failed or was missing",
	})
)

const (
	// progressEvery controls how often FetchAll logs progress, in pages.
	progressEvery = 50

	// maxPrealloc bounds the capacity FetchAll reserves from a total_cards hint.
	maxPrealloc = 10_000
)

// Option configures FetchIter, FetchAll and NewStream.
type Option func(*settings)

type settings struct {
	logger zerolog.Logger
}

// WithLogger sets the logger used for page diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

func newSettings(opts []Option) settings {
	s := settings{
		logger: log.With().Str("component", "pagination").Logger(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Stream lazily yields the items of a multi-page list. It is single-use and
// not safe for concurrent use.
type Stream[T any] struct {
	getter uri.Getter
	logger zerolog.Logger

	buf   []T
	next  *uri.Link[Page[T]]
	total *int
	pages int
}

// NewStream starts a stream at an already fetched first page. Later pages are
// fetched through g.
func NewStream[T any](g uri.Getter, first Page[T], opts ...Option) *Stream[T] {
	s := &Stream[T]{
		getter: g,
		logger: newSettings(opts).logger,
	}
	s.accept(first)
	return s
}

// FetchIter fetches the first page at link and returns a stream over the
// whole list. An error fetching the first page is returned to the caller.
func FetchIter[T any](ctx context.Context, g uri.Getter, link uri.Link[Page[T]], opts ...Option) (*Stream[T], error) {
	first, err := link.Fetch(ctx, g)
	if err != nil {
		return nil, fmt.Errorf("fetch first page: %w", err)
	}
	pagesFetchedTotal.WithLabelValues("lazy").Inc()
	return NewStream(g, first, opts...), nil
}

// Next returns the next item. When the buffered page is drained it fetches
// the following page. It returns false once the list is exhausted.
//
// A failing later page does not produce an error: the failure is logged once
// and the stream ends.
//
// If ctx is done Next returns false without consuming the pending page link,
// so the stream can be resumed with another context.
func (s *Stream[T]) Next(ctx context.Context) (T, bool) {
	for len(s.buf) == 0 {
		if !s.advance(ctx) {
			var zero T
			return zero, false
		}
	}

	v := s.buf[0]
	var zero T
	s.buf[0] = zero
	s.buf = s.buf[1:]
	return v, true
}

// All returns an iterator over the remaining items.
func (s *Stream[T]) All(ctx context.Context) iter.Seq[T] {
	return func(yield func(T) bool) {
		for {
			v, ok := s.Next(ctx)
			if !ok || !yield(v) {
				return
			}
		}
	}
}

// Collect drains the stream into a slice.
func (s *Stream[T]) Collect(ctx context.Context) []T {
	var items []T
	for v := range s.All(ctx) {
		items = append(items, v)
	}
	return items
}

// Buffered returns the number of items held from the current page.
func (s *Stream[T]) Buffered() int {
	return len(s.buf)
}

// Pages returns how many pages the stream has received.
func (s *Stream[T]) Pages() int {
	return s.pages
}

// TotalHint returns the API's total count for the list, if it sent one.
func (s *Stream[T]) TotalHint() (int, bool) {
	if s.total == nil {
		return 0, false
	}
	return *s.total, true
}

// Done reports whether the stream is exhausted without fetching anything.
func (s *Stream[T]) Done() bool {
	return len(s.buf) == 0 && s.next == nil
}

func (s *Stream[T]) advance(ctx context.Context) bool {
	if s.next == nil {
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	link := *s.next
	s.next = nil

	s.logger.Debug().
		Str("url", link.String()).
		Int("page", s.pages+1).
		Msg("Fetching next page")

	page, err := link.Fetch(ctx, s.getter)
	if err != nil && ctx.Err() != nil {
		// Cancelled by the caller; the link stays pending for a later ctx.
		s.next = &link
		s.logger.Debug().
			Err(err).
			Str("url", link.String()).
			Msg("Next page cancelled")
		return false
	}
	if err != nil {
		streamTruncationsTotal.Inc()
		s.logger.Error().
			Err(err).
			Str("url", link.String()).
			Int("pages_fetched", s.pages).
			Msg("Next page failed, ending stream")
		return false
	}
	pagesFetchedTotal.WithLabelValues("lazy").Inc()

	s.accept(page)
	return true
}

func (s *Stream[T]) accept(p Page[T]) {
	s.pages++
	s.buf = p.Data
	s.next = p.Next()
	if p.TotalCards != nil {
		total := *p.TotalCards
		s.total = &total
	}

	if p.Truncated() {
		streamTruncationsTotal.Inc()
		s.logger.Warn().
			Int("page", s.pages).
			Msg("Page reports more results but has no next page link")
	}
	logWarnings(s.logger, p.Warnings, s.pages)
}

func logWarnings(logger zerolog.Logger, warnings []string, page int) {
	for _, w := range warnings {
		logger.Warn().Str("warning", w).Int("page", page).Msg("API warning")
	}
}

// FetchAll eagerly fetches every page starting at link and returns all items
// in order. If any page fails, FetchAll returns the error and no items.
func FetchAll[T any](ctx context.Context, g uri.Getter, link uri.Link[Page[T]], opts ...Option) ([]T, error) {
	logger := newSettings(opts).logger
	start := time.Now()

	var items []T
	pages := 0
	for next := &link; next != nil; {
		page, err := next.Fetch(ctx, g)
		if err != nil {
			logger.Warn().
				Err(err).
				Str("url", next.String()).
				Int("pages_fetched", pages).
				Msg("Page fetch failed, discarding collected items")
			return nil, fmt.Errorf("fetch page %d: %w", pages+1, err)
		}
		pages++
		pagesFetchedTotal.WithLabelValues("eager").Inc()

		if items == nil && page.TotalCards != nil && *page.TotalCards > 0 {
			items = make([]T, 0, min(*page.TotalCards, maxPrealloc))
		}
		items = append(items, page.Data...)
		logWarnings(logger, page.Warnings, pages)

		if page.Truncated() {
			logger.Warn().
				Int("page", pages).
				Msg("Page reports more results but has no next page link")
		}

		if pages%progressEvery == 0 {
			logger.Info().
				Int("pages", pages).
				Int("items", len(items)).
				Msg("Fetch progress")
		}
		next = page.Next()
	}

	logger.Info().
		Str("url", link.String()).
		Int("pages", pages).
		Int("items", len(items)).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return items, nil
}
