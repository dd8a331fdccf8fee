// Package uri holds typed links: absolute URLs annotated with the type their
// response body decodes into.
//
// Links appear inside API payloads (a list's next_page, for example) and are
// created by callers for entry points. Fetching a link goes through a gated
// client, so every fetch counts against the shared rate.
package uri

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/Sternrassler/gatedfetch/pkg/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var fetchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gatedfetch_fetch_errors_total",
	Help: "Total link fetch failures by error class",
}, []string{"class"})

// Getter performs a GET request. *client.Client implements it.
type Getter interface {
	Get(ctx context.Context, rawURL string) (*http.Response, error)
}

var _ Getter = (*client.Client)(nil)

// Link is an unresolved URL whose body decodes into T.
//
// Links are immutable and comparable; two links are equal when their URLs are.
type Link[T any] struct {
	url string
}

// Parse creates a link from an absolute URL.
func Parse[T any](raw string) (Link[T], error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Link[T]{}, fmt.Errorf("parse link %q: %w", raw, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return Link[T]{}, fmt.Errorf("parse link %q: not an absolute URL", raw)
	}
	return Link[T]{url: u.String()}, nil
}

// MustParse is like Parse but panics on error.
func MustParse[T any](raw string) Link[T] {
	l, err := Parse[T](raw)
	if err != nil {
		panic(err)
	}
	return l
}

// FromURL creates a link from u.
func FromURL[T any](u *url.URL) Link[T] {
	return Link[T]{url: u.String()}
}

// String returns the URL.
func (l Link[T]) String() string {
	return l.url
}

// URL returns a parsed copy of the URL.
func (l Link[T]) URL() *url.URL {
	u, _ := url.Parse(l.url)
	return u
}

// IsZero reports whether the link is empty.
func (l Link[T]) IsZero() bool {
	return l.url == ""
}

// MarshalJSON encodes the link as a JSON string.
func (l Link[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.url)
}

// UnmarshalJSON decodes a JSON string holding an absolute URL. An empty
// string decodes to the zero link.
func (l *Link[T]) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == "" {
		*l = Link[T]{}
		return nil
	}
	parsed, err := Parse[T](raw)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Fetch requests the link through g and decodes the body into T.
//
// Status 2xx decodes into T. Status 4xx decodes into an API error payload and
// returns *client.APIError. Any other status or a network failure returns
// *client.TransportError. Bodies that do not decode return *client.DecodeError.
// Fetch never retries.
func (l Link[T]) Fetch(ctx context.Context, g Getter) (T, error) {
	var zero T

	v, err := l.fetch(ctx, g)
	if err != nil {
		fetchErrorsTotal.WithLabelValues(string(client.Classify(err))).Inc()
		return zero, err
	}
	return v, nil
}

func (l Link[T]) fetch(ctx context.Context, g Getter) (T, error) {
	var zero T

	resp, err := g.Get(ctx, l.url)
	if err != nil {
		if client.Classify(err) == client.ErrorClassTransport {
			return zero, err
		}
		return zero, &client.TransportError{URL: l.url, Err: err}
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		var v T
		if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
			return zero, &client.DecodeError{URL: l.url, StatusCode: resp.StatusCode, Err: err}
		}
		return v, nil

	case resp.StatusCode >= 400 && resp.StatusCode <= 499:
		var payload client.APIErrorPayload
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return zero, &client.DecodeError{URL: l.url, StatusCode: resp.StatusCode, Err: err}
		}
		return zero, &client.APIError{StatusCode: resp.StatusCode, URL: l.url, Payload: payload}

	default:
		return zero, &client.TransportError{URL: l.url, StatusCode: resp.StatusCode, Status: resp.Status}
	}
}
