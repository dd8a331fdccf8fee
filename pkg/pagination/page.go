package pagination

import (
	"github.com/Sternrassler/gatedfetch/pkg/uri"
)

// Page is one page of a list response.
type Page[T any] struct {
	Object string `json:"object,omitempty"`

	// Data holds this page's items in API order.
	Data []T `json:"data"`

	// HasMore is true when further pages exist.
	HasMore bool `json:"has_more"`

	// NextPage links to the following page, if any.
	NextPage *uri.Link[Page[T]] `json:"next_page,omitempty"`

	// TotalCards is the API's hint for the size of the whole list.
	TotalCards *int `json:"total_cards,omitempty"`

	Warnings []string `json:"warnings,omitempty"`
}

// Next returns the link to the following page, or nil on the last page.
func (p Page[T]) Next() *uri.Link[Page[T]] {
	if p.NextPage == nil || p.NextPage.IsZero() {
		return nil
	}
	next := *p.NextPage
	return &next
}

// Truncated reports a page that claims more items but carries no link to them.
func (p Page[T]) Truncated() bool {
	return p.HasMore && p.Next() == nil
}
