// Package pagination walks multi-page list responses.
//
// A list payload carries one page of items plus a link to the next page:
//
//	{"object":"list","data":[...],"has_more":true,"next_page":"https://...","total_cards":412}
//
// Two ways to consume a list:
//
//	// Lazy: later pages are requested only once earlier ones are drained.
//	stream, err := pagination.FetchIter[Card](ctx, apiClient, link)
//	if err != nil {
//		return err // the first page failed
//	}
//	for card := range stream.All(ctx) {
//		fmt.Println(card.Name)
//	}
//
//	// Eager: every page is fetched up front; any failure aborts the lot.
//	cards, err := pagination.FetchAll[Card](ctx, apiClient, link)
//
// The two modes treat a failing later page differently. FetchAll returns the
// error and no items. A Stream logs the failure once and then ends, since
// next-page links come from the API itself and are not expected to break.
package pagination
