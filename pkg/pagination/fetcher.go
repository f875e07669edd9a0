package pagination

import (
	"context"
)

// Page is one page of a list endpoint.
type Page[T any] struct {
	Items []T
	// Next is the absolute URL of the following page, empty on the last page.
	Next string
	// Total is the collection size reported by the backend.
	Total int
}

// Fetcher fetches a single page. A failed call is never retried here.
type Fetcher[T any] interface {
	FetchPage(ctx context.Context, url string) (Page[T], error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc[T any] func(ctx context.Context, url string) (Page[T], error)

// FetchPage calls f.
func (f FetcherFunc[T]) FetchPage(ctx context.Context, url string) (Page[T], error) {
	return f(ctx, url)
}

// Envelope is the list response body.
type Envelope[T any] struct {
	Count    int     `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  []T     `json:"results"`
}

// Page converts the envelope.
func (e Envelope[T]) Page() Page[T] {
	p := Page[T]{Items: e.Results, Total: e.Count}
	if e.Next != nil {
		p.Next = *e.Next
	}
	if p.Items == nil {
		p.Items = []T{}
	}
	return p
}

// JSONGetter is the part of the REST client the fetcher needs.
type JSONGetter interface {
	GetJSON(ctx context.Context, ref string, out any) error
}

// HTTPFetcher fetches pages through the REST client. Transport failures and
// non-2xx statuses surface as the client's network error.
type HTTPFetcher[T any] struct {
	client JSONGetter
}

// NewHTTPFetcher creates a fetcher for list endpoints returning T.
func NewHTTPFetcher[T any](client JSONGetter) *HTTPFetcher[T] {
	return &HTTPFetcher[T]{client: client}
}

// FetchPage fetches the page at url, which is either a path relative to the
// client's base URL or a cursor returned by a previous page.
func (f *HTTPFetcher[T]) FetchPage(ctx context.Context, url string) (Page[T], error) {
	var env Envelope[T]
	if err := f.client.GetJSON(ctx, url, &env); err != nil {
		return Page[T]{}, err
	}
	return env.Page(), nil
}
