// ABOUTME: Forward-only pagination over listing endpoints
// ABOUTME: Follows next links lazily and exposes pages as iter.Seq2 sequences

package koodous

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"net/url"
)

// pager walks a paginated listing by following next links.
// It cannot seek backward; a fresh pager restarts from the first page.
type pager[T any] struct {
	client    *Client
	operation string
	sha256    string

	next  string
	query url.Values
	seen  map[string]struct{}
	done  bool

	// err is reported by the call after the page that detected it.
	err error
}

func newPager[T any](c *Client, operation, path string, query url.Values) *pager[T] {
	return &pager[T]{
		client:    c,
		operation: operation,
		next:      path,
		query:     query,
		seen:      make(map[string]struct{}),
	}
}

// Next fetches the following page. It returns ok=false once the service
// signals exhaustion or returns an empty page.
func (p *pager[T]) Next(ctx context.Context) (items []T, ok bool, err error) {
	if p.done {
		err, p.err = p.err, nil
		return nil, false, err
	}

	current := p.next
	var pg page[T]
	err = p.client.doJSON(ctx, request{
		operation: p.operation,
		method:    http.MethodGet,
		ref:       current,
		query:     p.query,
		sha256:    p.sha256,
	}, &pg)
	if err != nil {
		p.done = true
		return nil, false, err
	}

	// Next links already carry the query string.
	p.query = nil
	p.seen[current] = struct{}{}
	p.next = pg.Next

	if pg.Next == "" {
		p.done = true
	} else if _, loop := p.seen[pg.Next]; loop {
		p.done = true
		p.err = fmt.Errorf("%s: pagination loop at %s", p.operation, pg.Next)
	}

	if len(pg.Results) == 0 {
		p.done = true
		err, p.err = p.err, nil
		return nil, false, err
	}

	return pg.Results, true, nil
}

// All yields pages until exhaustion, the first error, or the consumer stops.
func (p *pager[T]) All(ctx context.Context) iter.Seq2[[]T, error] {
	return func(yield func([]T, error) bool) {
		for {
			items, ok, err := p.Next(ctx)
			if err != nil {
				yield(nil, err)
				return
			}
			if !ok {
				return
			}
			if !yield(items, nil) {
				return
			}
		}
	}
}

// collect gathers items across pages. limit <= 0 means every page.
func (p *pager[T]) collect(ctx context.Context, limit int) ([]T, error) {
	out := make([]T, 0)
	for items, err := range p.All(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
		if limit > 0 && len(out) >= limit {
			return out[:limit], nil
		}
	}
	return out, nil
}
