// ABOUTME: Generic page-by-page driver for 1-based paginated listings
// ABOUTME: Stops at the first empty page and enforces a page-count safety cap
package upstream

import (
	"context"
	"fmt"
)

// DefaultMaxPages caps a single listing so an upstream that never returns
// an empty page fails the stage instead of looping forever.
const DefaultMaxPages = 1000

// PageFunc fetches one page. Pages are numbered from 1.
type PageFunc[T any] func(ctx context.Context, page int) ([]T, error)

type pageOptions struct {
	start    int
	maxPages int
	onPage   func(page, count int)
}

// PageOption tunes PageThrough.
type PageOption func(*pageOptions)

// StartPage sets the first page requested.
func StartPage(page int) PageOption {
	return func(o *pageOptions) {
		if page > 0 {
			o.start = page
		}
	}
}

// MaxPages sets the safety cap. Values below one keep the default.
func MaxPages(n int) PageOption {
	return func(o *pageOptions) {
		if n > 0 {
			o.maxPages = n
		}
	}
}

// OnPage registers a callback invoked after every non-empty page.
func OnPage(fn func(page, count int)) PageOption {
	return func(o *pageOptions) {
		o.onPage = fn
	}
}

// PageThrough calls fetch with increasing page numbers and concatenates the
// results in order, stopping at the first empty page. For k non-empty pages
// it issues exactly k+1 calls.
func PageThrough[T any](ctx context.Context, fetch PageFunc[T], opts ...PageOption) ([]T, error) {
	o := pageOptions{start: 1, maxPages: DefaultMaxPages}
	for _, opt := range opts {
		opt(&o)
	}

	var all []T
	for i := 0; ; i++ {
		if i >= o.maxPages {
			return all, fmt.Errorf("%w: no empty page after %d pages", ErrPageLimit, o.maxPages)
		}
		if err := ctx.Err(); err != nil {
			return all, err
		}

		page := o.start + i
		items, err := fetch(ctx, page)
		if err != nil {
			return all, fmt.Errorf("failed to fetch page %d: %w", page, err)
		}
		if len(items) == 0 {
			return all, nil
		}

		all = append(all, items...)
		if o.onPage != nil {
			o.onPage(page, len(items))
		}
	}
}
