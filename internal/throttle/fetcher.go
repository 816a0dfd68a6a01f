package throttle

import (
	"context"

	"github.com/quantfeed/newswire/internal/newswire"
)

// Fetcher wraps a page fetcher so every call holds an admission slot for
// its full duration. Callers that need work between admission and fetch
// (the extraction workers) use Acquire directly instead.
type Fetcher struct {
	inner newswire.Fetcher
	gate  *Throttle
}

// NewFetcher wraps inner behind the given throttle.
func NewFetcher(inner newswire.Fetcher, gate *Throttle) *Fetcher {
	return &Fetcher{inner: inner, gate: gate}
}

// Fetch acquires a slot, delegates, and releases the slot when the fetch
// returns.
func (f *Fetcher) Fetch(ctx context.Context, url string) (newswire.FetchResult, error) {
	slot, err := f.gate.Acquire(ctx)
	if err != nil {
		return newswire.FetchResult{}, err
	}
	defer slot.Release()
	return f.inner.Fetch(ctx, url)
}
