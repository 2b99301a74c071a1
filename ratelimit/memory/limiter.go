package memorylimiter

import (
	"context"
	"sync"
	"time"

	"github.com/PaulFidika/jwkclient/jwkclient"
)

// Fetcher coalesces key-set fetches across every Client that shares it, so a
// rotation seen by many clients at once costs one upstream request per URI.
//
// A caller is only handed a document whose fetch began at or after the caller
// asked, which is never older than what its own fetch would have returned.
// Each Client keeps its own cache, staleness and retry cooldown.
type Fetcher struct {
	inner jwkclient.Fetcher
	now   func() time.Time

	mu      sync.Mutex
	sources map[string]*source
}

type source struct {
	inflight *call
	doc      *document
}

type call struct {
	startedAt time.Time
	done      chan struct{}
	err       error // set before done closes; nil when the leader was cancelled
}

type document struct {
	startedAt time.Time
	records   []jwkclient.KeyRecord
}

// New wraps inner. Wrap one fetcher and hand the result to every client that
// reads the same key sets.
func New(inner jwkclient.Fetcher) *Fetcher {
	return &Fetcher{inner: inner, now: time.Now, sources: make(map[string]*source)}
}

// FetchKeySet returns the records at uri. It joins a fetch already in flight
// when that fetch began no earlier than this call, and otherwise waits for it
// to finish before fetching itself. Failures are shared only with the callers
// that joined the failing fetch.
func (f *Fetcher) FetchKeySet(ctx context.Context, uri string) ([]jwkclient.KeyRecord, error) {
	start := f.now()
	for {
		f.mu.Lock()
		src := f.sources[uri]
		if src == nil {
			src = &source{}
			f.sources[uri] = src
		}
		if d := src.doc; d != nil && !d.startedAt.Before(start) {
			f.mu.Unlock()
			return clone(d.records), nil
		}
		c := src.inflight
		if c == nil {
			c = &call{startedAt: f.now(), done: make(chan struct{})}
			src.inflight = c
			f.mu.Unlock()
			return f.lead(ctx, uri, src, c)
		}
		f.mu.Unlock()

		select {
		case <-c.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if c.err != nil && !c.startedAt.Before(start) {
			return nil, c.err
		}
	}
}

func (f *Fetcher) lead(ctx context.Context, uri string, src *source, c *call) ([]jwkclient.KeyRecord, error) {
	records, err := f.inner.FetchKeySet(ctx, uri)

	f.mu.Lock()
	switch {
	case err == nil:
		if src.doc == nil || src.doc.startedAt.Before(c.startedAt) {
			src.doc = &document{startedAt: c.startedAt, records: clone(records)}
		}
	case ctx.Err() == nil:
		c.err = err
	}
	src.inflight = nil
	f.mu.Unlock()
	close(c.done)

	return records, err
}

func clone(records []jwkclient.KeyRecord) []jwkclient.KeyRecord {
	out := make([]jwkclient.KeyRecord, len(records))
	copy(out, records)
	return out
}
