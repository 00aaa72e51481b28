// Package loader implements the deduplicating, batching metadata loader.
//
// Single-path loads arriving within a short coalescing window are merged
// into one batched fetch against the host collaborator; a load for a path
// that is already in flight joins the pending result instead of issuing
// duplicate work. A nil record is the terminal "unavailable or corrupt"
// resolution: callers must treat it as a placeholder, not as retry-later.
package loader

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/FRFlor/image-manager/internal/browse"
	"github.com/FRFlor/image-manager/internal/logging"
	"github.com/FRFlor/image-manager/internal/metrics"
)

// ErrCancelled is returned to waiters rejected by CancelPending, used
// when a browsing context is abandoned mid-flight.
var ErrCancelled = errors.New("load cancelled")

// Fetcher is the host metadata collaborator. FetchMany must preserve
// input order in its result slice; a per-path failure is a nil slot, and
// must not fail the whole call.
type Fetcher interface {
	FetchOne(ctx context.Context, path string) (*browse.Record, error)
	FetchMany(ctx context.Context, paths []string) ([]*browse.Record, error)
}

// Config holds loader tuning.
type Config struct {
	// Window is the coalescing debounce: loads for distinct paths
	// arriving within it are merged into one batched fetch.
	Window time.Duration

	// MaxBatch dispatches the pending batch immediately once reached.
	MaxBatch int
}

type call struct {
	done chan struct{}
	rec  *browse.Record
	err  error
}

func (c *call) resolve(rec *browse.Record, err error) {
	c.rec = rec
	c.err = err
	close(c.done)
}

// Loader coalesces and deduplicates metadata fetches.
type Loader struct {
	cfg     Config
	fetcher Fetcher

	mu       sync.Mutex
	inflight map[string]*call // every undispatched or dispatched pending path
	pending  []string         // paths awaiting dispatch
	timer    *time.Timer
}

// New creates a loader. Zero config values select defaults.
func New(fetcher Fetcher, cfg Config) *Loader {
	if cfg.Window <= 0 {
		cfg.Window = 25 * time.Millisecond
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 8
	}
	return &Loader{
		cfg:      cfg,
		fetcher:  fetcher,
		inflight: make(map[string]*call),
	}
}

// Load resolves the record for one path, coalescing with concurrent
// loads. Returns (nil, nil) for an unavailable or corrupt file.
func (l *Loader) Load(ctx context.Context, path string) (*browse.Record, error) {
	c := l.enroll(path)
	select {
	case <-c.done:
		return c.rec, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// LoadBatch resolves several paths at once, returning a map with one
// entry per requested path (nil values for unavailable paths).
func (l *Loader) LoadBatch(ctx context.Context, paths []string) (map[string]*browse.Record, error) {
	calls := make(map[string]*call, len(paths))
	for _, p := range paths {
		if _, ok := calls[p]; !ok {
			calls[p] = l.enroll(p)
		}
	}
	out := make(map[string]*browse.Record, len(calls))
	for p, c := range calls {
		select {
		case <-c.done:
			if c.err != nil && !errors.Is(c.err, ErrCancelled) {
				return nil, c.err
			}
			out[p] = c.rec
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return out, nil
}

// enroll joins an in-flight call for path, or adds the path to the
// coalescing batch, arming the dispatch timer as needed.
func (l *Loader) enroll(path string) *call {
	l.mu.Lock()
	defer l.mu.Unlock()

	if c, ok := l.inflight[path]; ok {
		metrics.RecordLoaderDedupHit()
		return c
	}

	c := &call{done: make(chan struct{})}
	l.inflight[path] = c
	l.pending = append(l.pending, path)

	if len(l.pending) >= l.cfg.MaxBatch {
		l.dispatchLocked()
		return c
	}
	if l.timer == nil {
		l.timer = time.AfterFunc(l.cfg.Window, l.flush)
	}
	return c
}

// flush is the timer callback: dispatch whatever has accumulated.
func (l *Loader) flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timer = nil
	if len(l.pending) > 0 {
		l.dispatchLocked()
	}
}

// dispatchLocked hands the pending batch to the fetcher on its own
// goroutine and resets the window.
func (l *Loader) dispatchLocked() {
	batch := l.pending
	l.pending = nil
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}

	calls := make([]*call, len(batch))
	for i, p := range batch {
		calls[i] = l.inflight[p]
	}
	metrics.RecordLoaderBatch(len(batch))

	go l.execute(batch, calls)
}

func (l *Loader) execute(batch []string, calls []*call) {
	recs, err := l.fetcher.FetchMany(context.Background(), batch)

	l.mu.Lock()
	for _, p := range batch {
		delete(l.inflight, p)
	}
	l.mu.Unlock()

	if err != nil || len(recs) != len(batch) {
		// Whole-batch failure degrades to per-path nil resolutions
		// rather than retrying indefinitely.
		if err != nil {
			logging.Warn("loader: batch fetch failed", zap.Int("paths", len(batch)), zap.Error(err))
		}
		for range batch {
			metrics.RecordLoaderFailure("batch")
		}
		for _, c := range calls {
			c.resolve(nil, nil)
		}
		return
	}

	for i, c := range calls {
		if recs[i] == nil {
			metrics.RecordLoaderFailure("path")
		}
		c.resolve(recs[i], nil)
	}
}

// CancelPending rejects every waiter whose batch has not been dispatched
// yet and clears the coalescing state. In-flight batches are unaffected.
func (l *Loader) CancelPending() {
	l.mu.Lock()
	pending := l.pending
	l.pending = nil
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	calls := make([]*call, 0, len(pending))
	for _, p := range pending {
		if c, ok := l.inflight[p]; ok {
			calls = append(calls, c)
			delete(l.inflight, p)
		}
	}
	l.mu.Unlock()

	for _, c := range calls {
		c.resolve(nil, ErrCancelled)
	}
}
