package viewer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/FRFlor/image-manager/internal/browse"
	"github.com/FRFlor/image-manager/internal/config"
	"github.com/FRFlor/image-manager/internal/events"
	"github.com/FRFlor/image-manager/internal/preload"
)

// stubFetcher serves records from a fixed table; paths absent from the
// table resolve as nil placeholders.
type stubFetcher struct {
	mu      sync.Mutex
	records map[string]*browse.Record
}

func (f *stubFetcher) FetchOne(ctx context.Context, path string) (*browse.Record, error) {
	recs, err := f.FetchMany(ctx, []string{path})
	if err != nil {
		return nil, err
	}
	return recs[0], nil
}

func (f *stubFetcher) FetchMany(ctx context.Context, paths []string) ([]*browse.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*browse.Record, len(paths))
	for i, p := range paths {
		out[i] = f.records[p]
	}
	return out, nil
}

type testHarness struct {
	cfg     *config.Config
	svc     *CacheService
	session *Session
	fetcher *stubFetcher
	bus     *events.Broadcaster
	events  chan events.Event
}

func newHarness(t *testing.T, n int) *testHarness {
	t.Helper()
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg.BatchWindow = 5 * time.Millisecond
	cfg.PreloadBaseRange = 2

	paths := make([]string, n)
	records := make(map[string]*browse.Record, n)
	for i := range paths {
		p := fmt.Sprintf("/photos/%02d.jpg", i)
		paths[i] = p
		records[p] = &browse.Record{Path: p, DisplayName: p, Width: 100, Height: 100}
	}
	bc, err := browse.NewContext(paths)
	if err != nil {
		t.Fatalf("context: %v", err)
	}

	fetcher := &stubFetcher{records: records}
	svc := NewCacheService(cfg, nil, nil, nil)
	bus := events.NewBroadcaster()
	ch := bus.Subscribe()

	decode := func(ctx context.Context, rec *browse.Record) (any, error) {
		return "decoded:" + rec.Path, nil
	}
	session := NewSession(cfg, svc, bc, fetcher, decode, bus)

	t.Cleanup(func() {
		session.Close()
		svc.Close()
	})
	return &testHarness{cfg: cfg, svc: svc, session: session, fetcher: fetcher, bus: bus, events: ch}
}

func (h *testHarness) waitEvent(t *testing.T) events.Event {
	t.Helper()
	select {
	case e := <-h.events:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a session event")
		return events.Event{}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestSessionNavigateAndDecode(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()

	h.session.Next(ctx)
	e := h.waitEvent(t)
	if e.Type != events.EventNavigated || e.Index != 0 {
		t.Fatalf("expected navigated event for index 0, got %+v", e)
	}

	index, rec, _ := h.session.Current()
	if index != 0 || rec == nil || rec.Path != "/photos/00.jpg" {
		t.Fatalf("wrong current state: index=%d rec=%+v", index, rec)
	}

	// The displayed resource is decoded asynchronously and lands in the
	// shared cache.
	waitFor(t, "current resource decode", func() bool {
		return h.svc.Cache.Contains("/photos/00.jpg")
	})
	_, _, handle := h.session.Current()
	if handle != "decoded:/photos/00.jpg" {
		t.Fatalf("wrong decoded handle: %v", handle)
	}
}

func TestSessionPreloadsNeighbors(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()

	h.session.Next(ctx)
	h.waitEvent(t)

	// The symmetric base range around index 0 covers the two neighbors on
	// each side; all of them end up resolved and decoded.
	waitFor(t, "neighbor prefetch", func() bool {
		return h.svc.Cache.Contains("/photos/01.jpg") &&
			h.svc.Cache.Contains("/photos/02.jpg") &&
			h.svc.Cache.Contains("/photos/09.jpg")
	})
	if !h.session.Context().Resolved("/photos/01.jpg") {
		t.Fatal("prefetched neighbor should be resolved in the context")
	}
}

func TestSessionPlaceholderStillAdvances(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()

	// Remove one record so its path resolves to the nil placeholder.
	h.fetcher.mu.Lock()
	delete(h.fetcher.records, "/photos/00.jpg")
	h.fetcher.mu.Unlock()

	h.session.Next(ctx)
	e := h.waitEvent(t)
	if e.Type != events.EventPlaceholder || e.Index != 0 {
		t.Fatalf("expected placeholder event for index 0, got %+v", e)
	}

	index, rec, handle := h.session.Current()
	if index != 0 {
		t.Fatalf("navigation should advance onto the placeholder, index=%d", index)
	}
	if rec != nil || handle != nil {
		t.Fatalf("placeholder state should have no record or resource, rec=%+v handle=%v", rec, handle)
	}

	// The placeholder is terminal for this context.
	if rec, ok := h.session.Context().Record("/photos/00.jpg"); !ok || rec != nil {
		t.Fatal("placeholder resolution should be recorded as terminal nil")
	}
}

func TestSessionForkSharesCacheSafely(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()

	h.session.Next(ctx)
	h.waitEvent(t)
	waitFor(t, "decode", func() bool {
		if !h.svc.Cache.Contains("/photos/00.jpg") {
			return false
		}
		for _, p := range h.session.Context().Retained() {
			if p == "/photos/00.jpg" {
				return true
			}
		}
		return false
	})

	fork := h.session.Fork(h.cfg, h.fetcher)

	// Closing the original must not pull the resource out from under the
	// fork, which holds its own reference.
	h.session.Close()
	if !h.svc.Cache.Contains("/photos/00.jpg") {
		t.Fatal("forked session's resource was disposed by the source's close")
	}

	fork.Close()
	waitFor(t, "resource release", func() bool {
		return !h.svc.Cache.Contains("/photos/00.jpg")
	})
}

func TestSessionForkSkipsEvictedResources(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()

	h.session.Next(ctx)
	h.waitEvent(t)
	waitFor(t, "decode and retain", func() bool {
		if !h.svc.Cache.Contains("/photos/00.jpg") {
			return false
		}
		for _, p := range h.session.Context().Retained() {
			if p == "/photos/00.jpg" {
				return true
			}
		}
		return false
	})

	// Evict the resource while the source still remembers retaining it.
	h.svc.Cache.Remove("/photos/00.jpg")

	fork := h.session.Fork(h.cfg, h.fetcher)

	// The source re-decodes the image, creating a fresh cache entry that
	// only the source references.
	h.session.JumpTo(ctx, 0)
	h.waitEvent(t)
	waitFor(t, "re-decode", func() bool {
		return h.svc.Cache.Contains("/photos/00.jpg")
	})

	// The fork never acquired a reference to the evicted entry, so its
	// close must not dispose the source's fresh one.
	fork.Close()
	if !h.svc.Cache.Contains("/photos/00.jpg") {
		t.Fatal("fork's close disposed a resource it never referenced")
	}

	h.session.Close()
	if h.svc.Cache.Contains("/photos/00.jpg") {
		t.Fatal("source's close should release its own reference")
	}
}

func TestPreloadOrderPrefersPlanDirection(t *testing.T) {
	plan := preload.Plan{Forward: 4, Backward: 1, Dir: browse.DirForward}
	if got := preloadOrder(plan, browse.DirBackward); got != browse.DirForward {
		t.Fatalf("plan direction should win over the move direction, got %v", got)
	}

	plan = preload.Plan{Forward: 2, Backward: 2, Dir: browse.DirUnknown}
	if got := preloadOrder(plan, browse.DirBackward); got != browse.DirBackward {
		t.Fatalf("move direction should break the tie, got %v", got)
	}
}

func TestSessionCloseIdempotent(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()

	h.session.Next(ctx)
	h.waitEvent(t)
	waitFor(t, "decode and retain", func() bool {
		if !h.svc.Cache.Contains("/photos/00.jpg") {
			return false
		}
		for _, p := range h.session.Context().Retained() {
			if p == "/photos/00.jpg" {
				return true
			}
		}
		return false
	})

	h.session.Close()
	h.session.Close()
	if h.svc.Cache.Contains("/photos/00.jpg") {
		t.Fatal("close should release the session's cache references")
	}
}
