package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/FRFlor/image-manager/internal/browse"
	"github.com/FRFlor/image-manager/internal/memprobe"
)

// fakeClock makes age terms deterministic.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1000, 0)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type disposeRecorder struct {
	mu       sync.Mutex
	disposed []string
}

func (d *disposeRecorder) dispose(h any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disposed = append(d.disposed, h.(string))
}

func (d *disposeRecorder) list() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.disposed...)
}

func newTestCache(maxEntries, radius int, rec *disposeRecorder) (*Cache, *fakeClock) {
	clock := newFakeClock()
	cfg := Config{
		MaxEntries:    maxEntries,
		ProtectRadius: radius,
		BehindPenalty: 2.0,
		StaleAfter:    time.Hour,
	}
	if rec != nil {
		cfg.Dispose = rec.dispose
	}
	c := New(cfg)
	c.now = clock.now
	return c, clock
}

func TestBoundHoldsAfterEveryInsert(t *testing.T) {
	c, clock := newTestCache(3, 0, nil)
	for i := 0; i < 10; i++ {
		c.Put(pathFor(i), pathFor(i), i)
		clock.advance(time.Second)
		if c.Len() > 3 {
			t.Fatalf("cache grew to %d entries, bound is 3", c.Len())
		}
	}
	if c.Len() != 3 {
		t.Fatalf("expected 3 entries after fill, got %d", c.Len())
	}
}

func TestProtectionRadiusNeverEvicted(t *testing.T) {
	c, clock := newTestCache(3, 2, nil)
	c.SetFocus(11, browse.DirForward)

	// Position 10 is the oldest entry but sits within the protection
	// radius of the focus.
	c.Put("old", "old", 10)
	clock.advance(time.Hour)
	c.Put("far", "far", 40)
	clock.advance(time.Second)
	c.Put("mid", "mid", 12)
	clock.advance(time.Second)

	c.Put("new", "new", 50)
	if !c.Contains("old") {
		t.Fatal("protected entry was evicted despite being in the radius")
	}
	if c.Contains("far") {
		t.Fatal("expected the distant unprotected entry to be the victim")
	}
}

func TestDirectionalScoringPrefersBehind(t *testing.T) {
	c, clock := newTestCache(2, 0, nil)
	c.SetFocus(20, browse.DirForward)

	// Same distance and age; the entry behind the direction of travel
	// scores double and must lose.
	c.Put("behind", "behind", 15)
	c.Put("ahead", "ahead", 25)
	clock.advance(time.Second)

	c.Put("new", "new", 21)
	if c.Contains("behind") {
		t.Fatal("expected the behind-travel entry to be evicted first")
	}
	if !c.Contains("ahead") {
		t.Fatal("ahead-of-travel entry should have survived")
	}
}

func TestAnonymousFallbackIsPlainLRU(t *testing.T) {
	c, clock := newTestCache(2, 0, nil)

	c.PutAnonymous("oldest", "oldest")
	clock.advance(time.Minute)
	c.PutAnonymous("newer", "newer")
	clock.advance(time.Minute)

	c.PutAnonymous("newest", "newest")
	if c.Contains("oldest") {
		t.Fatal("plain LRU fallback should evict the oldest entry")
	}
	if !c.Contains("newer") || !c.Contains("newest") {
		t.Fatal("newer entries should survive")
	}
}

func TestEvictionScenarioAroundFocus(t *testing.T) {
	// maxCacheSize=3, positions [10,11,12], then position 50 with the
	// focus at 11: 11 is protected, and with radius 0 the unprotected
	// candidates lose on distance plus age.
	c, clock := newTestCache(3, 0, nil)
	c.SetFocus(11, browse.DirUnknown)

	c.Put("p10", "p10", 10)
	clock.advance(time.Second)
	c.Put("p11", "p11", 11)
	clock.advance(time.Second)
	c.Put("p12", "p12", 12)
	clock.advance(time.Second)

	c.Put("p50", "p50", 50)

	if !c.Contains("p11") {
		t.Fatal("the focused position must never be evicted")
	}
	if c.Contains("p10") {
		t.Fatal("expected p10 (same distance as p12 but older) to be the victim")
	}
	if !c.Contains("p12") || !c.Contains("p50") {
		t.Fatal("p12 and the new insert should be resident")
	}
}

func TestGetRefreshesRecency(t *testing.T) {
	c, clock := newTestCache(2, 0, nil)

	c.PutAnonymous("a", "a")
	clock.advance(time.Minute)
	c.PutAnonymous("b", "b")
	clock.advance(time.Minute)

	// Touch a so b becomes the oldest.
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected a to be resident")
	}
	clock.advance(time.Second)

	c.PutAnonymous("c", "c")
	if !c.Contains("a") {
		t.Fatal("recently read entry should survive")
	}
	if c.Contains("b") {
		t.Fatal("stale entry should have been evicted")
	}
}

func TestReplacementDisposesOldHandle(t *testing.T) {
	rec := &disposeRecorder{}
	c, _ := newTestCache(3, 0, rec)

	c.Put("a", "first", 1)
	c.Put("a", "second", 1)
	if c.Len() != 1 {
		t.Fatalf("replacement should not grow the cache, got %d", c.Len())
	}
	if got := rec.list(); len(got) != 1 || got[0] != "first" {
		t.Fatalf("expected the first handle disposed, got %v", got)
	}
}

func TestRefcountAcrossContexts(t *testing.T) {
	rec := &disposeRecorder{}
	c, _ := newTestCache(3, 0, rec)

	c.Put("shared", "shared", 1)
	c.Retain("shared") // second tab

	c.Release("shared")
	if !c.Contains("shared") {
		t.Fatal("entry still referenced by another context was disposed")
	}
	c.Release("shared")
	if c.Contains("shared") {
		t.Fatal("entry should be gone once the last reference is released")
	}
	if got := rec.list(); len(got) != 1 || got[0] != "shared" {
		t.Fatalf("expected exactly one disposal, got %v", got)
	}
}

func TestRetainReportsResidency(t *testing.T) {
	rec := &disposeRecorder{}
	c, clock := newTestCache(1, 0, rec)

	c.Put("a", "a1", 1)
	if !c.Retain("a") {
		t.Fatal("Retain must report true for a resident entry")
	}
	c.Release("a")

	clock.advance(time.Second)
	c.Put("b", "b1", 2) // evicts a

	// The eviction must be visible to callers tracking references:
	// retaining an evicted path is a no-op and must say so, otherwise
	// a later re-insert (refs back to 1) would be disposed out from
	// under the caller that believes it still holds a reference.
	if c.Retain("a") {
		t.Fatal("Retain must report false for an evicted entry")
	}

	clock.advance(time.Second)
	c.Put("a", "a2", 1) // evicts b, fresh entry with a single reference
	c.Release("a")
	if c.Contains("a") {
		t.Fatal("single release of the re-inserted entry must dispose it")
	}
	want := []string{"a1", "b1", "a2"}
	got := rec.list()
	if len(got) != len(want) {
		t.Fatalf("expected disposals %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected disposals %v, got %v", want, got)
		}
	}
}

func TestClearIsIdempotent(t *testing.T) {
	rec := &disposeRecorder{}
	c, _ := newTestCache(3, 0, rec)

	c.Put("a", "a", 1)
	c.Put("b", "b", 2)
	c.Clear()
	c.Clear()

	if c.Len() != 0 {
		t.Fatalf("expected empty cache, got %d entries", c.Len())
	}
	if got := rec.list(); len(got) != 2 {
		t.Fatalf("expected 2 disposals, got %v", got)
	}
}

func TestEvictIfPressured(t *testing.T) {
	rec := &disposeRecorder{}
	clock := newFakeClock()
	pressured := false
	c := New(Config{
		MaxEntries: 3,
		Dispose:    rec.dispose,
		Probe:      memprobe.Func(func() bool { return pressured }),
	})
	c.now = clock.now

	c.Put("a", "a", 1)
	if c.EvictIfPressured() {
		t.Fatal("no pressure reported, cache should be untouched")
	}
	pressured = true
	if !c.EvictIfPressured() {
		t.Fatal("expected the pressure clear to run")
	}
	if c.Len() != 0 {
		t.Fatal("pressure clear should empty the cache")
	}
	// Repeated calls are safe.
	if !c.EvictIfPressured() {
		t.Fatal("pressure clear must be idempotent")
	}
}

func TestSweepRemovesStaleEntries(t *testing.T) {
	rec := &disposeRecorder{}
	clock := newFakeClock()
	c := New(Config{
		MaxEntries: 10,
		StaleAfter: time.Minute,
		Dispose:    rec.dispose,
	})
	c.now = clock.now

	c.Put("stale", "stale", 1)
	clock.advance(2 * time.Minute)
	c.Put("fresh", "fresh", 2)

	c.sweepStale()
	if c.Contains("stale") {
		t.Fatal("stale entry should have been swept")
	}
	if !c.Contains("fresh") {
		t.Fatal("fresh entry should survive the sweep")
	}
}

func pathFor(i int) string {
	return string(rune('a' + i))
}
