// Package cache implements the bounded cache of decoded image resources.
//
// Eviction is directional: when entries carry folder positions the victim
// is chosen by distance from the current position (doubled behind the
// direction of travel) plus an age term, and entries within a protection
// radius of the current position are never chosen. Entries without
// position information fall back to plain recency scoring.
package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/FRFlor/image-manager/internal/browse"
	"github.com/FRFlor/image-manager/internal/logging"
	"github.com/FRFlor/image-manager/internal/metrics"
)

// Probe reports host memory pressure. Consulted by the background sweep;
// a pressured probe triggers the last-resort full clear.
type Probe interface {
	UnderPressure() bool
}

// Config holds cache tuning. Zero values for MaxEntries, BehindPenalty,
// StaleAfter and SweepInterval select the documented defaults. A zero
// ProtectRadius is meaningful on its own and protects only the focused
// entry, so New never substitutes a default for it.
type Config struct {
	MaxEntries    int
	ProtectRadius int
	BehindPenalty float64
	StaleAfter    time.Duration
	SweepInterval time.Duration

	// Dispose releases a decoded resource. The cache never inspects
	// handles; it only sequences dispose calls.
	Dispose func(handle any)

	Probe Probe
}

type entry struct {
	path         string
	handle       any
	lastAccessed time.Time
	position     int
	hasPosition  bool
	refs         int
}

// Cache is the process-wide decoded-resource cache. Safe for concurrent
// use by multiple browsing contexts.
type Cache struct {
	cfg Config

	mu      sync.Mutex
	entries map[string]*entry
	focus   int
	hasFoc  bool
	dir     browse.Direction

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}

	now func() time.Time // test hook
}

// New creates a resource cache.
func New(cfg Config) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 100
	}
	if cfg.BehindPenalty <= 0 {
		cfg.BehindPenalty = 2.0
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	return &Cache{
		cfg:     cfg,
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// SetFocus informs the cache of the authoritative current position and
// direction of travel. Supplied by the navigation layer after each
// committed move.
func (c *Cache) SetFocus(position int, dir browse.Direction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.focus = position
	c.hasFoc = true
	c.dir = dir
}

// Get returns the cached decoded resource for a path, if resident.
func (c *Cache) Get(path string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[path]
	if !ok {
		metrics.RecordCacheMiss()
		return nil, false
	}
	e.lastAccessed = c.now()
	metrics.RecordCacheHit()
	return e.handle, true
}

// Contains reports residency without touching recency.
func (c *Cache) Contains(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[path]
	return ok
}

// Put inserts a decoded resource with a known folder position. If the
// insert would exceed the size bound, one victim is evicted first, so
// len(entries) <= MaxEntries holds after every insertion. The inserting
// context holds the initial reference.
func (c *Cache) Put(path string, handle any, position int) {
	c.put(path, handle, position, true)
}

// PutAnonymous inserts a resource with no position information; such
// entries only ever compete under the plain recency fallback.
func (c *Cache) PutAnonymous(path string, handle any) {
	c.put(path, handle, 0, false)
}

func (c *Cache) put(path string, handle any, position int, hasPos bool) {
	var evicted *entry
	c.mu.Lock()
	if old, ok := c.entries[path]; ok {
		// Replacement: dispose the superseded handle, keep references.
		if old.handle != nil && c.cfg.Dispose != nil && old.handle != handle {
			c.cfg.Dispose(old.handle)
		}
		old.handle = handle
		old.position = position
		old.hasPosition = hasPos
		old.lastAccessed = c.now()
		c.mu.Unlock()
		return
	}

	if len(c.entries) >= c.cfg.MaxEntries {
		evicted = c.evictOneLocked()
	}
	c.entries[path] = &entry{
		path:         path,
		handle:       handle,
		lastAccessed: c.now(),
		position:     position,
		hasPosition:  hasPos,
		refs:         1,
	}
	metrics.SetCacheEntries(len(c.entries))
	c.mu.Unlock()

	if evicted != nil {
		c.dispose(evicted)
	}
}

// Retain adds a context reference to a resident entry and reports
// whether the path was resident. Used when a forked context inherits
// its source's cached paths; a false return means the entry was
// evicted in the meantime and the caller must not count on it.
func (c *Cache) Retain(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[path]
	if !ok {
		return false
	}
	e.refs++
	return true
}

// Release drops one context reference. The resource is disposed only
// when no context references it anymore.
func (c *Cache) Release(path string) {
	c.mu.Lock()
	e, ok := c.entries[path]
	if !ok {
		c.mu.Unlock()
		return
	}
	e.refs--
	if e.refs > 0 {
		c.mu.Unlock()
		return
	}
	delete(c.entries, path)
	metrics.SetCacheEntries(len(c.entries))
	c.mu.Unlock()

	metrics.RecordCacheEviction("released")
	c.dispose(e)
}

// Remove evicts a path unconditionally.
func (c *Cache) Remove(path string) {
	c.mu.Lock()
	e, ok := c.entries[path]
	if ok {
		delete(c.entries, path)
		metrics.SetCacheEntries(len(c.entries))
	}
	c.mu.Unlock()
	if ok {
		metrics.RecordCacheEviction("removed")
		c.dispose(e)
	}
}

// Len returns the number of resident entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictOneLocked selects and removes the eviction victim. Caller holds
// c.mu and must dispose the returned entry after unlocking.
func (c *Cache) evictOneLocked() *entry {
	victim := c.selectVictimLocked()
	if victim == nil {
		return nil
	}
	delete(c.entries, victim.path)
	metrics.RecordCacheEviction("pressure")
	metrics.SetCacheEntries(len(c.entries))
	return victim
}

func (c *Cache) selectVictimLocked() *entry {
	if len(c.entries) == 0 {
		return nil
	}

	now := c.now()
	var best *entry
	var bestScore float64
	for _, e := range c.entries {
		if c.protectedLocked(e) {
			continue
		}
		score := c.scoreLocked(e, now)
		if best == nil || score > bestScore {
			best = e
			bestScore = score
		}
	}
	if best != nil {
		return best
	}

	// Every candidate sits inside the protection radius. The size bound
	// is an invariant, so fall back to the oldest entry overall.
	logging.Warn("cache: all entries protected, evicting oldest")
	for _, e := range c.entries {
		if best == nil || e.lastAccessed.Before(best.lastAccessed) {
			best = e
		}
	}
	return best
}

func (c *Cache) protectedLocked(e *entry) bool {
	if !e.hasPosition || !c.hasFoc {
		return false
	}
	return abs(e.position-c.focus) <= c.cfg.ProtectRadius
}

// scoreLocked computes evictability: higher is more evictable. Entries
// with positions score by distance from the current position, doubled
// behind the direction of travel, plus an age term. Entries without
// positions score by age alone, which degenerates to plain LRU when no
// entry carries a position.
func (c *Cache) scoreLocked(e *entry, now time.Time) float64 {
	age := now.Sub(e.lastAccessed).Seconds()
	if !e.hasPosition || !c.hasFoc {
		return age
	}
	dist := float64(abs(e.position - c.focus))
	behind := (c.dir == browse.DirForward && e.position < c.focus) ||
		(c.dir == browse.DirBackward && e.position > c.focus)
	if behind {
		dist *= c.cfg.BehindPenalty
	}
	return dist + age
}

// Clear disposes every entry. This is the last-resort memory-pressure
// path; calling it repeatedly is safe.
func (c *Cache) Clear() {
	c.mu.Lock()
	victims := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		victims = append(victims, e)
	}
	c.entries = make(map[string]*entry)
	metrics.SetCacheEntries(0)
	c.mu.Unlock()

	for _, e := range victims {
		metrics.RecordCacheEviction("cleared")
		c.dispose(e)
	}
	if len(victims) > 0 {
		logging.Info("cache cleared", zap.Int("disposed", len(victims)))
	}
}

// EvictIfPressured consults the memory probe and clears the cache when
// the host reports pressure. Idempotent.
func (c *Cache) EvictIfPressured() bool {
	if c.cfg.Probe == nil || !c.cfg.Probe.UnderPressure() {
		return false
	}
	c.Clear()
	return true
}

// StartSweep launches the background staleness sweep. The sweep removes
// entries untouched for longer than StaleAfter regardless of size
// pressure, and runs the pressure check each cycle.
func (c *Cache) StartSweep(ctx context.Context) {
	ctx, c.sweepCancel = context.WithCancel(ctx)
	c.sweepDone = make(chan struct{})
	go func() {
		defer close(c.sweepDone)
		ticker := time.NewTicker(c.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.sweepStale()
				c.EvictIfPressured()
			}
		}
	}()
}

// StopSweep stops the background sweep and waits for it to exit.
func (c *Cache) StopSweep() {
	if c.sweepCancel == nil {
		return
	}
	c.sweepCancel()
	<-c.sweepDone
	c.sweepCancel = nil
}

func (c *Cache) sweepStale() {
	cutoff := c.now().Add(-c.cfg.StaleAfter)

	c.mu.Lock()
	var victims []*entry
	for path, e := range c.entries {
		if e.lastAccessed.Before(cutoff) {
			delete(c.entries, path)
			victims = append(victims, e)
		}
	}
	if len(victims) > 0 {
		metrics.SetCacheEntries(len(c.entries))
	}
	c.mu.Unlock()

	for _, e := range victims {
		metrics.RecordCacheEviction("stale")
		c.dispose(e)
	}
	if len(victims) > 0 {
		logging.Debug("cache: swept stale entries", zap.Int("count", len(victims)))
	}
}

func (c *Cache) dispose(e *entry) {
	if e.handle != nil && c.cfg.Dispose != nil {
		c.cfg.Dispose(e.handle)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
