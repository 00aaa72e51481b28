package browse

import (
	"fmt"
	"sync"
)

// Context is one open folder-viewing session (e.g. one tab). The ordered
// path list is a snapshot taken at creation and never mutated; the record
// map grows lazily as paths are resolved. A resolved path may map to a
// nil record, which is the terminal placeholder state for a corrupt or
// unavailable file, distinct from "never fetched".
//
// A Context is owned by exactly one tab. Forking a tab must go through
// Clone so the record map is deep-copied; sharing the map by reference
// would keep one tab's decoded resources alive after the other closes.
type Context struct {
	mu       sync.RWMutex
	paths    []string
	position map[string]int
	records  map[string]*Record
	retained map[string]struct{}
}

// NewContext creates a browsing context over a fixed ordered path list.
func NewContext(paths []string) (*Context, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("browsing context requires at least one path")
	}
	position := make(map[string]int, len(paths))
	for i, p := range paths {
		if _, dup := position[p]; dup {
			return nil, fmt.Errorf("duplicate path in listing: %s", p)
		}
		position[p] = i
	}
	snapshot := make([]string, len(paths))
	copy(snapshot, paths)
	return &Context{
		paths:    snapshot,
		position: position,
		records:  make(map[string]*Record),
		retained: make(map[string]struct{}),
	}, nil
}

// Len returns the number of paths in the context.
func (c *Context) Len() int {
	return len(c.paths)
}

// PathAt returns the path at position i.
func (c *Context) PathAt(i int) (string, bool) {
	if i < 0 || i >= len(c.paths) {
		return "", false
	}
	return c.paths[i], true
}

// PositionOf returns the position of a path within the ordered listing.
func (c *Context) PositionOf(path string) (int, bool) {
	i, ok := c.position[path]
	return i, ok
}

// Record returns the resolved record for a path. The second return value
// reports whether the path has been resolved at all; a (nil, true) result
// is the placeholder state for a corrupt or unavailable file.
func (c *Context) Record(path string) (*Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[path]
	return rec, ok
}

// SetRecord stores the resolution result for a path. A nil record marks
// the path as permanently unavailable for this context.
func (c *Context) SetRecord(path string, rec *Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[path] = rec
}

// Resolved reports whether a path has a resolution result (including the
// nil placeholder).
func (c *Context) Resolved(path string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.records[path]
	return ok
}

// MarkRetained records that this context introduced a decoded resource
// for path into the shared cache. Close uses the retained set to release
// cache references.
func (c *Context) MarkRetained(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retained[path] = struct{}{}
}

// UnmarkRetained forgets a retained path without touching the cache.
// Called when a fork discovers the source's resource was already
// evicted, so the clone never releases a reference it does not hold.
func (c *Context) UnmarkRetained(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.retained, path)
}

// Retained returns the paths whose cached resources this context holds a
// reference to.
func (c *Context) Retained() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	paths := make([]string, 0, len(c.retained))
	for p := range c.retained {
		paths = append(paths, p)
	}
	return paths
}

// Clone deep-copies the context for a forked tab. Records are value
// copies so neither context can observe the other's mutations; the
// retained set is copied so both contexts hold their own cache
// references.
func (c *Context) Clone() *Context {
	c.mu.RLock()
	defer c.mu.RUnlock()

	records := make(map[string]*Record, len(c.records))
	for path, rec := range c.records {
		if rec == nil {
			records[path] = nil
			continue
		}
		cp := *rec
		records[path] = &cp
	}
	retained := make(map[string]struct{}, len(c.retained))
	for p := range c.retained {
		retained[p] = struct{}{}
	}

	// paths and position are immutable after construction, safe to share.
	return &Context{
		paths:    c.paths,
		position: c.position,
		records:  records,
		retained: retained,
	}
}
