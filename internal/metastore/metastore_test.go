package metastore

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T, maxEntries int) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "metadata.db"), maxEntries)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSetGetRoundTrip(t *testing.T) {
	s := openTestStore(t, 100)
	ctx := context.Background()

	in := Entry{
		FilePath:     "/photos/a.jpg",
		LastModified: 1111,
		Width:        1920,
		Height:       1080,
		FileSize:     2048,
	}
	if err := s.Set(ctx, in); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, ok, err := s.Get(ctx, "/photos/a.jpg", 1111)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatal("expected a cache hit")
	}
	if got.Width != 1920 || got.Height != 1080 || got.FileSize != 2048 {
		t.Fatalf("wrong entry returned: %+v", got)
	}
}

func TestGetMissingPath(t *testing.T) {
	s := openTestStore(t, 100)

	_, ok, err := s.Get(context.Background(), "/nowhere.jpg", 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatal("expected a miss for an unknown path")
	}
}

func TestStaleModTimeInvalidates(t *testing.T) {
	s := openTestStore(t, 100)
	ctx := context.Background()

	if err := s.Set(ctx, Entry{FilePath: "/photos/a.jpg", LastModified: 1111, Width: 100, Height: 100}); err != nil {
		t.Fatalf("set: %v", err)
	}

	// The file changed on disk; the cached row is invalid and dropped.
	if _, ok, err := s.Get(ctx, "/photos/a.jpg", 2222); err != nil || ok {
		t.Fatalf("changed mtime should miss, ok=%v err=%v", ok, err)
	}
	// Even asking with the original mtime misses now: the row is gone.
	if _, ok, err := s.Get(ctx, "/photos/a.jpg", 1111); err != nil || ok {
		t.Fatalf("stale row should have been deleted, ok=%v err=%v", ok, err)
	}
}

func TestSetOverwritesExisting(t *testing.T) {
	s := openTestStore(t, 100)
	ctx := context.Background()

	if err := s.Set(ctx, Entry{FilePath: "/photos/a.jpg", LastModified: 1, Width: 10, Height: 10}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(ctx, Entry{FilePath: "/photos/a.jpg", LastModified: 2, Width: 20, Height: 20}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	got, ok, err := s.Get(ctx, "/photos/a.jpg", 2)
	if err != nil || !ok {
		t.Fatalf("get after overwrite: ok=%v err=%v", ok, err)
	}
	if got.Width != 20 {
		t.Fatalf("expected updated width 20, got %d", got.Width)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.EntryCount != 1 {
		t.Fatalf("overwrite should not add a row, got %d", stats.EntryCount)
	}
}

func TestEvictionKeepsRecentlyAccessed(t *testing.T) {
	s := openTestStore(t, 2)
	ctx := context.Background()

	// A fixed clock makes the access ordering explicit.
	clock := int64(1000)
	s.now = func() int64 { clock++; return clock }

	for _, p := range []string{"/a.jpg", "/b.jpg"} {
		if err := s.Set(ctx, Entry{FilePath: p, LastModified: 1, Width: 1, Height: 1}); err != nil {
			t.Fatalf("set %s: %v", p, err)
		}
	}
	// Touch /a.jpg so /b.jpg is the least recently accessed.
	if _, ok, err := s.Get(ctx, "/a.jpg", 1); err != nil || !ok {
		t.Fatalf("touch: ok=%v err=%v", ok, err)
	}

	if err := s.Set(ctx, Entry{FilePath: "/c.jpg", LastModified: 1, Width: 1, Height: 1}); err != nil {
		t.Fatalf("set /c.jpg: %v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.EntryCount != 2 {
		t.Fatalf("cap is 2, got %d rows", stats.EntryCount)
	}
	if _, ok, _ := s.Get(ctx, "/b.jpg", 1); ok {
		t.Fatal("least recently accessed row should have been evicted")
	}
	if _, ok, _ := s.Get(ctx, "/a.jpg", 1); !ok {
		t.Fatal("recently accessed row should survive")
	}
}

func TestUnboundedWhenNoCap(t *testing.T) {
	s := openTestStore(t, 0)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		e := Entry{FilePath: filepath.Join("/photos", string(rune('a'+i))+".jpg"), LastModified: 1, Width: 1, Height: 1}
		if err := s.Set(ctx, e); err != nil {
			t.Fatalf("set: %v", err)
		}
	}
	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.EntryCount != 10 {
		t.Fatalf("no cap should keep all rows, got %d", stats.EntryCount)
	}
}

func TestListOrdersByAccess(t *testing.T) {
	s := openTestStore(t, 100)
	ctx := context.Background()

	clock := int64(1000)
	s.now = func() int64 { clock++; return clock }

	for _, p := range []string{"/first.jpg", "/second.jpg", "/third.jpg"} {
		if err := s.Set(ctx, Entry{FilePath: p, LastModified: 1, Width: 1, Height: 1}); err != nil {
			t.Fatalf("set %s: %v", p, err)
		}
	}
	if _, ok, err := s.Get(ctx, "/first.jpg", 1); err != nil || !ok {
		t.Fatalf("touch: ok=%v err=%v", ok, err)
	}

	entries, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(entries))
	}
	if entries[0].FilePath != "/second.jpg" || entries[2].FilePath != "/first.jpg" {
		t.Fatalf("wrong access ordering: %+v", entries)
	}
}

func TestClear(t *testing.T) {
	s := openTestStore(t, 100)
	ctx := context.Background()

	if err := s.Set(ctx, Entry{FilePath: "/a.jpg", LastModified: 1, Width: 1, Height: 1}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.EntryCount != 0 {
		t.Fatalf("expected empty cache, got %d rows", stats.EntryCount)
	}
}

func TestFlush(t *testing.T) {
	s := openTestStore(t, 100)
	ctx := context.Background()

	if err := s.Set(ctx, Entry{FilePath: "/a.jpg", LastModified: 1, Width: 1, Height: 1}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
}
