// Package metastore is the persistent image-metadata cache. Decoding
// image headers for tens of thousands of files is the slow part of a
// cold folder open; dimensions survive restarts here, keyed by path and
// validated against the file's modification time. Bounded by an LRU cap
// on last access.
package metastore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/FRFlor/image-manager/internal/logging"
	"github.com/FRFlor/image-manager/internal/metrics"
	"github.com/FRFlor/image-manager/internal/retry"
)

// Entry is one cached metadata row.
type Entry struct {
	FilePath     string `gorm:"primaryKey;column:file_path"`
	LastModified int64  `gorm:"column:last_modified;not null"` // unix nanos
	Width        int    `gorm:"column:width;not null"`
	Height       int    `gorm:"column:height;not null"`
	FileSize     int64  `gorm:"column:file_size;not null"`
	LastAccessed int64  `gorm:"column:last_accessed;not null;index"`
}

// TableName keeps the table name stable regardless of struct renames.
func (Entry) TableName() string { return "image_metadata" }

// Stats holds cache statistics.
type Stats struct {
	EntryCount int64
	MaxEntries int
}

// Store is the SQLite-backed metadata cache.
type Store struct {
	db         *gorm.DB
	maxEntries int
	now        func() int64 // unix nanos, test hook
}

// Open creates or opens the cache database at path.
func Open(path string, maxEntries int) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("migrate cache schema: %w", err)
	}

	logging.Info("metadata cache opened",
		zap.String("path", path), zap.Int("max_entries", maxEntries))

	return &Store{
		db:         db,
		maxEntries: maxEntries,
		now:        nowNanos,
	}, nil
}

// Get returns cached metadata for a file if present and still valid for
// the given modification time. A stale row (file changed on disk) is
// deleted and reported as a miss.
func (s *Store) Get(ctx context.Context, path string, modified int64) (*Entry, bool, error) {
	var e Entry
	err := s.db.WithContext(ctx).First(&e, "file_path = ?", path).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		metrics.RecordMetaCacheLookup("miss")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache query: %w", err)
	}

	if e.LastModified != modified {
		metrics.RecordMetaCacheLookup("stale")
		if err := s.db.WithContext(ctx).Delete(&Entry{}, "file_path = ?", path).Error; err != nil {
			return nil, false, fmt.Errorf("delete stale entry: %w", err)
		}
		return nil, false, nil
	}

	metrics.RecordMetaCacheLookup("hit")
	if err := s.db.WithContext(ctx).Model(&Entry{}).
		Where("file_path = ?", path).
		Update("last_accessed", s.now()).Error; err != nil {
		return nil, false, fmt.Errorf("touch entry: %w", err)
	}
	return &e, true, nil
}

// Set stores metadata for a file, then evicts least-recently-accessed
// rows if the cap is exceeded. Busy database errors are retried with
// backoff since concurrent fetch workers write through the same file.
func (s *Store) Set(ctx context.Context, e Entry) error {
	e.LastAccessed = s.now()
	return retry.Do(ctx, retry.DefaultConfig(), func() error {
		err := s.db.WithContext(ctx).Save(&e).Error
		if err != nil {
			if isBusy(err) {
				return retry.Retryable(err)
			}
			return fmt.Errorf("insert cache entry: %w", err)
		}
		return s.evictIfNeeded(ctx)
	})
}

// evictIfNeeded removes least recently accessed rows beyond the cap.
func (s *Store) evictIfNeeded(ctx context.Context) error {
	if s.maxEntries <= 0 {
		return nil
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&Entry{}).Count(&count).Error; err != nil {
		return fmt.Errorf("count entries: %w", err)
	}
	if count <= int64(s.maxEntries) {
		return nil
	}

	toDelete := count - int64(s.maxEntries)
	err := s.db.WithContext(ctx).Exec(
		`DELETE FROM image_metadata WHERE file_path IN (
			SELECT file_path FROM image_metadata ORDER BY last_accessed ASC LIMIT ?
		)`, toDelete).Error
	if err != nil {
		return fmt.Errorf("evict entries: %w", err)
	}
	logging.Debug("metadata cache evicted entries", zap.Int64("count", toDelete))
	return nil
}

// Stats returns cache statistics.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Entry{}).Count(&count).Error; err != nil {
		return Stats{}, fmt.Errorf("count entries: %w", err)
	}
	return Stats{EntryCount: count, MaxEntries: s.maxEntries}, nil
}

// List returns every cached row, oldest access first.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	if err := s.db.WithContext(ctx).Order("last_accessed asc").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	return entries, nil
}

// Clear removes all cached rows.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Exec(`DELETE FROM image_metadata`).Error; err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}

// Flush checkpoints the WAL so everything is on disk.
func (s *Store) Flush(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Exec(`PRAGMA wal_checkpoint(TRUNCATE)`).Error; err != nil {
		return fmt.Errorf("checkpoint WAL: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}

func nowNanos() int64 {
	return time.Now().UnixNano()
}
