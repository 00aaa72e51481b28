package media

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/FRFlor/image-manager/internal/browse"
	"github.com/FRFlor/image-manager/internal/logging"
	"github.com/FRFlor/image-manager/internal/metastore"

	// Register decoders for every supported extension.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Fetcher resolves image metadata from the local file system, consulting
// the persistent metadata cache before decoding headers. Implements the
// loader's fetch collaborator.
type Fetcher struct {
	meta    *metastore.Store // optional
	workers int
}

// NewFetcher creates a fetcher. meta may be nil to skip persistence.
func NewFetcher(meta *metastore.Store, workers int) *Fetcher {
	if workers <= 0 {
		workers = 4
	}
	return &Fetcher{meta: meta, workers: workers}
}

// FetchOne resolves the metadata record for one path. Errors mean the
// file is unavailable or corrupt; callers map them to a placeholder.
func (f *Fetcher) FetchOne(ctx context.Context, path string) (*browse.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	rec := &browse.Record{
		Path:        path,
		DisplayName: filepath.Base(path),
		ByteSize:    info.Size(),
		ModifiedAt:  info.ModTime(),
	}

	if f.meta != nil {
		if e, ok, err := f.meta.Get(ctx, path, info.ModTime().UnixNano()); err == nil && ok {
			rec.Width = e.Width
			rec.Height = e.Height
			return rec, nil
		}
	}

	w, h, err := probeDimensions(path)
	if err != nil {
		return nil, fmt.Errorf("decode header %s: %w", path, err)
	}
	rec.Width = w
	rec.Height = h

	if f.meta != nil {
		// Write-through is best effort; a failed persist only costs a
		// re-probe on the next cold open.
		if err := f.meta.Set(ctx, metastore.Entry{
			FilePath:     path,
			LastModified: info.ModTime().UnixNano(),
			Width:        w,
			Height:       h,
			FileSize:     info.Size(),
		}); err != nil {
			logging.Debug("metadata persist failed", zap.String("path", path), zap.Error(err))
		}
	}
	return rec, nil
}

// FetchMany resolves several paths concurrently, preserving input order
// in the result. A per-path failure yields a nil slot and never fails
// the whole batch.
func (f *Fetcher) FetchMany(ctx context.Context, paths []string) ([]*browse.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	recs := make([]*browse.Record, len(paths))
	sem := make(chan struct{}, f.workers)
	var wg sync.WaitGroup
	for i, p := range paths {
		wg.Add(1)
		go func(i int, p string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			rec, err := f.FetchOne(ctx, p)
			if err != nil {
				logging.Debug("fetch failed", zap.String("path", p), zap.Error(err))
				return
			}
			recs[i] = rec
		}(i, p)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

// probeDimensions decodes just enough of the file to learn its pixel
// size: EXIF dimensions when present, the image header otherwise.
func probeDimensions(path string) (int, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer file.Close()

	if meta, err := extractExif(file); err == nil && meta.Width > 0 && meta.Height > 0 {
		return meta.Width, meta.Height, nil
	}
	if _, err := file.Seek(0, 0); err != nil {
		return 0, 0, err
	}

	cfg, _, err := image.DecodeConfig(file)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}
