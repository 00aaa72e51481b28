// Package media implements the host-side collaborators the browsing core
// depends on: directory listing, metadata fetching, and image decode and
// dispose. The core only ever talks to these through their interfaces,
// so tests can substitute fakes.
package media

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// imageExtensions are file extensions treated as viewable images.
var imageExtensions = []string{
	".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".tiff", ".tif",
}

// IsImageFile checks if a file path has a supported image extension.
func IsImageFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range imageExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// SupportedExtensions returns the supported image extensions.
func SupportedExtensions() []string {
	out := make([]string, len(imageExtensions))
	copy(out, imageExtensions)
	return out
}

// FileEntry describes one image file found in a folder listing.
type FileEntry struct {
	Name       string
	Path       string
	Size       int64
	ModifiedAt time.Time
}

// ListImages lists the image files of a folder, sorted by name. The
// listing is a one-shot snapshot: browsing contexts never re-query it,
// and external changes to the folder are not watched.
func ListImages(folder string) ([]FileEntry, error) {
	dirents, err := os.ReadDir(folder)
	if err != nil {
		return nil, err
	}

	entries := make([]FileEntry, 0, len(dirents))
	for _, d := range dirents {
		if d.IsDir() || !IsImageFile(d.Name()) {
			continue
		}
		info, err := d.Info()
		if err != nil {
			// Raced with a concurrent delete; skip.
			continue
		}
		entries = append(entries, FileEntry{
			Name:       d.Name(),
			Path:       filepath.Join(folder, d.Name()),
			Size:       info.Size(),
			ModifiedAt: info.ModTime(),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}
