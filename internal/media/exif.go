package media

import (
	"io"

	"github.com/rwcarlsen/goexif/exif"
)

// exifMeta holds the EXIF fields the viewer cares about.
type exifMeta struct {
	Width       int
	Height      int
	Orientation int
}

// extractExif reads EXIF data from an image reader. A file without EXIF
// yields the identity orientation, not an error.
func extractExif(r io.Reader) (*exifMeta, error) {
	x, err := exif.Decode(r)
	if err != nil {
		return &exifMeta{Orientation: 1}, nil
	}

	m := &exifMeta{Orientation: 1}

	if orient, err := x.Get(exif.Orientation); err == nil {
		if v, err := orient.Int(0); err == nil && v >= 1 && v <= 8 {
			m.Orientation = v
		}
	}

	// Dimensions from EXIF (PixelXDimension / PixelYDimension)
	if pw, err := x.Get(exif.PixelXDimension); err == nil {
		if v, err := pw.Int(0); err == nil {
			m.Width = v
		}
	}
	if ph, err := x.Get(exif.PixelYDimension); err == nil {
		if v, err := ph.Int(0); err == nil {
			m.Height = v
		}
	}

	return m, nil
}
