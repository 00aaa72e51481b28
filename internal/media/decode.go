package media

import (
	"context"
	"fmt"
	"image"
	"os"

	"github.com/disintegration/imaging"

	"github.com/FRFlor/image-manager/internal/browse"
)

// Handle is a decoded, orientation-corrected image ready for display.
// The cache treats handles as opaque.
type Handle struct {
	Path   string
	Img    image.Image
	Width  int
	Height int
}

// Decoder decodes records into display resources.
type Decoder struct {
	// MaxDimension bounds the decoded resource: larger images are
	// downscaled to fit. 0 keeps full resolution.
	MaxDimension int
}

// Decode reads, decodes and orientation-corrects the record's file.
func (d *Decoder) Decode(ctx context.Context, rec *browse.Record) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	file, err := os.Open(rec.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", rec.Path, err)
	}
	defer file.Close()

	meta, _ := extractExif(file)
	if _, err := file.Seek(0, 0); err != nil {
		return nil, err
	}

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", rec.Path, err)
	}

	// The decode above can be the slow part for large files; don't
	// commit work for a cancelled fetch.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img = applyOrientation(img, meta.Orientation)
	if d.MaxDimension > 0 {
		b := img.Bounds()
		if b.Dx() > d.MaxDimension || b.Dy() > d.MaxDimension {
			img = imaging.Fit(img, d.MaxDimension, d.MaxDimension, imaging.Lanczos)
		}
	}

	b := img.Bounds()
	return &Handle{
		Path:   rec.Path,
		Img:    img,
		Width:  b.Dx(),
		Height: b.Dy(),
	}, nil
}

// Dispose releases a decoded resource. Dropping the pixel reference is
// all Go needs, but doing it eagerly lets large backing arrays go on the
// next collection instead of whenever the cache entry is overwritten.
func (d *Decoder) Dispose(h any) {
	if handle, ok := h.(*Handle); ok && handle != nil {
		handle.Img = nil
	}
}

// applyOrientation transforms an image according to EXIF orientation value.
func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}
