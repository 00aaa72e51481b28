// Package browse holds the core browsing-session model: image records
// and the per-tab browsing context with its resolution map.
package browse

import "time"

// Direction is the direction of travel through a folder.
type Direction int

const (
	DirUnknown Direction = iota
	DirForward
	DirBackward
)

func (d Direction) String() string {
	switch d {
	case DirForward:
		return "forward"
	case DirBackward:
		return "backward"
	default:
		return "unknown"
	}
}

// Record is the resolved metadata for one image path. Identity is the
// path, unique within a browsing context. Decoded pixel data is not part
// of the record; the resource cache keys it by path.
type Record struct {
	Path        string
	DisplayName string
	Width       int
	Height      int
	ByteSize    int64
	ModifiedAt  time.Time
}
