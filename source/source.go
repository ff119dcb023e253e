// Package source provides byte-range access to G-code data, abstracting
// over local files, in-memory buffers and Moonraker HTTP endpoints so
// the streaming layer above never cares where bytes come from.
package source

import (
	"errors"
	"io"
)

// ErrClosed is returned by reads on a closed source.
var ErrClosed = errors.New("source: closed")

// DataSource is read-only random access to a G-code file.
//
// ReadRange clamps: a read extending past the end returns the available
// bytes, and an offset at or past the end returns an empty slice with a
// nil error. Implementations must be safe for concurrent ReadRange calls.
type DataSource interface {
	// ReadRange reads up to n bytes starting at off.
	ReadRange(off int64, n int) ([]byte, error)

	// Size returns the total size in bytes.
	Size() int64

	// Name identifies the source (path or URL) for logs and UI.
	Name() string

	// Close releases underlying resources. Reads after Close fail.
	Close() error
}

// clampRange maps a requested [off, off+n) window onto [0, size).
// ok is false when the window starts at or past the end.
func clampRange(off int64, n int, size int64) (int, bool) {
	if off < 0 || n <= 0 || off >= size {
		return 0, false
	}
	if rem := size - off; int64(n) > rem {
		n = int(rem)
	}
	return n, true
}

// NewReader adapts a DataSource into a sequential io.Reader, used by
// the index builder for its single-pass scan.
func NewReader(src DataSource) io.Reader {
	return &sourceReader{src: src}
}

type sourceReader struct {
	src DataSource
	off int64
}

func (r *sourceReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	data, err := r.src.ReadRange(r.off, len(p))
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, io.EOF
	}
	n := copy(p, data)
	r.off += int64(n)
	return n, nil
}
