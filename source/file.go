package source

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
)

// FileSource serves byte ranges from a local file via ReadAt, so
// concurrent range reads need no seeking coordination.
type FileSource struct {
	f      *os.File
	size   int64
	name   string
	closed atomic.Bool
}

// OpenFile opens a local G-code file for range access.
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("source: open %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("source: stat %s: %w", path, err)
	}
	return &FileSource{f: f, size: fi.Size(), name: path}, nil
}

func (s *FileSource) ReadRange(off int64, n int) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	n, ok := clampRange(off, n, s.size)
	if !ok {
		return nil, nil
	}
	buf := make([]byte, n)
	read, err := s.f.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("source: read %s @%d: %w", s.name, off, err)
	}
	return buf[:read], nil
}

func (s *FileSource) Size() int64 {
	return s.size
}

func (s *FileSource) Name() string {
	return s.name
}

func (s *FileSource) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.f.Close()
}
