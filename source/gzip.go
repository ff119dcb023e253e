package source

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

// GzipFileSource transparently opens a gzip-compressed G-code file.
// gzip streams have no random access, so the file is decompressed once
// into a temporary spool file and ranges are served from the spool.
// Close removes the spool.
type GzipFileSource struct {
	FileSource
	spoolPath string
}

// OpenGzipFile decompresses path into a spool file and returns a source
// over the decompressed bytes. Name() reports the original path.
func OpenGzipFile(path string) (*GzipFileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("source: open %s: %w", path, err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("source: gzip %s: %w", path, err)
	}
	defer zr.Close()

	spool, err := os.CreateTemp("", "layerstream-spool-*.gcode")
	if err != nil {
		return nil, fmt.Errorf("source: gzip spool: %w", err)
	}

	size, err := io.Copy(spool, zr)
	if err != nil {
		spool.Close()
		os.Remove(spool.Name())
		return nil, fmt.Errorf("source: decompress %s: %w", path, err)
	}

	return &GzipFileSource{
		FileSource: FileSource{f: spool, size: size, name: path},
		spoolPath:  spool.Name(),
	}, nil
}

func (s *GzipFileSource) Close() error {
	err := s.FileSource.Close()
	if rmErr := os.Remove(s.spoolPath); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	return err
}
