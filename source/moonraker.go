package source

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// moonrakerFilesRoot is where Moonraker exposes the gcodes virtual root.
const moonrakerFilesRoot = "server/files/gcodes"

// MoonrakerSource streams a G-code file from a Moonraker instance using
// HTTP Range requests, so large files are never downloaded whole.
type MoonrakerSource struct {
	client  *http.Client
	fileURL string
	name    string
	size    int64
	closed  atomic.Bool
}

// OpenMoonraker probes the file size and returns a range-reading source.
// client may be nil; a 30s-timeout default is used then.
func OpenMoonraker(baseURL, gcodePath string, client *http.Client) (*MoonrakerSource, error) {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("source: moonraker url %q: %w", baseURL, err)
	}
	u.Path = path.Join(u.Path, moonrakerFilesRoot, gcodePath)

	s := &MoonrakerSource{
		client:  client,
		fileURL: u.String(),
		name:    strings.TrimSuffix(baseURL, "/") + "/" + gcodePath,
	}
	if err := s.probeSize(); err != nil {
		return nil, err
	}
	return s, nil
}

// probeSize asks for Content-Length via HEAD, falling back to a
// one-byte ranged GET for servers that omit it.
func (s *MoonrakerSource) probeSize() error {
	resp, err := s.client.Head(s.fileURL)
	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK && resp.ContentLength > 0 {
			s.size = resp.ContentLength
			return nil
		}
	}

	req, err := http.NewRequest(http.MethodGet, s.fileURL, nil)
	if err != nil {
		return fmt.Errorf("source: moonraker probe: %w", err)
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err = s.client.Do(req)
	if err != nil {
		return fmt.Errorf("source: moonraker probe %s: %w", s.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		return fmt.Errorf("source: moonraker probe %s: unexpected status %s", s.name, resp.Status)
	}
	// Content-Range: bytes 0-0/12345
	cr := resp.Header.Get("Content-Range")
	slash := strings.LastIndexByte(cr, '/')
	if slash < 0 {
		return fmt.Errorf("source: moonraker probe %s: missing Content-Range", s.name)
	}
	size, err := strconv.ParseInt(cr[slash+1:], 10, 64)
	if err != nil {
		return fmt.Errorf("source: moonraker probe %s: bad Content-Range %q", s.name, cr)
	}
	s.size = size
	return nil
}

func (s *MoonrakerSource) ReadRange(off int64, n int) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	n, ok := clampRange(off, n, s.size)
	if !ok {
		return nil, nil
	}

	req, err := http.NewRequest(http.MethodGet, s.fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("source: moonraker read: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, off+int64(n)-1))

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("source: moonraker read %s @%d: %w", s.name, off, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		data, err := io.ReadAll(io.LimitReader(resp.Body, int64(n)))
		if err != nil {
			return nil, fmt.Errorf("source: moonraker read %s @%d: %w", s.name, off, err)
		}
		return data, nil
	case http.StatusOK:
		// Server ignored the Range header and answered with the whole
		// file; slice the requested window out locally.
		data, err := io.ReadAll(io.LimitReader(resp.Body, off+int64(n)))
		if err != nil {
			return nil, fmt.Errorf("source: moonraker read %s @%d: %w", s.name, off, err)
		}
		if int64(len(data)) <= off {
			return nil, nil
		}
		return data[off:], nil
	case http.StatusRequestedRangeNotSatisfiable:
		return nil, nil
	default:
		return nil, fmt.Errorf("source: moonraker read %s @%d: unexpected status %s", s.name, off, resp.Status)
	}
}

func (s *MoonrakerSource) Size() int64 {
	return s.size
}

func (s *MoonrakerSource) Name() string {
	return s.name
}

func (s *MoonrakerSource) Close() error {
	s.closed.Store(true)
	return nil
}
