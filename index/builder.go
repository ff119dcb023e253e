package index

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/helixtouch/layerstream/source"
)

// ErrNoLayers is returned when the scan finds no layer boundaries,
// e.g. for an empty or non-G-code file.
var ErrNoLayers = errors.New("index: no layers found")

// zEpsilon folds duplicate Z values; moves within 1 µm of the current
// layer height do not start a new layer.
const zEpsilon = 0.001

// layerChangeMarker is the slicer comment announcing an upcoming layer;
// the layer's Z comes from the next Z move.
var layerChangeMarker = []byte(";LAYER_CHANGE")

// scanBufSize is the bufio read size for the sequential pass.
const scanBufSize = 256 * 1024

// Build scans src once, front to back, recording where each layer
// starts. A layer begins at a ;LAYER_CHANGE marker or at the first
// G0/G1 move whose Z differs from the current layer height. Layer k
// spans [offset_k, offset_k+1); the last layer runs to EOF.
//
// progress, if non-nil, receives a monotonic fraction in [0, 1] from
// the scanning goroutine.
func Build(src source.DataSource, progress func(float64)) (*Index, error) {
	start := time.Now()
	size := src.Size()

	type layerStart struct {
		off int64
		z   float32
	}
	var starts []layerStart

	br := bufio.NewReaderSize(source.NewReader(src), scanBufSize)

	var (
		offset     int64
		curZ       float32 = -1
		pendingOff int64   = -1 // offset of an unconsumed ;LAYER_CHANGE
		lastReport int64
	)

	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			lineOff := offset
			offset += int64(len(line))

			trimmed := bytes.TrimSpace(line)
			switch {
			case bytes.HasPrefix(trimmed, layerChangeMarker):
				pendingOff = lineOff
			case isMove(trimmed):
				if z, ok := moveZ(trimmed); ok {
					if len(starts) == 0 || absf(z-curZ) >= zEpsilon {
						off := lineOff
						if pendingOff >= 0 {
							off = pendingOff
						}
						starts = append(starts, layerStart{off: off, z: z})
						curZ = z
					}
					pendingOff = -1
				}
			}

			if progress != nil && size > 0 && offset-lastReport >= scanBufSize {
				lastReport = offset
				progress(float64(offset) / float64(size))
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("index: scan %s: %w", src.Name(), err)
		}
	}

	if len(starts) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoLayers, src.Name())
	}

	entries := make([]Entry, len(starts))
	for i, s := range starts {
		end := size
		if i+1 < len(starts) {
			end = starts[i+1].off
		}
		entries[i] = Entry{Layer: i, Offset: s.off, Length: end - s.off, Z: s.z}
	}

	if progress != nil {
		progress(1)
	}

	return &Index{
		entries: entries,
		stats: Stats{
			Layers:     len(entries),
			FileSize:   size,
			BuildTime:  time.Since(start),
			IndexBytes: int64(len(entries)) * entryFootprint,
		},
	}, nil
}

// isMove reports whether a trimmed line is a G0/G1 command.
func isMove(line []byte) bool {
	if len(line) < 2 || (line[0] != 'G' && line[0] != 'g') {
		return false
	}
	if line[1] != '0' && line[1] != '1' {
		return false
	}
	return len(line) == 2 || line[2] == ' ' || line[2] == '\t'
}

// moveZ extracts the Z word from a G0/G1 line.
func moveZ(line []byte) (float32, bool) {
	for i := 0; i < len(line); i++ {
		c := line[i]
		if c == ';' {
			break
		}
		if (c != 'Z' && c != 'z') || i == 0 || line[i-1] != ' ' && line[i-1] != '\t' {
			continue
		}
		j := i + 1
		for j < len(line) && (line[j] == '-' || line[j] == '+' || line[j] == '.' || line[j] >= '0' && line[j] <= '9') {
			j++
		}
		v, err := strconv.ParseFloat(string(line[i+1:j]), 32)
		if err != nil {
			return 0, false
		}
		return float32(v), true
	}
	return 0, false
}

func absf(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
