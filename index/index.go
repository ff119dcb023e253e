// Package index maps layer numbers to byte ranges in a G-code file.
// The index is built once per open by a single sequential scan and is
// immutable afterwards, which makes concurrent lookups lock-free.
package index

import (
	"sort"
	"time"
)

// entryFootprint approximates the in-memory cost of one Entry,
// reported through Stats so callers can budget the index itself.
const entryFootprint = 32

// Entry locates one layer inside the file.
type Entry struct {
	Layer  int
	Offset int64
	Length int64
	Z      float32
}

// Stats describes an index build.
type Stats struct {
	Layers     int
	FileSize   int64
	BuildTime  time.Duration
	IndexBytes int64
}

// Index is the immutable layer table.
type Index struct {
	entries []Entry
	stats   Stats
}

// LayerCount returns the number of indexed layers.
func (ix *Index) LayerCount() int {
	return len(ix.entries)
}

// Entry returns the byte range of a layer; ok is false when the layer
// number is out of range.
func (ix *Index) Entry(layer int) (Entry, bool) {
	if layer < 0 || layer >= len(ix.entries) {
		return Entry{}, false
	}
	return ix.entries[layer], true
}

// Z returns a layer's height, or 0 for an invalid layer.
func (ix *Index) Z(layer int) float32 {
	if layer < 0 || layer >= len(ix.entries) {
		return 0
	}
	return ix.entries[layer].Z
}

// FindByZ returns the layer whose Z height is nearest to z, or -1 when
// the index is empty. Layers are assumed ascending in Z, the order
// slicers emit them.
func (ix *Index) FindByZ(z float32) int {
	n := len(ix.entries)
	if n == 0 {
		return -1
	}
	i := sort.Search(n, func(i int) bool {
		return ix.entries[i].Z >= z
	})
	if i == n {
		return n - 1
	}
	if i > 0 && z-ix.entries[i-1].Z < ix.entries[i].Z-z {
		return i - 1
	}
	return i
}

// Stats returns the build statistics.
func (ix *Index) Stats() Stats {
	return ix.stats
}
