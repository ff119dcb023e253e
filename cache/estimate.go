package cache

import "github.com/helixtouch/layerstream/gcode"

// Memory estimation constants. The estimate is a deterministic,
// monotonic heuristic, not exact byte accounting: a fixed per-entry
// overhead, a fixed per-segment cost, and the heap bytes of object
// labels too long to be considered interned/shared.
const (
	entryOverhead   = 64
	bytesPerSegment = 80
	labelInlineMax  = 15
)

// Estimate returns the bookkeeping cost charged against the budget for
// one layer's segments.
func Estimate(segments []gcode.Segment) int64 {
	size := int64(entryOverhead) + int64(len(segments))*bytesPerSegment
	for i := range segments {
		if n := len(segments[i].Label); n > labelInlineMax {
			size += int64(n) + 1
		}
	}
	return size
}
