// Package layerstream visualizes G-code files far larger than RAM by
// streaming parsed layer geometry through a memory-budgeted cache.
//
// A StreamingController ties together three collaborators: a byte-range
// DataSource (local file, in-memory buffer or Moonraker HTTP endpoint),
// an immutable layer index built by a single-pass scan, and an LRU
// LayerCache that never holds more decoded geometry than its byte
// budget allows.
//
// # Quick Start
//
//	c := layerstream.NewController()
//	if err := c.OpenFile("model.gcode"); err != nil {
//	    // file missing or not indexable
//	}
//	defer c.Close()
//
//	segments, err := c.GetLayerSegments(42) // loads on miss, cached afterwards
//	if err == nil {
//	    for _, seg := range segments {
//	        // project and draw seg.Start -> seg.End
//	    }
//	}
//
// # Background ghost preview
//
// GhostBuilder walks every layer on one background goroutine, feeding a
// render callback while competing for the same bounded cache as the
// interactive viewer:
//
//	gb := layerstream.NewGhostBuilder(c, func(layer int, segs []gcode.Segment) {
//	    // rasterize into an off-screen buffer
//	})
//	if err := gb.Start(); err != nil {
//	    // no file open, or a pass already running
//	}
//	// poll gb.Progress(); call gb.NotifyUserRequest() on user navigation
//	gb.Cancel()
//
// # Memory behavior
//
// The cache budget defaults to a device tier (4/16/32 MiB by total RAM)
// and, in adaptive mode, follows available system memory. A single
// layer larger than the whole budget is still returned to the caller,
// just never cached. Handed-out segment slices are immutable and remain
// valid after eviction.
package layerstream
