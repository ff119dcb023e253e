package layerstream

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/helixtouch/layerstream/gcode"
)

// ghostYieldWindow is how recently a user layer request must have
// arrived for the builder to back off.
const ghostYieldWindow = 30 * time.Millisecond

// ghostYieldSleep is how long the builder sleeps when backing off.
const ghostYieldSleep = 50 * time.Millisecond

// RenderFunc receives each layer's parsed segments during a ghost
// build pass. It runs on the builder's goroutine.
type RenderFunc func(layer int, segments []gcode.Segment)

// GhostBuilder walks every layer of the open file in the background,
// feeding parsed geometry to a render callback, so a full "ghost" of
// the print is available before the user scrubs to it. The pass yields
// to interactive layer requests and can be cancelled at any point.
//
// A builder is reusable: after a pass completes or is cancelled, Start
// may be called again.
type GhostBuilder struct {
	sc     *StreamingController
	render RenderFunc

	current  atomic.Int64
	total    atomic.Int64
	rendered atomic.Int64

	running   atomic.Bool
	complete  atomic.Bool
	cancelled atomic.Bool

	// lastUserReq is the unix-nano timestamp of the most recent
	// interactive layer request; the build loop yields around it.
	lastUserReq atomic.Int64

	mu     sync.Mutex
	failed *roaring.Bitmap
	done   chan struct{}
}

// NewGhostBuilder creates a builder over the controller's open file.
// render must not be nil.
func NewGhostBuilder(sc *StreamingController, render RenderFunc) *GhostBuilder {
	return &GhostBuilder{
		sc:     sc,
		render: render,
		failed: roaring.New(),
	}
}

// Start launches a background pass over all layers. It returns
// ErrGhostRunning if a pass is already in flight and ErrNotOpen when
// the controller has no open file.
func (g *GhostBuilder) Start() error {
	if !g.sc.IsOpen() {
		return ErrNotOpen
	}
	if !g.running.CompareAndSwap(false, true) {
		return ErrGhostRunning
	}

	total := g.sc.LayerCount()
	g.total.Store(int64(total))
	g.current.Store(0)
	g.rendered.Store(0)
	g.complete.Store(false)
	g.cancelled.Store(false)

	g.mu.Lock()
	g.failed.Clear()
	g.done = make(chan struct{})
	done := g.done
	g.mu.Unlock()

	go g.run(total, done)
	return nil
}

func (g *GhostBuilder) run(total int, done chan struct{}) {
	defer close(done)
	defer g.running.Store(false)

	for layer := 0; layer < total; layer++ {
		if g.cancelled.Load() {
			g.sc.log.LogGhostPass(int(g.rendered.Load()), g.failedCount(), total, true)
			return
		}

		// Stay out of the way while the user is actively scrubbing.
		for g.sinceUserRequest() < ghostYieldWindow {
			time.Sleep(ghostYieldSleep)
			if g.cancelled.Load() {
				g.sc.log.LogGhostPass(int(g.rendered.Load()), g.failedCount(), total, true)
				return
			}
		}

		g.current.Store(int64(layer))

		segs, err := g.sc.getSegments(layer, false)
		if err != nil {
			g.mu.Lock()
			g.failed.Add(uint32(layer))
			g.mu.Unlock()
			g.sc.log.Warn("ghost build layer failed", "layer", layer, "error", err)
			continue
		}

		g.render(layer, segs)
		g.rendered.Add(1)
	}

	g.complete.Store(true)
	g.sc.log.LogGhostPass(int(g.rendered.Load()), g.failedCount(), total, false)
}

// Cancel stops the pass and waits for the build goroutine to exit. It
// is a no-op when nothing is running.
func (g *GhostBuilder) Cancel() {
	if !g.running.Load() {
		return
	}
	g.cancelled.Store(true)

	g.mu.Lock()
	done := g.done
	g.mu.Unlock()
	if done != nil {
		<-done
	}
}

// NotifyUserRequest records an interactive layer access; the build
// loop yields while requests keep arriving.
func (g *GhostBuilder) NotifyUserRequest() {
	g.lastUserReq.Store(time.Now().UnixNano())
}

func (g *GhostBuilder) sinceUserRequest() time.Duration {
	ts := g.lastUserReq.Load()
	if ts == 0 {
		return time.Duration(1<<63 - 1)
	}
	return time.Since(time.Unix(0, ts))
}

// Progress returns the fraction of layers processed, in [0, 1].
func (g *GhostBuilder) Progress() float64 {
	total := g.total.Load()
	if total == 0 {
		return 0
	}
	if g.complete.Load() {
		return 1
	}
	return float64(g.current.Load()) / float64(total)
}

// IsComplete reports whether the last pass finished all layers.
func (g *GhostBuilder) IsComplete() bool {
	return g.complete.Load()
}

// IsRunning reports whether a pass is in flight.
func (g *GhostBuilder) IsRunning() bool {
	return g.running.Load()
}

// LayersRendered returns how many layers the current or last pass has
// handed to the render callback.
func (g *GhostBuilder) LayersRendered() int {
	return int(g.rendered.Load())
}

// TotalLayers returns the layer count the current or last pass covers.
func (g *GhostBuilder) TotalLayers() int {
	return int(g.total.Load())
}

// FailedLayers returns the layers whose load or parse failed during
// the current or last pass, in ascending order.
func (g *GhostBuilder) FailedLayers() []uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.failed.ToArray()
}

func (g *GhostBuilder) failedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return int(g.failed.GetCardinality())
}
