package layerstream

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/helixtouch/layerstream/gcode"
)

func TestGhostBuilder_CompletesAllLayers(t *testing.T) {
	c := newTestController(t)
	require.NoError(t, c.OpenFile(writeGcodeFile(t, 100)))

	var (
		mu   sync.Mutex
		once sync.Once
		gate = make(chan struct{})
	)
	seen := map[int]int{}
	gb := NewGhostBuilder(c, func(layer int, segs []gcode.Segment) {
		once.Do(func() { <-gate })
		mu.Lock()
		seen[layer] += len(segs)
		mu.Unlock()
	})

	require.NoError(t, gb.Start())
	require.ErrorIs(t, gb.Start(), ErrGhostRunning) // pass still blocked on gate
	close(gate)

	require.Eventually(t, gb.IsComplete, 10*time.Second, 5*time.Millisecond)
	require.False(t, gb.IsRunning())
	require.Equal(t, 100, gb.LayersRendered())
	require.Equal(t, 100, gb.TotalLayers())
	require.Equal(t, 1.0, gb.Progress())
	require.Empty(t, gb.FailedLayers())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 100)
	for layer, segs := range seen {
		require.Positive(t, segs, "layer %d", layer)
	}
}

func TestGhostBuilder_CancelStopsProgress(t *testing.T) {
	c := newTestController(t)
	require.NoError(t, c.OpenFile(writeGcodeFile(t, 100)))

	gb := NewGhostBuilder(c, func(int, []gcode.Segment) {
		time.Sleep(2 * time.Millisecond)
	})
	require.NoError(t, gb.Start())

	require.Eventually(t, func() bool {
		return gb.LayersRendered() >= 2
	}, 5*time.Second, time.Millisecond)

	gb.Cancel()
	require.False(t, gb.IsRunning())
	require.False(t, gb.IsComplete())

	rendered := gb.LayersRendered()
	require.Less(t, rendered, 100)

	// No further progress after cancellation.
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, rendered, gb.LayersRendered())
}

func TestGhostBuilder_RestartAfterCancel(t *testing.T) {
	c := newTestController(t)
	require.NoError(t, c.OpenFile(writeGcodeFile(t, 20)))

	gb := NewGhostBuilder(c, func(int, []gcode.Segment) {})

	require.NoError(t, gb.Start())
	gb.Cancel()

	require.NoError(t, gb.Start())
	require.Eventually(t, gb.IsComplete, 10*time.Second, 5*time.Millisecond)
	require.Equal(t, 20, gb.LayersRendered())
}

func TestGhostBuilder_SkipsFailedLayers(t *testing.T) {
	c := newTestController(t, WithParser(poisonParser{inner: gcode.NewLineParser()}))
	require.NoError(t, c.OpenFile(writeGcodeFile(t, 30, 4, 17)))

	var rendered atomic.Int64
	gb := NewGhostBuilder(c, func(int, []gcode.Segment) {
		rendered.Add(1)
	})
	require.NoError(t, gb.Start())

	require.Eventually(t, func() bool {
		return !gb.IsRunning()
	}, 10*time.Second, 5*time.Millisecond)

	require.True(t, gb.IsComplete())
	require.Equal(t, 28, gb.LayersRendered())
	require.EqualValues(t, 28, rendered.Load())
	require.Equal(t, []uint32{4, 17}, gb.FailedLayers())
}

func TestGhostBuilder_StartRequiresOpenFile(t *testing.T) {
	c := newTestController(t)
	gb := NewGhostBuilder(c, func(int, []gcode.Segment) {})
	require.ErrorIs(t, gb.Start(), ErrNotOpen)
}

func TestGhostBuilder_UserRequestsDoNotStall(t *testing.T) {
	c := newTestController(t)
	require.NoError(t, c.OpenFile(writeGcodeFile(t, 10)))

	gb := NewGhostBuilder(c, func(int, []gcode.Segment) {})
	gb.NotifyUserRequest()
	require.NoError(t, gb.Start())

	// The builder yields briefly after a user request, then proceeds.
	require.Eventually(t, gb.IsComplete, 10*time.Second, 5*time.Millisecond)
	require.Equal(t, 10, gb.LayersRendered())
}
