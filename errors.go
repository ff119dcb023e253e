package layerstream

import (
	"errors"
	"fmt"
)

var (
	// ErrNotOpen is returned by operations that need an open session.
	ErrNotOpen = errors.New("layerstream: no file open")

	// ErrGhostRunning is returned by GhostBuilder.Start while a pass is
	// already in flight.
	ErrGhostRunning = errors.New("layerstream: ghost build already running")

	// ErrLayerOutOfRange indicates a layer number outside the index.
	ErrLayerOutOfRange = errors.New("layerstream: layer out of range")
)

// LoadError reports a failed load of one layer.
//
// The original underlying error can be accessed via errors.Unwrap.
type LoadError struct {
	Layer int
	cause error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load layer %d: %v", e.Layer, e.cause)
}

func (e *LoadError) Unwrap() error { return e.cause }
