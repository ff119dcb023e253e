package gcode

// Vec3 is a point in printer coordinates (millimeters).
type Vec3 struct {
	X, Y, Z float32
}

// Segment is a single straight toolpath move between two points.
// Segments are immutable once produced by a Parser; callers must not
// mutate slices of Segments handed out by the cache.
type Segment struct {
	Start Vec3
	End   Vec3

	// Extrusion is true for printing moves (filament pushed), false for travels.
	Extrusion bool

	// Label is the object name the move belongs to, taken from
	// EXCLUDE_OBJECT_START markers. Empty outside labeled regions.
	Label string

	// EAmount is the filament extruded by this move, in millimeters.
	EAmount float32

	// Width is the slicer-reported extrusion width, 0 if unknown.
	Width float32

	// Tool is the active extruder index.
	Tool int
}

// Parser converts raw G-code bytes into toolpath segments.
// Implementations must be safe for concurrent use; the streaming
// controller parses different layers from multiple goroutines.
type Parser interface {
	Parse(data []byte) ([]Segment, error)
}
