package gcode

import (
	"bytes"
	"strconv"
	"strings"
)

// LineParser is a line-oriented G-code parser covering the dialect
// emitted by common slicers (Orca, Prusa, Cura): G0/G1 moves,
// absolute/relative positioning, tool changes and object markers.
// It is stateless between Parse calls; each call starts from a fresh
// machine state, which is correct for per-layer byte ranges because
// slicers re-assert Z at every layer change.
type LineParser struct{}

// NewLineParser returns a ready-to-use LineParser.
func NewLineParser() *LineParser {
	return &LineParser{}
}

// machine is the modal printer state tracked across lines of one Parse call.
type machine struct {
	pos     Vec3
	e       float64
	tool    int
	absMove bool
	absE    bool
	label   string
	width   float32
	posSeen bool
}

// Parse converts one layer's bytes into segments. Unknown commands are
// skipped; Parse never fails on malformed numeric fields, it drops the
// offending word instead.
func (p *LineParser) Parse(data []byte) ([]Segment, error) {
	st := machine{absMove: true, absE: true}
	segments := make([]Segment, 0, 256)

	for len(data) > 0 {
		var line []byte
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			line, data = data[:i], data[i+1:]
		} else {
			line, data = data, nil
		}
		parseLine(strings.TrimSpace(string(line)), &st, &segments)
	}
	return segments, nil
}

func parseLine(line string, st *machine, segments *[]Segment) {
	if line == "" {
		return
	}

	if line[0] == ';' {
		parseComment(line, st)
		return
	}

	// Strip trailing comment.
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = strings.TrimSpace(line[:i])
		if line == "" {
			return
		}
	}

	fields := strings.Fields(line)
	cmd := strings.ToUpper(fields[0])

	switch cmd {
	case "G0", "G1":
		applyMove(fields[1:], st, segments)
	case "G90":
		st.absMove = true
		st.absE = true
	case "G91":
		st.absMove = false
		st.absE = false
	case "M82":
		st.absE = true
	case "M83":
		st.absE = false
	case "G92":
		// Position reset; no movement.
		for _, w := range fields[1:] {
			if v, ok := word(w, 'E'); ok {
				st.e = float64(v)
			}
			if v, ok := word(w, 'X'); ok {
				st.pos.X = v
			}
			if v, ok := word(w, 'Y'); ok {
				st.pos.Y = v
			}
			if v, ok := word(w, 'Z'); ok {
				st.pos.Z = v
			}
		}
	case "EXCLUDE_OBJECT_START":
		st.label = markerName(fields[1:])
	case "EXCLUDE_OBJECT_END":
		st.label = ""
	default:
		if len(cmd) > 1 && cmd[0] == 'T' {
			if n, err := strconv.Atoi(cmd[1:]); err == nil {
				st.tool = n
			}
		}
	}
}

func applyMove(words []string, st *machine, segments *[]Segment) {
	end := st.pos
	var de float64
	moved := false

	for _, w := range words {
		if v, ok := word(w, 'X'); ok {
			if st.absMove {
				end.X = v
			} else {
				end.X += v
			}
			moved = true
		}
		if v, ok := word(w, 'Y'); ok {
			if st.absMove {
				end.Y = v
			} else {
				end.Y += v
			}
			moved = true
		}
		if v, ok := word(w, 'Z'); ok {
			if st.absMove {
				end.Z = v
			} else {
				end.Z += v
			}
		}
		if v, ok := word(w, 'E'); ok {
			if st.absE {
				de = float64(v) - st.e
				st.e = float64(v)
			} else {
				de = float64(v)
				st.e += float64(v)
			}
		}
	}

	// Only XY motion produces a drawable segment; pure Z moves and
	// retractions adjust state silently.
	if moved && st.posSeen {
		*segments = append(*segments, Segment{
			Start:     st.pos,
			End:       end,
			Extrusion: de > 0,
			Label:     st.label,
			EAmount:   float32(max(de, 0)),
			Width:     st.width,
			Tool:      st.tool,
		})
	}
	if moved {
		st.posSeen = true
	}
	st.pos = end
}

func parseComment(line string, st *machine) {
	rest := strings.TrimSpace(line[1:])
	if v, ok := strings.CutPrefix(rest, "WIDTH:"); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 32); err == nil {
			st.width = float32(f)
		}
	}
}

// word extracts the value of a single G-code word like "X12.5".
func word(w string, letter byte) (float32, bool) {
	if len(w) < 2 || w[0] != letter && w[0] != letter+('a'-'A') {
		return 0, false
	}
	v, err := strconv.ParseFloat(w[1:], 32)
	if err != nil {
		return 0, false
	}
	return float32(v), true
}

// markerName pulls NAME=value out of an EXCLUDE_OBJECT_START line.
func markerName(words []string) string {
	for _, w := range words {
		if v, ok := strings.CutPrefix(w, "NAME="); ok {
			return v
		}
	}
	return ""
}
