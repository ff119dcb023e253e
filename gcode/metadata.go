package gcode

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// HeaderMetadata is slicer-provided information from the comment block
// at the top of a G-code file.
type HeaderMetadata struct {
	Slicer         string
	SlicerVersion  string
	EstimatedTime  time.Duration
	FilamentUsedG  float64
	FilamentUsedMM float64
	LayerCount     int
	BedTemp        float64
	NozzleTemp     float64
}

// maxHeaderLines bounds the scan; slicers put metadata in the first few
// hundred lines.
const maxHeaderLines = 500

// ExtractHeaderMetadata scans the head of a G-code file for slicer
// metadata comments in "; key = value" or "; key: value" form.
// It stops at the first real command or after maxHeaderLines lines.
// Unknown keys are ignored; the result is never nil.
func ExtractHeaderMetadata(data []byte) *HeaderMetadata {
	meta := &HeaderMetadata{}

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	lines := 0
	for sc.Scan() && lines < maxHeaderLines {
		lines++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if line[0] != ';' {
			// First executable command ends the header block.
			if line[0] == 'G' || line[0] == 'M' || line[0] == 'T' {
				break
			}
			continue
		}

		key, value, ok := splitHeaderComment(line)
		if !ok {
			continue
		}

		switch key {
		case "generated by", "slicer":
			meta.Slicer = value
		case "slicer_version":
			meta.SlicerVersion = value
		case "estimated printing time", "estimated printing time (normal mode)":
			meta.EstimatedTime = parsePrintTime(value)
		case "total filament used [g]", "filament used [g]", "total filament weight":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				meta.FilamentUsedG = f
			}
		case "filament used [mm]", "total filament used [mm]":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				meta.FilamentUsedMM = f
			}
		case "total layers", "total layer number":
			if n, err := strconv.Atoi(value); err == nil {
				meta.LayerCount = n
			}
		case "first_layer_bed_temperature", "bed_temperature":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				meta.BedTemp = f
			}
		case "first_layer_temperature", "nozzle_temperature":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				meta.NozzleTemp = f
			}
		}
	}
	return meta
}

// splitHeaderComment splits "; key = value" or "; key: value".
// The '=' separator wins when both appear, matching OrcaSlicer output
// where values may themselves contain colons.
func splitHeaderComment(line string) (key, value string, ok bool) {
	body := strings.TrimSpace(line[1:])

	eq := strings.IndexByte(body, '=')
	colon := strings.IndexByte(body, ':')
	sep := -1
	switch {
	case eq >= 0 && (colon < 0 || eq < colon):
		sep = eq
	case colon >= 0:
		sep = colon
	}
	if sep <= 0 {
		return "", "", false
	}

	key = strings.TrimSpace(body[:sep])
	value = strings.TrimSpace(body[sep+1:])
	if key == "" {
		return "", "", false
	}
	return key, value, true
}

// parsePrintTime parses slicer duration strings like "2h 30m 15s",
// "150m 30s" or "45s". Returns 0 when nothing matches.
func parsePrintTime(s string) time.Duration {
	var h, m, sec int
	switch {
	case strings.ContainsRune(s, 'h'):
		fmt.Sscanf(s, "%dh %dm %ds", &h, &m, &sec)
	case strings.ContainsRune(s, 'm'):
		fmt.Sscanf(s, "%dm %ds", &m, &sec)
	case strings.ContainsRune(s, 's'):
		fmt.Sscanf(s, "%ds", &sec)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second
}
