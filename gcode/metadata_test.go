package gcode

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const orcaHeader = `; generated by = OrcaSlicer 2.2.0
; estimated printing time (normal mode) = 2h 14m 9s
; total filament used [g] = 23.91
; filament used [mm] = 7975.12
; total layer number: 257
; first_layer_bed_temperature = 60
; first_layer_temperature = 215
;
G90
G1 X0 Y0
`

func TestExtractHeaderMetadata_Orca(t *testing.T) {
	meta := ExtractHeaderMetadata([]byte(orcaHeader))
	require.NotNil(t, meta)

	require.Equal(t, "OrcaSlicer 2.2.0", meta.Slicer)
	require.Equal(t, 2*time.Hour+14*time.Minute+9*time.Second, meta.EstimatedTime)
	require.InDelta(t, 23.91, meta.FilamentUsedG, 1e-9)
	require.InDelta(t, 7975.12, meta.FilamentUsedMM, 1e-9)
	require.Equal(t, 257, meta.LayerCount)
	require.InDelta(t, 60.0, meta.BedTemp, 1e-9)
	require.InDelta(t, 215.0, meta.NozzleTemp, 1e-9)
}

func TestExtractHeaderMetadata_ColonForm(t *testing.T) {
	header := "; generated by: PrusaSlicer 2.8.0\n; estimated printing time: 45m 30s\nG28\n"
	meta := ExtractHeaderMetadata([]byte(header))

	require.Equal(t, "PrusaSlicer 2.8.0", meta.Slicer)
	require.Equal(t, 45*time.Minute+30*time.Second, meta.EstimatedTime)
}

func TestExtractHeaderMetadata_StopsAtFirstCommand(t *testing.T) {
	header := "; generated by = Orca\nG28\n; total layers = 999\n"
	meta := ExtractHeaderMetadata([]byte(header))

	require.Equal(t, "Orca", meta.Slicer)
	require.Zero(t, meta.LayerCount)
}

func TestExtractHeaderMetadata_EmptyAndUnknown(t *testing.T) {
	meta := ExtractHeaderMetadata(nil)
	require.NotNil(t, meta)
	require.Empty(t, meta.Slicer)

	meta = ExtractHeaderMetadata([]byte("; some_unknown_key = 42\n;;;\n"))
	require.NotNil(t, meta)
	require.Zero(t, meta.LayerCount)
}

func TestExtractHeaderMetadata_LineBudget(t *testing.T) {
	// Metadata past the scan budget is not picked up.
	var b strings.Builder
	for i := 0; i < maxHeaderLines; i++ {
		b.WriteString("; filler = x\n")
	}
	b.WriteString("; total layers = 7\n")

	meta := ExtractHeaderMetadata([]byte(b.String()))
	require.Zero(t, meta.LayerCount)
}

func TestParsePrintTime(t *testing.T) {
	require.Equal(t, 2*time.Hour+30*time.Minute+15*time.Second, parsePrintTime("2h 30m 15s"))
	require.Equal(t, 150*time.Minute+30*time.Second, parsePrintTime("150m 30s"))
	require.Equal(t, 45*time.Second, parsePrintTime("45s"))
	require.Equal(t, 3*time.Hour, parsePrintTime("3h"))
	require.Zero(t, parsePrintTime("soon"))
}
