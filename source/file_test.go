package source

import (
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileSource_Lifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.gcode")
	content := []byte("G1 X0 Y0\nG1 X10 Y10 E1\n")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	src, err := OpenFile(path)
	require.NoError(t, err)

	require.Equal(t, int64(len(content)), src.Size())
	require.Equal(t, path, src.Name())

	data, err := src.ReadRange(0, 8)
	require.NoError(t, err)
	require.Equal(t, "G1 X0 Y0", string(data))

	// Past the end clamps.
	data, err = src.ReadRange(int64(len(content)-3), 100)
	require.NoError(t, err)
	require.Equal(t, "E1\n", string(data))

	require.NoError(t, src.Close())
	require.NoError(t, src.Close()) // idempotent

	_, err = src.ReadRange(0, 1)
	require.ErrorIs(t, err, ErrClosed)
}

func TestOpenFile_Missing(t *testing.T) {
	_, err := OpenFile(filepath.Join(t.TempDir(), "nope.gcode"))
	require.Error(t, err)
}

func TestGzipFileSource_Roundtrip(t *testing.T) {
	content := []byte(";LAYER_CHANGE\nG1 X0 Y0 Z0.2\nG1 X5 Y5 E1\n")

	path := filepath.Join(t.TempDir(), "model.gcode.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := gzip.NewWriter(f)
	_, err = zw.Write(content)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	src, err := OpenGzipFile(path)
	require.NoError(t, err)

	require.Equal(t, int64(len(content)), src.Size())
	require.Equal(t, path, src.Name())

	data, err := src.ReadRange(0, len(content))
	require.NoError(t, err)
	require.Equal(t, content, data)

	spool := src.spoolPath
	_, err = os.Stat(spool)
	require.NoError(t, err)

	require.NoError(t, src.Close())
	require.NoError(t, src.Close()) // idempotent, spool already gone

	_, err = os.Stat(spool)
	require.True(t, os.IsNotExist(err))
}

func TestOpenGzipFile_NotGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.gcode.gz")
	require.NoError(t, os.WriteFile(path, []byte("not gzip at all"), 0o644))

	_, err := OpenGzipFile(path)
	require.Error(t, err)
}
