package source

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemorySource_ClampSemantics(t *testing.T) {
	src := NewMemorySource([]byte("0123456789"), "mem")
	defer src.Close()

	require.Equal(t, int64(10), src.Size())
	require.Equal(t, "mem", src.Name())

	// Fully inside.
	data, err := src.ReadRange(2, 4)
	require.NoError(t, err)
	require.Equal(t, "2345", string(data))

	// Extending past the end returns the available tail.
	data, err = src.ReadRange(8, 100)
	require.NoError(t, err)
	require.Equal(t, "89", string(data))

	// At or past the end is empty, not an error.
	data, err = src.ReadRange(10, 1)
	require.NoError(t, err)
	require.Empty(t, data)

	data, err = src.ReadRange(500, 1)
	require.NoError(t, err)
	require.Empty(t, data)

	// Degenerate requests.
	data, err = src.ReadRange(-1, 4)
	require.NoError(t, err)
	require.Empty(t, data)

	data, err = src.ReadRange(0, 0)
	require.NoError(t, err)
	require.Empty(t, data)
}

func TestNewReader_SequentialScan(t *testing.T) {
	src := NewMemorySource([]byte("hello world"), "mem")

	out, err := io.ReadAll(NewReader(src))
	require.NoError(t, err)
	require.Equal(t, "hello world", string(out))
}
