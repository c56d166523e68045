package index

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/poiesic/waypoint/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeNPY writes a version 1.0 .npy file by hand.
func writeNPY(t *testing.T, descr string, fortran bool, shape string, values any) string {
	t.Helper()

	order := "False"
	if fortran {
		order = "True"
	}
	dict := fmt.Sprintf("{'descr': '%s', 'fortran_order': %s, 'shape': %s, }", descr, order, shape)
	// magic (6) + version (2) + header length (2) + dict + newline, padded to 16
	pad := (16 - (10+len(dict)+1)%16) % 16
	header := dict + strings.Repeat(" ", pad) + "\n"

	var buf bytes.Buffer
	buf.WriteString("\x93NUMPY")
	buf.Write([]byte{1, 0})
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint16(len(header))))
	buf.WriteString(header)
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, values))

	path := filepath.Join(t.TempDir(), "embeddings.npy")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func TestLoadNPY_Float32(t *testing.T) {
	path := writeNPY(t, "<f4", false, "(2, 3)", []float32{1, 2, 3, 4, 5, 6})

	m, err := LoadNPY(path)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Rows)
	assert.Equal(t, 3, m.Dim)
	assert.Equal(t, []float32{4, 5, 6}, m.Row(1))
}

func TestLoadNPY_Float64(t *testing.T) {
	path := writeNPY(t, "<f8", false, "(2, 2)", []float64{0.5, 1.5, 2.5, 3.5})

	m, err := LoadNPY(path)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 1.5, 2.5, 3.5}, m.Data)
}

func TestLoadNPY_FortranOrder(t *testing.T) {
	// column-major storage of [[1 2 3] [4 5 6]]
	path := writeNPY(t, "<f4", true, "(2, 3)", []float32{1, 4, 2, 5, 3, 6})

	m, err := LoadNPY(path)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, m.Data)
}

func TestLoadNPY_Errors(t *testing.T) {
	t.Run("one dimensional", func(t *testing.T) {
		path := writeNPY(t, "<f4", false, "(4,)", []float32{1, 2, 3, 4})
		_, err := LoadNPY(path)
		assert.ErrorIs(t, err, core.ErrDimension)
	})

	t.Run("integer dtype", func(t *testing.T) {
		path := writeNPY(t, "<i4", false, "(1, 2)", []int32{1, 2})
		_, err := LoadNPY(path)
		assert.ErrorIs(t, err, core.ErrLoad)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadNPY(filepath.Join(t.TempDir(), "nope.npy"))
		assert.ErrorIs(t, err, core.ErrLoad)
	})

	t.Run("not numpy", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.npy")
		require.NoError(t, os.WriteFile(path, []byte("hello, world"), 0o600))
		_, err := LoadNPY(path)
		assert.ErrorIs(t, err, core.ErrLoad)
	})
}

func TestWriteAndLoadF32(t *testing.T) {
	dir := t.TempDir()
	m, err := NewMatrix([][]float32{{1, 2, 3}, {4, 5, 6}})
	require.NoError(t, err)

	require.NoError(t, WriteF32(dir, m, Manifest{ModelID: "all-minilm", CatalogFingerprint: "abc"}))

	got, manifest, err := LoadF32(dir)
	require.NoError(t, err)
	assert.Equal(t, m.Data, got.Data)
	assert.Equal(t, 2, got.Rows)
	assert.Equal(t, 3, got.Dim)
	assert.Equal(t, "all-minilm", manifest.ModelID)
	assert.Equal(t, "abc", manifest.CatalogFingerprint)
	assert.Equal(t, DefaultVectorFile, manifest.VectorFile)
	assert.NotEmpty(t, manifest.CreatedAt)

	// every entry point dispatches to the same loader
	for _, path := range []string{dir, filepath.Join(dir, DefaultVectorFile), filepath.Join(dir, ManifestFile)} {
		viaDispatch, mf, err := LoadMatrix(path)
		require.NoError(t, err, path)
		assert.Equal(t, m.Data, viaDispatch.Data)
		assert.NotNil(t, mf)
	}
}

func TestLoadF32_SizeMismatch(t *testing.T) {
	dir := t.TempDir()
	m, err := NewMatrix([][]float32{{1, 2}, {3, 4}})
	require.NoError(t, err)
	require.NoError(t, WriteF32(dir, m, Manifest{}))

	// truncate one float
	path := filepath.Join(dir, DefaultVectorFile)
	require.NoError(t, os.Truncate(path, 12))

	_, _, err = LoadF32(dir)
	assert.ErrorIs(t, err, core.ErrDimension)
}

func TestLoadF32_BadManifest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte("{"), 0o600))
	_, _, err := LoadF32(dir)
	assert.ErrorIs(t, err, core.ErrLoad)

	_, _, err = LoadF32(t.TempDir())
	assert.ErrorIs(t, err, core.ErrLoad)
}

func TestLoadMatrix_NPYAndUnknown(t *testing.T) {
	path := writeNPY(t, "<f4", false, "(1, 2)", []float32{7, 8})
	m, manifest, err := LoadMatrix(path)
	require.NoError(t, err)
	assert.Nil(t, manifest)
	assert.Equal(t, []float32{7, 8}, m.Data)

	other := filepath.Join(t.TempDir(), "vectors.bin")
	require.NoError(t, os.WriteFile(other, []byte{0, 0, 0, 0}, 0o600))
	_, _, err = LoadMatrix(other)
	assert.ErrorIs(t, err, core.ErrLoad)

	_, _, err = LoadMatrix(filepath.Join(t.TempDir(), "missing.npy"))
	assert.ErrorIs(t, err, core.ErrLoad)
}
