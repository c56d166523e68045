package index

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/poiesic/waypoint/core"
)

const (
	// ManifestFile names the JSON manifest inside an index directory.
	ManifestFile = "index_manifest.json"
	// DefaultVectorFile names the raw little-endian float32 vectors.
	DefaultVectorFile = "vectors.f32"

	manifestVersion = 1
)

// Manifest describes an embedding matrix written by the embedding builder.
type Manifest struct {
	IndexVersion       int    `json:"index_version"`
	CreatedAt          string `json:"created_at"`
	CatalogFingerprint string `json:"catalog_fingerprint"`
	ModelID            string `json:"model_id"`
	Rows               int    `json:"rows"`
	Dim                int    `json:"dim"`
	VectorFile         string `json:"vector_file"`
}

// LoadF32 reads a matrix from dir containing manifest + vectors.
func LoadF32(dir string) (*Matrix, *Manifest, error) {
	manifestPath := filepath.Join(dir, ManifestFile)
	b, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: cannot read manifest %s: %w", core.ErrLoad, manifestPath, err)
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, nil, fmt.Errorf("%w: invalid manifest JSON %s: %w", core.ErrLoad, manifestPath, err)
	}
	if m.Dim <= 0 || m.Rows < 0 {
		return nil, nil, fmt.Errorf("%w: invalid shape in manifest: %dx%d", core.ErrDimension, m.Rows, m.Dim)
	}
	if m.VectorFile == "" {
		m.VectorFile = DefaultVectorFile
	}

	data, err := loadVectors(filepath.Join(dir, m.VectorFile), m.Rows, m.Dim)
	if err != nil {
		return nil, nil, err
	}
	return &Matrix{Rows: m.Rows, Dim: m.Dim, Data: data}, &m, nil
}

func loadVectors(path string, rows, dim int) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot open vector file %s: %w", core.ErrLoad, path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: cannot stat vector file %s: %w", core.ErrLoad, path, err)
	}
	expected := int64(rows) * int64(dim) * 4
	if expected != st.Size() {
		return nil, fmt.Errorf("%w: vector file size mismatch: got %d want %d (rows=%d dim=%d)",
			core.ErrDimension, st.Size(), expected, rows, dim)
	}

	out := make([]float32, rows*dim)
	if err := binary.Read(io.LimitReader(f, expected), binary.LittleEndian, out); err != nil {
		return nil, fmt.Errorf("%w: cannot read vectors from %s: %w", core.ErrLoad, path, err)
	}
	return out, nil
}

// WriteF32 writes the matrix and its manifest to dir. Rows, Dim and
// unset bookkeeping fields of the manifest are filled in from the matrix.
func WriteF32(dir string, matrix *Matrix, manifest Manifest) error {
	if err := matrix.Validate(); err != nil {
		return err
	}
	manifest.IndexVersion = manifestVersion
	manifest.Rows = matrix.Rows
	manifest.Dim = matrix.Dim
	if manifest.VectorFile == "" {
		manifest.VectorFile = DefaultVectorFile
	}
	if manifest.CreatedAt == "" {
		manifest.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create index dir %s: %w", dir, err)
	}

	// vectors first so a readable manifest always points at complete data
	vf, err := os.Create(filepath.Join(dir, manifest.VectorFile))
	if err != nil {
		return fmt.Errorf("cannot create vectors file: %w", err)
	}
	if err := binary.Write(vf, binary.LittleEndian, matrix.Data); err != nil {
		_ = vf.Close()
		return fmt.Errorf("cannot write vectors: %w", err)
	}
	if err := vf.Close(); err != nil {
		return err
	}

	mb, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), mb, 0o644); err != nil {
		return fmt.Errorf("cannot write manifest: %w", err)
	}
	return nil
}

// LoadMatrix loads an embedding matrix from a .npy file, a vectors.f32
// file, or a directory holding an index manifest. The manifest is nil for
// numpy input.
func LoadMatrix(path string) (*Matrix, *Manifest, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", core.ErrLoad, err)
	}
	if st.IsDir() {
		return LoadF32(path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".npy":
		m, err := LoadNPY(path)
		return m, nil, err
	case ".f32":
		return LoadF32(filepath.Dir(path))
	case ".json":
		if filepath.Base(path) == ManifestFile {
			return LoadF32(filepath.Dir(path))
		}
	}
	return nil, nil, fmt.Errorf("%w: %s: %w", core.ErrLoad, path, errUnknownFormat)
}

var errUnknownFormat = errors.New("unrecognised embedding format")
