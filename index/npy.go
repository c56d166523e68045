package index

import (
	"fmt"
	"os"

	"github.com/poiesic/waypoint/core"
	"github.com/sbinet/npyio"
)

// LoadNPY reads a 2-D float32 or float64 numpy array. Fortran-ordered
// arrays are transposed into row-major order.
func LoadNPY(path string) (*Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open embeddings: %w", core.ErrLoad, err)
	}
	defer f.Close()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", core.ErrLoad, path, err)
	}

	shape := r.Header.Descr.Shape
	if len(shape) != 2 {
		return nil, fmt.Errorf("%w: %s: expected 2-D array, got shape %v", core.ErrDimension, path, shape)
	}
	rows, dim := shape[0], shape[1]

	var data []float32
	switch r.Header.Descr.Type {
	case "<f4":
		data = make([]float32, rows*dim)
		if err := r.Read(&data); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", core.ErrLoad, path, err)
		}
	case "<f8":
		wide := make([]float64, rows*dim)
		if err := r.Read(&wide); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", core.ErrLoad, path, err)
		}
		data = make([]float32, len(wide))
		for i, v := range wide {
			data[i] = float32(v)
		}
	default:
		return nil, fmt.Errorf("%w: %s: unsupported dtype %q", core.ErrLoad, path, r.Header.Descr.Type)
	}

	if r.Header.Descr.Fortran {
		data = transpose(data, rows, dim)
	}

	m := &Matrix{Rows: rows, Dim: dim, Data: data}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// transpose converts column-major data into row-major.
func transpose(colMajor []float32, rows, dim int) []float32 {
	out := make([]float32, len(colMajor))
	for i := 0; i < rows; i++ {
		for j := 0; j < dim; j++ {
			out[i*dim+j] = colMajor[j*rows+i]
		}
	}
	return out
}
