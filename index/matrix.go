package index

import (
	"fmt"

	"github.com/poiesic/waypoint/core"
)

// Matrix is a dense row-major float32 matrix.
type Matrix struct {
	Rows int
	Dim  int
	Data []float32
}

// NewMatrix builds a matrix from equal-length rows.
func NewMatrix(rows [][]float32) (*Matrix, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: matrix has no rows", core.ErrDimension)
	}
	dim := len(rows[0])
	data := make([]float32, 0, len(rows)*dim)
	for i, r := range rows {
		if len(r) != dim {
			return nil, fmt.Errorf("%w: row %d has %d values, want %d", core.ErrDimension, i, len(r), dim)
		}
		data = append(data, r...)
	}
	m := &Matrix{Rows: len(rows), Dim: dim, Data: data}
	return m, m.Validate()
}

// Row returns row i. The slice aliases the matrix data.
func (m *Matrix) Row(i int) []float32 {
	return m.Data[i*m.Dim : (i+1)*m.Dim]
}

// Validate checks the shape is consistent with the data.
func (m *Matrix) Validate() error {
	if m.Dim <= 0 {
		return fmt.Errorf("%w: matrix dimension %d", core.ErrDimension, m.Dim)
	}
	if m.Rows < 0 || len(m.Data) != m.Rows*m.Dim {
		return fmt.Errorf("%w: %d values for %dx%d matrix", core.ErrDimension, len(m.Data), m.Rows, m.Dim)
	}
	return nil
}
