// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package index

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/poiesic/waypoint/core"
)

// Searcher finds the k nearest catalog rows to a query vector.
type Searcher interface {
	// Search returns at most k matches ordered by non-increasing score.
	Search(ctx context.Context, vector []float32, k int) ([]core.Match, error)
	// Dim is the vector dimension the index accepts.
	Dim() int
	// Len is the number of indexed rows.
	Len() int
}

// Flat is an exact in-memory index. It is immutable after Build and safe
// for concurrent searches.
type Flat struct {
	metric core.Metric
	rows   int
	dim    int
	data   []float32
}

var _ Searcher = (*Flat)(nil)

// Build copies the matrix into a new index. For cosine similarity every row
// is L2-normalised; all-zero rows stay zero and score 0 against any query.
func Build(matrix *Matrix, metric core.Metric) (*Flat, error) {
	if err := matrix.Validate(); err != nil {
		return nil, err
	}
	if metric != core.MetricCosine && metric != core.MetricEuclidean {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownMetric, metric)
	}

	data := slices.Clone(matrix.Data)
	if metric == core.MetricCosine {
		for i := 0; i < matrix.Rows; i++ {
			normalizeInPlace(data[i*matrix.Dim : (i+1)*matrix.Dim])
		}
	}

	return &Flat{
		metric: metric,
		rows:   matrix.Rows,
		dim:    matrix.Dim,
		data:   data,
	}, nil
}

// Metric returns the similarity metric the index was built with.
func (f *Flat) Metric() core.Metric {
	return f.metric
}

// Dim returns the vector dimension.
func (f *Flat) Dim() int {
	return f.dim
}

// Len returns the number of indexed rows.
func (f *Flat) Len() int {
	return f.rows
}

// Search scores every row against vector and returns the best min(k, Len())
// matches. Equal scores are ordered by position.
func (f *Flat) Search(ctx context.Context, vector []float32, k int) ([]core.Match, error) {
	if len(vector) != f.dim {
		return nil, fmt.Errorf("%w: query has %d values, index has %d", core.ErrDimension, len(vector), f.dim)
	}
	if k <= 0 || f.rows == 0 {
		return []core.Match{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query := vector
	if f.metric == core.MetricCosine {
		query = NormalizeL2(vector)
	}

	matches := make([]core.Match, f.rows)
	for i := 0; i < f.rows; i++ {
		row := f.data[i*f.dim : (i+1)*f.dim]
		var score float32
		if f.metric == core.MetricCosine {
			score = Dot(query, row)
		} else {
			score = -L2DistanceSquared(query, row)
		}
		matches[i] = core.Match{Position: core.Position(i), Score: score}
	}

	// cmp.Compare orders NaN lowest, so NaN scores sink to the end.
	slices.SortStableFunc(matches, func(a, b core.Match) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Position, b.Position)
	})

	if k < len(matches) {
		matches = matches[:k:k]
	}
	return matches, nil
}
