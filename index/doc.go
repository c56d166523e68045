// Package index provides exact nearest-neighbour search over the catalog
// embedding matrix.
//
// Row i of the matrix is the embedding of catalog record i. Matrices are
// loaded from numpy .npy files or from a directory holding
// index_manifest.json and vectors.f32 (written by the embedding builder).
// Build copies the matrix into a Flat index, normalising rows for cosine
// similarity; Flat.Search scores every row, so results are exact.
//
// Scores are oriented so that higher is always more similar: the cosine
// metric scores by inner product of unit vectors and the euclidean metric
// by negated squared L2 distance.
package index
