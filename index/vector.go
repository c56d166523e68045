package index

import "math"

// NormalizeL2 returns a new vector normalized to unit L2 norm.
// A zero vector is returned unchanged.
func NormalizeL2(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	normalizeInPlace(out)
	return out
}

func normalizeInPlace(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	n := math.Sqrt(sum)
	if n == 0 {
		return
	}
	inv := float32(1.0 / n)
	for i := range v {
		v[i] *= inv
	}
}

// Dot computes the inner product of two vectors of equal length.
func Dot(a, b []float32) float32 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(dot)
}

// L2Distance computes the euclidean distance between two vectors of equal length.
func L2Distance(a, b []float32) float32 {
	return float32(math.Sqrt(float64(L2DistanceSquared(a, b))))
}

// L2DistanceSquared computes the squared euclidean distance, which is what
// euclidean search ranks and scores by.
func L2DistanceSquared(a, b []float32) float32 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return float32(sum)
}
