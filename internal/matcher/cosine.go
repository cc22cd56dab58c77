package matcher

import "math"

// normalize returns v scaled to unit length as float64, or nil for empty, zero-norm or
// non-finite vectors.
func normalize(v []float32) []float64 {
	if len(v) == 0 {
		return nil
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return nil
	}

	norm = math.Sqrt(norm)
	unit := make([]float64, len(v))
	for i, x := range v {
		unit[i] = float64(x) / norm
	}
	return unit
}

// dot computes the dot product of two unit vectors of equal length, clamped to [-1, 1]
// to absorb floating point error.
func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	if sum > 1 {
		return 1
	}
	if sum < -1 {
		return -1
	}
	return sum
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Returns a value between -1 (opposite) and 1 (identical direction).
// Mismatched lengths and zero vectors yield ok=false.
func CosineSimilarity(a, b []float32) (similarity float64, ok bool) {
	if len(a) != len(b) {
		return 0, false
	}
	ua, ub := normalize(a), normalize(b)
	if ua == nil || ub == nil {
		return 0, false
	}
	return dot(ua, ub), true
}
