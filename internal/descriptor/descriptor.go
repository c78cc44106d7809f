// Package descriptor holds the vector math shared by the extraction and
// matching paths. Descriptors are fixed-length float vectors emitted by the
// vision capability; their dimensionality is a property of the loaded model
// and is never assumed here.
package descriptor

import "math"

// Normalize returns a unit-length copy of v (L2 norm). A zero vector is
// returned as-is so callers never divide by zero.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	if norm == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// Distance computes the Euclidean distance between two already-normalized
// vectors. Vectors of unequal length are a contract violation; the result is
// +Inf so ranking degrades to "no match" instead of failing the batch.
func Distance(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
