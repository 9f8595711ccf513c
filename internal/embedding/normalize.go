// Package embedding holds the embedding backends and the helpers they share.
package embedding

import "math"

// Normalize scales vec to unit length in place. A zero vector is left untouched.
func Normalize(vec []float32) {
	norm := 0.0
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
}
