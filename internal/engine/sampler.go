package engine

import "math"

// ArgMax returns the id with the highest score, the lowest id on ties. NaN
// scores are skipped; an empty or all-NaN slice yields -1.
func ArgMax(logits []float32) Token {
	best := -1
	var bestVal float32
	for i, v := range logits {
		if math.IsNaN(float64(v)) {
			continue
		}
		if best < 0 || v > bestVal {
			best, bestVal = i, v
		}
	}
	return Token(best)
}
