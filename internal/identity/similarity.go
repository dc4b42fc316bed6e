package identity

import "math"

// vectorOverlap is the cosine similarity of two sparse score vectors. Two
// empty vectors carry no evidence either way and score 0.5; one empty
// vector scores 0.
func vectorOverlap(a, b map[string]float64) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0.5
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var dot, na, nb float64
	for k, va := range a {
		na += va * va
		if vb, ok := b[k]; ok {
			dot += va * vb
		}
	}
	for _, vb := range b {
		nb += vb * vb
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// formalityCloseness maps the distance between two scores in [-1,1] to [0,1].
func formalityCloseness(a, b float64) float64 {
	return 1 - math.Abs(a-b)/2
}
