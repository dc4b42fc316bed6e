package identity

import (
	"strings"

	"github.com/lazypower/familiar/internal/fingerprint"
	"github.com/lazypower/familiar/internal/lexicon"
)

// ContextAnalyzer contributes an extra [0,1] score for how well an utterance
// fits what is known about a profile beyond its fingerprint.
type ContextAnalyzer interface {
	Score(text string, fp fingerprint.Fingerprint, p Profile) float64
}

// NopAnalyzer contributes nothing.
type NopAnalyzer struct{}

func (NopAnalyzer) Score(string, fingerprint.Fingerprint, Profile) float64 { return 0 }

// FactAnalyzer scores mentions of a profile's known facts: its profession,
// location and relationships. Two mentions saturate the score.
type FactAnalyzer struct {
	Lexicon *lexicon.Lexicon
}

func (a FactAnalyzer) Score(text string, fp fingerprint.Fingerprint, p Profile) float64 {
	if len(p.Facts) == 0 {
		return 0
	}
	tokens := map[string]bool{}
	for _, t := range a.Lexicon.Tokenize(text) {
		tokens[t] = true
	}

	hits := 0
	for key, value := range p.Facts {
		for _, v := range strings.Split(value, ",") {
			if v == "" {
				continue
			}
			if tokens[v] || fp.Facts[key] == v {
				hits++
			}
		}
	}
	return min(1, float64(hits)/2)
}

// NewAnalyzer picks an analyzer by configured name: "facts" or "none".
func NewAnalyzer(name string, lx *lexicon.Lexicon) ContextAnalyzer {
	if name == "facts" {
		return FactAnalyzer{Lexicon: lx}
	}
	return NopAnalyzer{}
}
