package lexicon

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalizer folds text for comparison: names, aliases, lexicon terms.
type Normalizer interface {
	Fold(s string) string
}

// FoldNormalizer lower-cases, strips diacritics and collapses whitespace,
// so "José  Álvares" and "jose alvares" compare equal.
type FoldNormalizer struct{}

func (FoldNormalizer) Fold(s string) string {
	// transform.Transformer values carry state; build one per call.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(strings.ToLower(out)), " ")
}

// Tokenize folds text and splits it into word tokens. Hyphens inside a word
// are kept ("esquecer-me"), leading and trailing ones are not.
func Tokenize(n Normalizer, text string) []string {
	folded := n.Fold(text)
	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	tokens := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "-")
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}
