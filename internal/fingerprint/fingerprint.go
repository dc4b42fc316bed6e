// Package fingerprint turns one utterance into the lexical feature bundle
// used for speaker matching.
package fingerprint

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/dgraph-io/ristretto"

	"github.com/lazypower/familiar/internal/lexicon"
)

// Fingerprint is the feature bundle extracted from a single utterance.
// Score maps omit zero entries.
type Fingerprint struct {
	ExplicitName string             `json:"explicit_name,omitempty"`
	Topics       map[string]float64 `json:"topics,omitempty"`
	Formality    float64            `json:"formality"`
	Emotions     map[string]float64 `json:"emotions,omitempty"`
	Punctuation  float64            `json:"punctuation"`
	Facts        map[string]string  `json:"facts,omitempty"`
	Tokens       int                `json:"tokens"`
}

// Clone returns a deep copy.
func (f Fingerprint) Clone() Fingerprint {
	out := f
	out.Topics = cloneMap(f.Topics)
	out.Emotions = cloneMap(f.Emotions)
	if f.Facts != nil {
		out.Facts = make(map[string]string, len(f.Facts))
		for k, v := range f.Facts {
			out.Facts[k] = v
		}
	}
	return out
}

func cloneMap(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

const (
	defaultAmplifyStep = 0.25
	defaultAmplifyCap  = 2.0
)

// Extractor is safe for concurrent use.
type Extractor struct {
	lex         *lexicon.Lexicon
	cache       *ristretto.Cache
	amplifyStep float64
	amplifyCap  float64
}

// Option configures an Extractor.
type Option func(*Extractor) error

// WithCache memoizes up to size fingerprints keyed by utterance text.
// A size of zero leaves caching off.
func WithCache(size int64) Option {
	return func(e *Extractor) error {
		if size <= 0 {
			return nil
		}
		c, err := ristretto.NewCache(&ristretto.Config{
			NumCounters:        size * 10,
			MaxCost:            size,
			BufferItems:        64,
			IgnoreInternalCost: true,
		})
		if err != nil {
			return fmt.Errorf("extraction cache: %w", err)
		}
		e.cache = c
		return nil
	}
}

// WithAmplification sets how much each "!" beyond the first multiplies
// emotion scores, and the multiplier's ceiling.
func WithAmplification(step, ceiling float64) Option {
	return func(e *Extractor) error {
		e.amplifyStep = step
		e.amplifyCap = ceiling
		return nil
	}
}

// New creates an Extractor over lx.
func New(lx *lexicon.Lexicon, opts ...Option) (*Extractor, error) {
	e := &Extractor{
		lex:         lx,
		amplifyStep: defaultAmplifyStep,
		amplifyCap:  defaultAmplifyCap,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Close releases the cache, if any.
func (e *Extractor) Close() {
	if e.cache != nil {
		e.cache.Close()
	}
}

// Lexicon returns the lexicon the extractor scores against.
func (e *Extractor) Lexicon() *lexicon.Lexicon {
	return e.lex
}

// Extract computes the fingerprint of text. It depends only on text and the
// lexicon.
func (e *Extractor) Extract(text string) Fingerprint {
	if e.cache != nil {
		if v, ok := e.cache.Get(text); ok {
			return v.(Fingerprint).Clone()
		}
	}
	fp := e.extract(text)
	if e.cache != nil {
		e.cache.Set(text, fp.Clone(), 1)
	}
	return fp
}

func (e *Extractor) extract(text string) Fingerprint {
	tokens := e.lex.Tokenize(text)
	fp := Fingerprint{
		ExplicitName: e.explicitName(text),
		Tokens:       len(tokens),
		Punctuation:  punctuationRatio(text),
		Facts:        e.facts(text),
	}

	exclaims := strings.Count(text, "!")
	if len(tokens) > 0 {
		n := float64(len(tokens))
		fp.Topics = scoreSets(e.lex.Topics, tokens, n, 1)
		fp.Emotions = scoreSets(e.lex.Emotions, tokens, n, e.amplification(exclaims))
	}

	formal := float64(e.lex.Formal.Count(tokens))
	informal := float64(e.lex.Informal.Count(tokens) + exclaims)
	fp.Formality = clamp((formal-informal)/(formal+informal+1), -1, 1)
	return fp
}

// explicitName returns the first self-identified name that is not on the
// stop list.
func (e *Extractor) explicitName(text string) string {
	for _, re := range e.lex.SelfID {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			name := strings.Trim(m[1], "-")
			if name == "" || e.lex.IsStopName(name) {
				continue
			}
			return name
		}
	}
	return ""
}

func (e *Extractor) facts(text string) map[string]string {
	var facts map[string]string
	multi := map[string][]string{}
	for _, fp := range e.lex.Facts {
		for _, m := range fp.Re.FindAllStringSubmatch(text, -1) {
			value := e.lex.Normalizer.Fold(m[1])
			if value == "" {
				continue
			}
			if facts == nil {
				facts = map[string]string{}
			}
			if fp.Multi {
				multi[fp.Key] = append(multi[fp.Key], value)
				continue
			}
			if _, set := facts[fp.Key]; !set {
				facts[fp.Key] = value
			}
		}
	}
	for key, values := range multi {
		facts[key] = JoinFactValues(values...)
	}
	return facts
}

// JoinFactValues merges comma-separated multi-valued facts into a sorted,
// de-duplicated list.
func JoinFactValues(values ...string) string {
	seen := map[string]bool{}
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part != "" && !seen[part] {
				seen[part] = true
				out = append(out, part)
			}
		}
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}

func (e *Extractor) amplification(exclaims int) float64 {
	if exclaims < 2 {
		return 1
	}
	return min(e.amplifyCap, 1+e.amplifyStep*float64(exclaims-1))
}

func scoreSets(sets map[string]*lexicon.TermSet, tokens []string, n, amp float64) map[string]float64 {
	var scores map[string]float64
	for cat, ts := range sets {
		hits := ts.Count(tokens)
		if hits == 0 {
			continue
		}
		if scores == nil {
			scores = map[string]float64{}
		}
		scores[cat] = min(1, float64(hits)/n*amp)
	}
	return scores
}

// punctuationRatio is the share of non-space runes that are punctuation.
func punctuationRatio(text string) float64 {
	var punct, total int
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsPunct(r) {
			punct++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(punct) / float64(total)
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}
