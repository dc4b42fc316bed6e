package memory

import (
	"math"
	"slices"
	"sort"
	"time"

	"github.com/lazypower/familiar/internal/errs"
)

// Filter narrows recall candidates. Zero fields do not filter.
type Filter struct {
	Owner         string
	IncludeGlobal bool // with Owner set, also consider GlobalOwner memories
	Type          Type
	Tag           string
	Since         time.Time
	Until         time.Time
	MinRelevance  float64
}

// Result is one recalled memory with the relevance it was ranked by.
type Result struct {
	Entry     Entry   `json:"entry"`
	Relevance float64 `json:"relevance"`
}

// Recall ranks the filtered memories against query and returns at most max
// of them, most relevant first. A memory whose content terms are exactly the
// query's terms ranks ahead of every partial match, whatever its importance
// or use. Every returned memory is reinforced: its access count and
// last-access time are bumped and its decay factor recovers by the
// configured step.
func (s *Store) Recall(query string, f Filter, max int) ([]Result, error) {
	if max <= 0 {
		return nil, errs.E(errs.InvalidArgument, "recall", "", "max results must be positive")
	}
	if f.Tag != "" {
		f.Tag = s.lex.Normalizer.Fold(f.Tag)
	}
	queryTerms := s.lex.ContentTerms(query)

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()

	type scored struct {
		e     *Entry
		score float64
		exact bool
	}
	var ranked []scored
	for _, e := range s.entries {
		if !f.matches(e) {
			continue
		}
		score := s.relevance(e, queryTerms, now)
		if score < f.MinRelevance {
			continue
		}
		ranked = append(ranked, scored{e, score, restates(queryTerms, e)})
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.exact != b.exact {
			return a.exact
		}
		if a.score != b.score {
			return a.score > b.score
		}
		if !a.e.CreatedAt.Equal(b.e.CreatedAt) {
			return a.e.CreatedAt.After(b.e.CreatedAt)
		}
		return a.e.ID < b.e.ID
	})
	if len(ranked) > max {
		ranked = ranked[:max]
	}

	var c changes
	results := make([]Result, len(ranked))
	for i, r := range ranked {
		r.e.AccessCount++
		r.e.LastAccessed = now
		r.e.DecayFactor = min(1, r.e.DecayFactor+s.cfg.Reinforcement)
		c.upsert(r.e)
		results[i] = Result{Entry: r.e.Clone(), Relevance: r.score}
	}
	s.commit(&c)
	return results, nil
}

func (f Filter) matches(e *Entry) bool {
	if f.Owner != "" && e.OwnerID != f.Owner && !(f.IncludeGlobal && e.OwnerID == GlobalOwner) {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Tag != "" && !e.hasTag(f.Tag) {
		return false
	}
	if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.CreatedAt.After(f.Until) {
		return false
	}
	return true
}

// relevance combines term overlap, importance, recency and use.
func (s *Store) relevance(e *Entry, queryTerms []string, now time.Time) float64 {
	recency := e.DecayFactor * halves(now.Sub(e.CreatedAt), s.halfLife(e))
	return s.cfg.OverlapWeight*termOverlap(queryTerms, e) +
		s.cfg.ImportanceWeight*e.Importance.Weight() +
		s.cfg.RecencyWeight*recency +
		s.cfg.AccessWeight*math.Log(float64(e.AccessCount)+1)
}

// termOverlap averages how much of the query the memory covers (content or
// tags) with how much of the memory's content the query accounts for, so
// an exact restatement outranks a longer memory that merely contains it.
func termOverlap(query []string, e *Entry) float64 {
	if len(query) == 0 {
		return 0
	}
	covered, inContent := 0, 0
	for _, q := range query {
		_, found := slices.BinarySearch(e.terms, q)
		if found {
			inContent++
		}
		if found || e.hasTag(q) {
			covered++
		}
	}
	coverage := float64(covered) / float64(len(query))
	precision := 0.0
	if len(e.terms) > 0 {
		precision = float64(inContent) / float64(len(e.terms))
	}
	return 0.5*coverage + 0.5*precision
}

// restates reports whether e's content terms are exactly the query terms.
// Both are sorted and distinct.
func restates(query []string, e *Entry) bool {
	return len(query) > 0 && slices.Equal(query, e.terms)
}
