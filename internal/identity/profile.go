// Package identity keeps the user profiles and decides, utterance by
// utterance, who is speaking.
package identity

import (
	"time"

	"github.com/lazypower/familiar/internal/fingerprint"
	"github.com/lazypower/familiar/internal/store"
)

// Aggregate is a profile's exponentially averaged fingerprint.
type Aggregate struct {
	Topics      map[string]float64 `json:"topics,omitempty"`
	Formality   float64            `json:"formality"`
	Emotions    map[string]float64 `json:"emotions,omitempty"`
	Punctuation float64            `json:"punctuation"`
}

// Profile is one known user. A placeholder profile stands in for an
// unnamed speaker until someone introduces themselves.
type Profile struct {
	ID               string            `json:"id"`
	CanonicalName    string            `json:"canonical_name"`
	Aliases          []string          `json:"aliases"`
	Aggregate        Aggregate         `json:"aggregate_fingerprint"`
	Facts            map[string]string `json:"facts,omitempty"`
	Placeholder      bool              `json:"placeholder,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	LastSeen         time.Time         `json:"last_seen"`
	InteractionCount int               `json:"interaction_count"`
}

// DisplayName is the canonical name, or a marker for placeholders.
func (p Profile) DisplayName() string {
	if p.Placeholder && p.CanonicalName == "" {
		return "(unknown)"
	}
	return p.CanonicalName
}

// Clone returns a deep copy.
func (p Profile) Clone() Profile {
	out := p
	out.Aliases = append([]string(nil), p.Aliases...)
	out.Aggregate.Topics = cloneScores(p.Aggregate.Topics)
	out.Aggregate.Emotions = cloneScores(p.Aggregate.Emotions)
	if p.Facts != nil {
		out.Facts = make(map[string]string, len(p.Facts))
		for k, v := range p.Facts {
			out.Facts[k] = v
		}
	}
	return out
}

func cloneScores(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// observe folds one fingerprint into the aggregate with weight alpha.
func (a *Aggregate) observe(fp fingerprint.Fingerprint, alpha float64) {
	a.Topics = emaScores(a.Topics, fp.Topics, alpha)
	a.Emotions = emaScores(a.Emotions, fp.Emotions, alpha)
	a.Formality = (1-alpha)*a.Formality + alpha*fp.Formality
	a.Punctuation = (1-alpha)*a.Punctuation + alpha*fp.Punctuation
}

// negligible scores are dropped to keep aggregates sparse.
const negligible = 1e-4

func emaScores(old, obs map[string]float64, alpha float64) map[string]float64 {
	out := make(map[string]float64, len(old)+len(obs))
	for k, v := range old {
		out[k] = (1 - alpha) * v
	}
	for k, v := range obs {
		out[k] += alpha * v
	}
	for k, v := range out {
		if v < negligible {
			delete(out, k)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ToRecord converts a profile to its persisted form.
func ToRecord(p Profile) store.ProfileRecord {
	return store.ProfileRecord{
		ID:            p.ID,
		CanonicalName: p.CanonicalName,
		Aliases:       append([]string(nil), p.Aliases...),
		Aggregate: store.AggregateRecord{
			Topics:      cloneScores(p.Aggregate.Topics),
			Formality:   p.Aggregate.Formality,
			Emotions:    cloneScores(p.Aggregate.Emotions),
			Punctuation: p.Aggregate.Punctuation,
		},
		Facts:            p.Clone().Facts,
		Placeholder:      p.Placeholder,
		CreatedAt:        p.CreatedAt.UnixMilli(),
		LastSeen:         p.LastSeen.UnixMilli(),
		InteractionCount: p.InteractionCount,
	}
}

// FromRecord converts a persisted record back to a profile.
func FromRecord(r store.ProfileRecord) Profile {
	return Profile{
		ID:            r.ID,
		CanonicalName: r.CanonicalName,
		Aliases:       append([]string(nil), r.Aliases...),
		Aggregate: Aggregate{
			Topics:      cloneScores(r.Aggregate.Topics),
			Formality:   r.Aggregate.Formality,
			Emotions:    cloneScores(r.Aggregate.Emotions),
			Punctuation: r.Aggregate.Punctuation,
		},
		Facts:            Profile{Facts: r.Facts}.Clone().Facts,
		Placeholder:      r.Placeholder,
		CreatedAt:        time.UnixMilli(r.CreatedAt),
		LastSeen:         time.UnixMilli(r.LastSeen),
		InteractionCount: r.InteractionCount,
	}
}
