package identity

import (
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/lazypower/familiar/internal/fingerprint"
)

// Config tunes implicit matching. Weights need not sum to one; combined
// scores are capped at 1 when reported as confidence.
type Config struct {
	Threshold        float64
	Epsilon          float64
	TopicWeight      float64
	FormalityWeight  float64
	EmotionWeight    float64
	AnalyzerWeight   float64
	ContinuityBonus  float64
	ContinuityDecay  float64       // per turn since last confirmation
	SilenceHalfLife  time.Duration // halves the bonus per span of silence
	AmbiguousPenalty float64       // confidence multiplier on fallback
}

// DefaultConfig mirrors config.Default().
func DefaultConfig() Config {
	return Config{
		Threshold:        0.55,
		Epsilon:          0.05,
		TopicWeight:      0.6,
		FormalityWeight:  0.15,
		EmotionWeight:    0.25,
		AnalyzerWeight:   0.1,
		ContinuityBonus:  0.15,
		ContinuityDecay:  0.8,
		SilenceHalfLife:  30 * time.Minute,
		AmbiguousPenalty: 0.5,
	}
}

// Candidate is one profile's implicit score for an utterance.
type Candidate struct {
	ProfileID string  `json:"profile_id"`
	Score     float64 `json:"score"`
	lastSeen  time.Time
}

// Match is the outcome of identifying one utterance.
type Match struct {
	ProfileID   string                  `json:"profile_id"`
	Name        string                  `json:"name"`
	Confidence  float64                 `json:"confidence"`
	Ambiguous   bool                    `json:"ambiguous"`
	Explicit    bool                    `json:"explicit,omitempty"`
	Created     bool                    `json:"created,omitempty"`
	Candidates  []Candidate             `json:"candidates,omitempty"`
	Fingerprint fingerprint.Fingerprint `json:"-"`
}

// Identifier matches utterances to profiles. It keeps turn-continuity state
// and is not safe for concurrent use; callers serialize Identify with other
// mutations.
type Identifier struct {
	store    *Store
	ext      *fingerprint.Extractor
	analyzer ContextAnalyzer
	cfg      Config
	log      *zap.Logger

	turns       int // implicit utterances since the current profile was confirmed
	lastConfirm time.Time
}

// NewIdentifier wires an Identifier. A nil analyzer means NopAnalyzer.
func NewIdentifier(s *Store, ext *fingerprint.Extractor, analyzer ContextAnalyzer, cfg Config, logger *zap.Logger) *Identifier {
	if analyzer == nil {
		analyzer = NopAnalyzer{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Identifier{store: s, ext: ext, analyzer: analyzer, cfg: cfg, log: logger.Named("identity")}
}

// Confirm marks the current profile as confirmed at t, restoring the full
// continuity bonus. Explicit switches call it.
func (id *Identifier) Confirm(t time.Time) {
	id.turns = 0
	id.lastConfirm = t
}

// Identify decides who said text. An explicit self-identification always
// wins; otherwise every profile is scored and the best one is selected only
// if it clears the threshold and beats the runner-up by more than epsilon.
func (id *Identifier) Identify(text string, at time.Time) (Match, error) {
	fp := id.ext.Extract(text)
	if fp.ExplicitName != "" {
		return id.explicit(fp, at)
	}

	if id.store.Len() == 0 {
		p, err := id.store.UpdateFingerprint(id.store.CreatePlaceholder(at).ID, fp, at)
		if err != nil {
			return Match{}, err
		}
		if err := id.store.SetCurrent(p.ID); err != nil {
			return Match{}, err
		}
		id.Confirm(at)
		id.log.Info("placeholder profile created", zap.String("profile_id", p.ID))
		return Match{ProfileID: p.ID, Name: p.DisplayName(), Ambiguous: true, Created: true, Fingerprint: fp}, nil
	}

	cands := id.Score(text, fp, at)
	top := cands[0]
	ambiguous := top.Score < id.cfg.Threshold ||
		(len(cands) > 1 && top.Score-cands[1].Score < id.cfg.Epsilon)

	if ambiguous {
		id.turns++
		return id.fallback(cands, fp), nil
	}

	p, err := id.store.UpdateFingerprint(top.ProfileID, fp, at)
	if err != nil {
		return Match{}, err
	}
	if err := id.store.SetCurrent(p.ID); err != nil {
		return Match{}, err
	}
	id.Confirm(at)
	return Match{
		ProfileID:   p.ID,
		Name:        p.DisplayName(),
		Confidence:  min(1, top.Score),
		Candidates:  cands,
		Fingerprint: fp,
	}, nil
}

func (id *Identifier) explicit(fp fingerprint.Fingerprint, at time.Time) (Match, error) {
	created := false
	p, ok := id.store.FindByAlias(fp.ExplicitName)
	if !ok {
		var err error
		if cur, hasCur := id.store.Current(); hasCur && cur.Placeholder {
			p, err = id.store.Claim(cur.ID, fp.ExplicitName)
			if err == nil {
				id.log.Info("placeholder profile named", zap.String("profile_id", p.ID), zap.String("name", p.CanonicalName))
			}
		} else {
			p, err = id.store.Create(fp.ExplicitName, at)
			created = err == nil
			if created {
				id.log.Info("profile created", zap.String("profile_id", p.ID), zap.String("name", p.CanonicalName))
			}
		}
		if err != nil {
			return Match{}, err
		}
	}

	p, err := id.store.UpdateFingerprint(p.ID, fp, at)
	if err != nil {
		return Match{}, err
	}
	if err := id.store.SetCurrent(p.ID); err != nil {
		return Match{}, err
	}
	id.Confirm(at)
	return Match{
		ProfileID:   p.ID,
		Name:        p.DisplayName(),
		Confidence:  1,
		Explicit:    true,
		Created:     created,
		Fingerprint: fp,
	}, nil
}

// fallback keeps the current profile with reduced confidence. Without a
// current profile it reports the most recently active near-tie as a hint,
// but changes nothing.
func (id *Identifier) fallback(cands []Candidate, fp fingerprint.Fingerprint) Match {
	m := Match{Ambiguous: true, Candidates: cands, Fingerprint: fp}
	if cur, ok := id.store.Current(); ok {
		m.ProfileID = cur.ID
		m.Name = cur.DisplayName()
		for _, c := range cands {
			if c.ProfileID == cur.ID {
				m.Confidence = min(1, c.Score) * id.cfg.AmbiguousPenalty
			}
		}
		return m
	}

	hint := cands[0]
	for _, c := range cands[1:] {
		if cands[0].Score-c.Score < id.cfg.Epsilon && c.lastSeen.After(hint.lastSeen) {
			hint = c
		}
	}
	m.ProfileID = hint.ProfileID
	m.Confidence = min(1, hint.Score) * id.cfg.AmbiguousPenalty
	if p, err := id.store.Get(hint.ProfileID); err == nil {
		m.Name = p.DisplayName()
	}
	return m
}

// Score returns every profile's implicit score for an utterance, best first.
// Ties go to the most recently active profile.
func (id *Identifier) Score(text string, fp fingerprint.Fingerprint, at time.Time) []Candidate {
	profiles := id.store.List()
	current, _ := id.store.Current()
	bonus := id.continuityBonus(at)

	cands := make([]Candidate, 0, len(profiles))
	for _, p := range profiles {
		s := id.cfg.TopicWeight*vectorOverlap(fp.Topics, p.Aggregate.Topics) +
			id.cfg.FormalityWeight*formalityCloseness(fp.Formality, p.Aggregate.Formality) +
			id.cfg.EmotionWeight*vectorOverlap(fp.Emotions, p.Aggregate.Emotions) +
			id.cfg.AnalyzerWeight*id.analyzer.Score(text, fp, p)
		if p.ID == current.ID {
			s += bonus
		}
		cands = append(cands, Candidate{ProfileID: p.ID, Score: s, lastSeen: p.LastSeen})
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		return cands[i].lastSeen.After(cands[j].lastSeen)
	})
	return cands
}

func (id *Identifier) continuityBonus(at time.Time) float64 {
	bonus := id.cfg.ContinuityBonus * math.Pow(id.cfg.ContinuityDecay, float64(id.turns))
	if id.cfg.SilenceHalfLife > 0 && !id.lastConfirm.IsZero() && at.After(id.lastConfirm) {
		silence := at.Sub(id.lastConfirm)
		bonus *= math.Pow(0.5, float64(silence)/float64(id.cfg.SilenceHalfLife))
	}
	return bonus
}
