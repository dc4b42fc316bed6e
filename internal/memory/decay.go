package memory

import (
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Decay lowers every memory's decay factor toward the floor according to
// how long it has gone unaccessed. Factors only ever decrease here; recall
// is what restores them. It returns how many memories changed.
func (s *Store) Decay(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var c changes
	changed := 0
	for _, e := range s.entries {
		factor := math.Max(s.cfg.DecayFloor, halves(now.Sub(e.LastAccessed), s.halfLife(e)))
		if factor >= e.DecayFactor-1e-9 {
			continue
		}
		e.DecayFactor = factor
		c.upsert(e)
		changed++
	}
	s.commit(&c)
	if changed > 0 {
		s.log.Debug("decayed memories", zap.Int("count", changed))
	}
	return changed
}

// prune evicts the least worth keeping memories once the store exceeds
// MaxEntries. keep is never evicted. Callers hold mu.
func (s *Store) prune(keep string, c *changes) {
	over := len(s.entries) - s.cfg.MaxEntries
	if s.cfg.MaxEntries <= 0 || over <= 0 {
		return
	}
	now := s.now()
	type candidate struct {
		id    string
		score float64
		at    time.Time
	}
	cands := make([]candidate, 0, len(s.entries))
	for id, e := range s.entries {
		if id == keep {
			continue
		}
		cands = append(cands, candidate{id, s.retention(e, now), e.CreatedAt})
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score < cands[j].score
		}
		if !cands[i].at.Equal(cands[j].at) {
			return cands[i].at.Before(cands[j].at)
		}
		return cands[i].id < cands[j].id
	})
	evicted := min(over, len(cands))
	for _, cand := range cands[:evicted] {
		s.remove(cand.id, c)
	}
	s.log.Info("pruned memories", zap.Int("evicted", evicted), zap.Int("limit", s.cfg.MaxEntries))
}

// retention scores how worth keeping a memory is: importance, then use,
// then age, all scaled by the decay factor.
func (s *Store) retention(e *Entry, now time.Time) float64 {
	use := math.Min(float64(e.AccessCount), 5) / 5
	age := halves(now.Sub(e.CreatedAt), s.halfLife(e))
	return (e.Importance.Weight()*0.5 + use*0.3 + age*0.2) * e.DecayFactor
}
