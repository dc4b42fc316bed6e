package memory

import (
	"slices"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/lazypower/familiar/internal/errs"
)

// Report summarizes one consolidation pass.
type Report struct {
	Clusters int      `json:"clusters"`
	Merged   int      `json:"merged"`
	Removed  []string `json:"removed,omitempty"`
	Before   int      `json:"before"`
	After    int      `json:"after"`
}

// Consolidate merges clusters of near-duplicate memories that share owner
// and type. Every pair inside a cluster is at least threshold similar, so no
// two dissimilar memories are ever merged. The survivor is the most
// important member; it takes the longest content, the union of tags and
// associations, and the sum of access counts. Absorbed ids are recorded in
// MergedFrom and their peers are relinked to the survivor.
func (s *Store) Consolidate(threshold float64) (Report, error) {
	if threshold <= 0 || threshold > 1 {
		return Report{}, errs.E(errs.InvalidArgument, "consolidate", "", "threshold must be in (0,1]")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rep := Report{Before: len(s.entries)}
	var c changes

	groups := map[string][]*Entry{}
	for _, e := range s.entries {
		key := e.OwnerID + "\x00" + string(e.Type)
		groups[key] = append(groups[key], e)
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		for _, cluster := range clusters(groups[k], threshold) {
			if len(cluster) < 2 {
				continue
			}
			rep.Clusters++
			rep.Merged += len(cluster) - 1
			rep.Removed = append(rep.Removed, s.merge(cluster, &c)...)
		}
	}
	s.commit(&c)
	rep.After = len(s.entries)
	if rep.Merged > 0 {
		s.log.Info("consolidated memories",
			zap.Int("clusters", rep.Clusters),
			zap.Int("merged", rep.Merged),
			zap.Int("remaining", rep.After))
	}
	return rep, nil
}

// clusters groups entries by complete linkage: a candidate joins a cluster
// only if it is similar enough to every member. Seeds are taken in survivor
// order, so each cluster's first member is its survivor.
func clusters(group []*Entry, threshold float64) [][]*Entry {
	sort.Slice(group, func(i, j int) bool { return survivorLess(group[i], group[j]) })

	assigned := make([]bool, len(group))
	var out [][]*Entry
	for i, seed := range group {
		if assigned[i] {
			continue
		}
		assigned[i] = true
		cluster := []*Entry{seed}
		for j := i + 1; j < len(group); j++ {
			if assigned[j] {
				continue
			}
			fits := true
			for _, m := range cluster {
				if similarity(m, group[j]) < threshold {
					fits = false
					break
				}
			}
			if fits {
				assigned[j] = true
				cluster = append(cluster, group[j])
			}
		}
		out = append(out, cluster)
	}
	return out
}

// survivorLess orders by importance, then use, then age, then id.
func survivorLess(a, b *Entry) bool {
	if a.Importance != b.Importance {
		return a.Importance > b.Importance
	}
	if a.AccessCount != b.AccessCount {
		return a.AccessCount > b.AccessCount
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// merge folds cluster[1:] into cluster[0] and returns the absorbed ids.
// Callers hold mu.
func (s *Store) merge(cluster []*Entry, c *changes) []string {
	survivor := cluster[0]
	absorbed := make(map[string]bool, len(cluster)-1)
	for _, e := range cluster[1:] {
		absorbed[e.ID] = true
	}

	for _, e := range cluster[1:] {
		if len(e.Content) > len(survivor.Content) {
			survivor.Content = e.Content
			survivor.terms = e.terms
		}
		survivor.Tags = append(survivor.Tags, e.Tags...)
		survivor.AccessCount += e.AccessCount
		if e.CreatedAt.Before(survivor.CreatedAt) {
			survivor.CreatedAt = e.CreatedAt
		}
		if e.LastAccessed.After(survivor.LastAccessed) {
			survivor.LastAccessed = e.LastAccessed
		}
		survivor.DecayFactor = max(survivor.DecayFactor, e.DecayFactor)
		survivor.MergedFrom = append(survivor.MergedFrom, e.ID)
		survivor.MergedFrom = append(survivor.MergedFrom, e.MergedFrom...)
		survivor.Associations = append(survivor.Associations, e.Associations...)
	}
	slices.Sort(survivor.Tags)
	survivor.Tags = slices.Compact(survivor.Tags)
	slices.Sort(survivor.MergedFrom)
	survivor.MergedFrom = slices.Compact(survivor.MergedFrom)
	survivor.Associations = slices.DeleteFunc(survivor.Associations, func(id string) bool {
		return id == survivor.ID || absorbed[id]
	})
	slices.Sort(survivor.Associations)
	survivor.Associations = slices.Compact(survivor.Associations)

	// Relink peers of absorbed entries to the survivor.
	for _, peerID := range survivor.Associations {
		peer, ok := s.entries[peerID]
		if !ok {
			continue
		}
		changed := false
		for id := range absorbed {
			if peer.dissociate(id) {
				changed = true
			}
		}
		if peer.associate(survivor.ID) {
			changed = true
		}
		if changed {
			c.upsert(peer)
		}
	}

	removed := make([]string, 0, len(absorbed))
	for _, e := range cluster[1:] {
		delete(s.entries, e.ID)
		c.remove(e.ID)
		removed = append(removed, e.ID)
	}
	c.upsert(survivor)
	return removed
}

// similarity is the Jaccard index of two memories' content terms. Memories
// with no content terms fall back to character bigrams of the raw text.
func similarity(a, b *Entry) float64 {
	if strings.EqualFold(strings.TrimSpace(a.Content), strings.TrimSpace(b.Content)) {
		return 1
	}
	if len(a.terms) == 0 || len(b.terms) == 0 {
		return jaccard(bigrams(strings.ToLower(a.Content)), bigrams(strings.ToLower(b.Content)))
	}
	return jaccard(toSet(a.terms), toSet(b.terms))
}

func toSet(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}

func bigrams(s string) map[string]bool {
	r := []rune(s)
	if len(r) < 2 {
		return nil
	}
	m := make(map[string]bool, len(r)-1)
	for i := 0; i < len(r)-1; i++ {
		m[string(r[i:i+2])] = true
	}
	return m
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for k := range a {
		if b[k] {
			shared++
		}
	}
	union := len(a) + len(b) - shared
	return float64(shared) / float64(union)
}
