package memory

import "math"

// Health rates a memory population.
type Health struct {
	Status         string  `json:"status"` // empty, poor, fair, good or excellent
	Score          float64 `json:"score"`  // 0..100
	EmotionalRatio float64 `json:"emotional_ratio"`
}

// Summary describes the stored memories of one owner, or of everyone.
type Summary struct {
	Total          int            `json:"total"`
	ByType         map[Type]int   `json:"by_type"`
	ByImportance   map[string]int `json:"by_importance"`
	AverageAccess  float64        `json:"average_access"`
	ImportantRatio float64        `json:"important_ratio"` // HIGH or CRITICAL
	Health         Health         `json:"health"`
}

// Summary counts owner's memories by type and importance and rates their
// health. An empty owner summarizes every memory.
//
// The health score rewards important memories (up to 50), regular use (up
// to 30 once the average access count exceeds one) and type diversity (5
// per type), and is penalized when more than 30% of memories are
// EMOTIONAL.
func (s *Store) Summary(owner string) Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := Summary{ByType: map[Type]int{}, ByImportance: map[string]int{}}
	accesses, important := 0, 0
	for _, e := range s.entries {
		if owner != "" && e.OwnerID != owner {
			continue
		}
		sum.Total++
		sum.ByType[e.Type]++
		sum.ByImportance[e.Importance.String()]++
		accesses += e.AccessCount
		if e.Importance >= High {
			important++
		}
	}
	if sum.Total == 0 {
		sum.Health = Health{Status: "empty"}
		return sum
	}

	n := float64(sum.Total)
	sum.AverageAccess = round2(float64(accesses) / n)
	sum.ImportantRatio = round2(float64(important) / n)
	emotional := float64(sum.ByType[Emotional]) / n

	score := float64(important) / n * 50
	if avg := float64(accesses) / n; avg > 1 {
		score += math.Min(30, avg*10)
	}
	score += float64(len(sum.ByType)) * 5
	if emotional > 0.3 {
		score -= (emotional - 0.3) * 100
	}
	score = math.Max(0, math.Min(100, score))

	sum.Health = Health{
		Status:         healthStatus(score),
		Score:          math.Round(score*10) / 10,
		EmotionalRatio: round2(emotional),
	}
	return sum
}

func healthStatus(score float64) string {
	switch {
	case score > 80:
		return "excellent"
	case score > 60:
		return "good"
	case score > 40:
		return "fair"
	default:
		return "poor"
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
