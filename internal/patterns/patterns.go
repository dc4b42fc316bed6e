// Package patterns mines a user's history for regularities: when they talk,
// what they talk about, how they usually feel and which actions they chain
// together.
package patterns

import (
	"fmt"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/lazypower/familiar/internal/errs"
	"github.com/lazypower/familiar/internal/identity"
	"github.com/lazypower/familiar/internal/memory"
)

// Pattern types.
const (
	TimePreference = "time_preference"
	DayPreference  = "day_preference"
	FavoriteTopic  = "favorite_topic"
	TopicAffinity  = "topic_affinity"
	FavoriteAction = "favorite_action"
	Sequence       = "sequence"
	Emotional      = "emotional_pattern"
)

// Pattern is one mined regularity. Patterns are derived on demand and never
// persisted.
type Pattern struct {
	Type        string         `json:"pattern_type"`
	Frequency   float64        `json:"frequency"`
	Confidence  float64        `json:"confidence"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Event is one entry of an action log.
type Event struct {
	Name string
	At   time.Time
}

// Source supplies an owner's history.
type Source interface {
	Memories(owner string) []memory.Entry
	// Activity returns utterance timestamps.
	Activity(owner string) []time.Time
	// Actions returns the action log in chronological order.
	Actions(owner string) []Event
	Profile(owner string) (identity.Profile, bool)
}

// Config sets the minimum sample size and the share a bucket must exceed
// before it counts as a preference.
type Config struct {
	MinSamples    int
	TimeShare     float64
	DayShare      float64
	TopicShare    float64
	ActionShare   float64
	SequenceShare float64
	EmotionShare  float64 // share of the averaged emotion mass the dominant emotion must exceed
	MaxConfidence float64
	Boost         float64
	SessionGap    time.Duration // consecutive actions further apart do not form a sequence
}

// DefaultConfig mirrors config.Default().
func DefaultConfig() Config {
	return Config{
		MinSamples:    5,
		TimeShare:     0.3,
		DayShare:      0.2,
		TopicShare:    0.15,
		ActionShare:   0.05,
		SequenceShare: 0.1,
		EmotionShare:  0.4,
		MaxConfidence: 0.9,
		Boost:         1.5,
		SessionGap:    30 * time.Minute,
	}
}

// Miner derives patterns from a Source.
type Miner struct {
	src Source
	cfg Config
}

func NewMiner(src Source, cfg Config) *Miner {
	if cfg.MinSamples < 1 {
		cfg.MinSamples = 1
	}
	return &Miner{src: src, cfg: cfg}
}

// Analyze returns owner's patterns, most confident first. Histograms with
// fewer than MinSamples observations yield nothing.
func (m *Miner) Analyze(owner string) ([]Pattern, error) {
	if owner == "" {
		return nil, errs.E(errs.InvalidArgument, "analyze patterns", "", "owner required")
	}
	mems := m.src.Memories(owner)

	stamps := m.src.Activity(owner)
	for _, e := range mems {
		stamps = append(stamps, e.CreatedAt)
	}

	var out []Pattern
	out = append(out, m.timeOfDay(stamps)...)
	out = append(out, m.dayOfWeek(stamps)...)
	out = append(out, m.tags(mems)...)
	if p, ok := m.src.Profile(owner); ok {
		out = append(out, m.affinity(p)...)
		out = append(out, m.emotional(p)...)
	}
	actions := m.src.Actions(owner)
	out = append(out, m.favoriteActions(actions)...)
	out = append(out, m.sequences(actions)...)

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Description < out[j].Description
	})
	return out, nil
}

// confidence grows with both frequency and sample size and never exceeds
// MaxConfidence.
func (m *Miner) confidence(freq float64, n int) float64 {
	c := freq * float64(n) / float64(n+m.cfg.MinSamples) * m.cfg.Boost
	return min(m.cfg.MaxConfidence, c)
}

// Part of day for an hour: morning 5-12, afternoon 12-17, evening 17-22,
// night otherwise.
func partOfDay(hour int) string {
	switch {
	case hour >= 5 && hour < 12:
		return "morning"
	case hour >= 12 && hour < 17:
		return "afternoon"
	case hour >= 17 && hour < 22:
		return "evening"
	default:
		return "night"
	}
}

func (m *Miner) timeOfDay(stamps []time.Time) []Pattern {
	counts := map[string]int{}
	for _, t := range stamps {
		counts[partOfDay(t.Hour())]++
	}
	return m.histogram(counts, len(stamps), m.cfg.TimeShare, func(bucket string, c, n int) Pattern {
		return Pattern{
			Type:        TimePreference,
			Description: fmt.Sprintf("usually active in the %s (%d of %s events)", bucket, c, humanize.Comma(int64(n))),
			Metadata:    map[string]any{"period": bucket},
		}
	})
}

func (m *Miner) dayOfWeek(stamps []time.Time) []Pattern {
	counts := map[string]int{}
	for _, t := range stamps {
		counts[t.Weekday().String()]++
	}
	return m.histogram(counts, len(stamps), m.cfg.DayShare, func(bucket string, c, n int) Pattern {
		return Pattern{
			Type:        DayPreference,
			Description: fmt.Sprintf("often active on %ss (%d of %s events)", bucket, c, humanize.Comma(int64(n))),
			Metadata:    map[string]any{"weekday": bucket},
		}
	})
}

func (m *Miner) tags(mems []memory.Entry) []Pattern {
	counts := map[string]int{}
	for _, e := range mems {
		for _, t := range e.Tags {
			counts[t]++
		}
	}
	return m.histogram(counts, len(mems), m.cfg.TopicShare, func(tag string, c, n int) Pattern {
		return Pattern{
			Type:        FavoriteTopic,
			Description: fmt.Sprintf("frequently remembers things about %s (%d of %s memories)", tag, c, humanize.Comma(int64(n))),
			Metadata:    map[string]any{"tag": tag},
		}
	})
}

// affinity reads the profile's averaged topic scores; the interaction count
// is the sample size.
func (m *Miner) affinity(p identity.Profile) []Pattern {
	n := p.InteractionCount
	if n < m.cfg.MinSamples {
		return nil
	}
	var out []Pattern
	for topic, score := range p.Aggregate.Topics {
		if score <= m.cfg.TopicShare {
			continue
		}
		out = append(out, Pattern{
			Type:        TopicAffinity,
			Frequency:   score,
			Confidence:  m.confidence(score, n),
			Description: fmt.Sprintf("tends to talk about %s", topic),
			Metadata:    map[string]any{"topic": topic, "samples": n},
		})
	}
	return out
}

// emotional reports the profile's dominant emotion when it carries more
// than EmotionShare of the averaged emotion scores.
func (m *Miner) emotional(p identity.Profile) []Pattern {
	n := p.InteractionCount
	if n < m.cfg.MinSamples {
		return nil
	}
	var total, best float64
	var dominant string
	for emotion, score := range p.Aggregate.Emotions {
		total += score
		if score > best || (score == best && emotion < dominant) {
			best, dominant = score, emotion
		}
	}
	if total <= 0 {
		return nil
	}
	share := best / total
	if share <= m.cfg.EmotionShare {
		return nil
	}
	return []Pattern{{
		Type:        Emotional,
		Frequency:   share,
		Confidence:  m.confidence(share, n),
		Description: fmt.Sprintf("usually expresses %s", dominant),
		Metadata:    map[string]any{"emotion": dominant, "intensity": best, "samples": n},
	}}
}

func (m *Miner) favoriteActions(actions []Event) []Pattern {
	counts := map[string]int{}
	for _, a := range actions {
		counts[a.Name]++
	}
	return m.histogram(counts, len(actions), m.cfg.ActionShare, func(action string, c, n int) Pattern {
		return Pattern{
			Type:        FavoriteAction,
			Description: fmt.Sprintf("often does %q (%d of %s actions)", action, c, humanize.Comma(int64(n))),
			Metadata:    map[string]any{"action": action},
		}
	})
}

// sequences counts consecutive action pairs. A gap longer than SessionGap
// starts a new session and breaks the chain.
func (m *Miner) sequences(actions []Event) []Pattern {
	counts := map[string]int{}
	pairs := map[string][2]string{}
	total := 0
	for i := 1; i < len(actions); i++ {
		prev, cur := actions[i-1], actions[i]
		if m.cfg.SessionGap > 0 && cur.At.Sub(prev.At) > m.cfg.SessionGap {
			continue
		}
		key := prev.Name + " -> " + cur.Name
		counts[key]++
		pairs[key] = [2]string{prev.Name, cur.Name}
		total++
	}
	return m.histogram(counts, total, m.cfg.SequenceShare, func(key string, c, n int) Pattern {
		pair := pairs[key]
		return Pattern{
			Type:        Sequence,
			Description: fmt.Sprintf("%q is often followed by %q (%d times)", pair[0], pair[1], c),
			Metadata:    map[string]any{"first": pair[0], "then": pair[1]},
		}
	})
}

// histogram emits a pattern for every bucket whose share of n exceeds
// share, once n reaches the minimum sample size. Single occurrences never
// count as a preference.
func (m *Miner) histogram(counts map[string]int, n int, share float64, build func(bucket string, c, n int) Pattern) []Pattern {
	if n < m.cfg.MinSamples {
		return nil
	}
	var out []Pattern
	for bucket, c := range counts {
		freq := float64(c) / float64(n)
		if c < 2 || freq <= share {
			continue
		}
		p := build(bucket, c, n)
		p.Frequency = freq
		p.Confidence = m.confidence(freq, n)
		p.Metadata["count"] = c
		p.Metadata["samples"] = n
		out = append(out, p)
	}
	return out
}
