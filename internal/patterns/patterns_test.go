package patterns

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/familiar/internal/errs"
	"github.com/lazypower/familiar/internal/identity"
	"github.com/lazypower/familiar/internal/memory"
)

// 2026-03-02 is a Monday.
var monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

type fakeSource struct {
	memories []memory.Entry
	activity []time.Time
	actions  []Event
	profile  *identity.Profile
}

func (f *fakeSource) Memories(string) []memory.Entry { return f.memories }
func (f *fakeSource) Activity(string) []time.Time    { return f.activity }
func (f *fakeSource) Actions(string) []Event         { return f.actions }
func (f *fakeSource) Profile(string) (identity.Profile, bool) {
	if f.profile == nil {
		return identity.Profile{}, false
	}
	return *f.profile, true
}

func byType(ps []Pattern, typ string) []Pattern {
	var out []Pattern
	for _, p := range ps {
		if p.Type == typ {
			out = append(out, p)
		}
	}
	return out
}

func TestSparseHistoryYieldsNothing(t *testing.T) {
	src := &fakeSource{activity: []time.Time{
		monday.Add(8 * time.Hour),
		monday.Add(9 * time.Hour),
		monday.Add(10 * time.Hour),
	}}
	ps, err := NewMiner(src, DefaultConfig()).Analyze("u1")
	require.NoError(t, err)
	assert.Empty(t, ps)
}

func TestTimeAndDayPreference(t *testing.T) {
	src := &fakeSource{}
	for week := 0; week < 6; week++ {
		src.activity = append(src.activity, monday.AddDate(0, 0, 7*week).Add(8*time.Hour))
	}
	src.activity = append(src.activity,
		monday.AddDate(0, 0, 2).Add(19*time.Hour),
		monday.AddDate(0, 0, 4).Add(20*time.Hour))

	ps, err := NewMiner(src, DefaultConfig()).Analyze("u1")
	require.NoError(t, err)

	tod := byType(ps, TimePreference)
	require.Len(t, tod, 1)
	assert.Equal(t, "morning", tod[0].Metadata["period"])
	assert.InDelta(t, 0.75, tod[0].Frequency, 1e-9)
	assert.InDelta(t, 0.75*8/13*1.5, tod[0].Confidence, 1e-9)

	dow := byType(ps, DayPreference)
	require.Len(t, dow, 1)
	assert.Equal(t, "Monday", dow[0].Metadata["weekday"])

	for i := 1; i < len(ps); i++ {
		assert.GreaterOrEqual(t, ps[i-1].Confidence, ps[i].Confidence)
	}
}

func TestFavoriteTopicFromTags(t *testing.T) {
	src := &fakeSource{}
	for i := 0; i < 6; i++ {
		tags := []string{"cooking"}
		if i == 0 {
			tags = append(tags, "garden")
		}
		src.memories = append(src.memories, memory.Entry{ID: string(rune('a' + i)), Tags: tags, CreatedAt: monday.Add(time.Duration(i) * time.Hour)})
	}
	ps, err := NewMiner(src, DefaultConfig()).Analyze("u1")
	require.NoError(t, err)

	topics := byType(ps, FavoriteTopic)
	require.Len(t, topics, 1, "a tag seen once is not a preference")
	assert.Equal(t, "cooking", topics[0].Metadata["tag"])
	assert.Equal(t, 1.0, topics[0].Frequency)
}

func TestTopicAffinityNeedsInteractions(t *testing.T) {
	p := &identity.Profile{ID: "u1", InteractionCount: 2, Aggregate: identity.Aggregate{Topics: map[string]float64{"sports": 0.6}}}
	src := &fakeSource{profile: p}
	m := NewMiner(src, DefaultConfig())

	ps, err := m.Analyze("u1")
	require.NoError(t, err)
	assert.Empty(t, byType(ps, TopicAffinity))

	p.InteractionCount = 20
	ps, err = m.Analyze("u1")
	require.NoError(t, err)
	aff := byType(ps, TopicAffinity)
	require.Len(t, aff, 1)
	assert.Equal(t, "sports", aff[0].Metadata["topic"])
}

func TestEmotionalPatternFromDominantEmotion(t *testing.T) {
	p := &identity.Profile{ID: "u1", InteractionCount: 3, Aggregate: identity.Aggregate{
		Emotions: map[string]float64{"joy": 0.6, "sadness": 0.1, "anger": 0.05},
	}}
	src := &fakeSource{profile: p}
	m := NewMiner(src, DefaultConfig())

	ps, err := m.Analyze("u1")
	require.NoError(t, err)
	assert.Empty(t, byType(ps, Emotional), "too few interactions")

	p.InteractionCount = 30
	ps, err = m.Analyze("u1")
	require.NoError(t, err)
	emo := byType(ps, Emotional)
	require.Len(t, emo, 1)
	assert.Equal(t, "joy", emo[0].Metadata["emotion"])
	assert.InDelta(t, 0.8, emo[0].Frequency, 1e-9)
	assert.LessOrEqual(t, emo[0].Confidence, DefaultConfig().MaxConfidence)

	p.Aggregate.Emotions = map[string]float64{"joy": 0.3, "sadness": 0.3}
	ps, err = m.Analyze("u1")
	require.NoError(t, err)
	emo = byType(ps, Emotional)
	require.Len(t, emo, 1, "an even split still exceeds a 0.4 share")
	assert.Equal(t, "joy", emo[0].Metadata["emotion"], "ties break alphabetically")

	p.Aggregate.Emotions = map[string]float64{"joy": 0.2, "sadness": 0.2, "anger": 0.2}
	ps, err = m.Analyze("u1")
	require.NoError(t, err)
	assert.Empty(t, byType(ps, Emotional), "no emotion dominates")
}

func TestSequencesBreakOnSessionGap(t *testing.T) {
	at := monday.Add(7 * time.Hour)
	var actions []Event
	for day := 0; day < 4; day++ {
		start := at.AddDate(0, 0, day)
		actions = append(actions,
			Event{Name: "lights_on", At: start},
			Event{Name: "make_coffee", At: start.Add(5 * time.Minute)},
			Event{Name: "read_news", At: start.Add(10 * time.Minute)})
	}
	src := &fakeSource{actions: actions}
	ps, err := NewMiner(src, DefaultConfig()).Analyze("u1")
	require.NoError(t, err)

	seqs := byType(ps, Sequence)
	require.Len(t, seqs, 2)
	pairs := map[string]bool{}
	for _, s := range seqs {
		pairs[s.Metadata["first"].(string)+">"+s.Metadata["then"].(string)] = true
		assert.Equal(t, 4, s.Metadata["count"])
		assert.Equal(t, 8, s.Metadata["samples"])
	}
	assert.True(t, pairs["lights_on>make_coffee"])
	assert.True(t, pairs["make_coffee>read_news"])
	assert.False(t, pairs["read_news>lights_on"], "overnight gap ends the session")

	assert.Len(t, byType(ps, FavoriteAction), 3)
}

func TestConfidenceIsMonotonicAndCapped(t *testing.T) {
	m := NewMiner(&fakeSource{}, DefaultConfig())
	assert.Greater(t, m.confidence(0.5, 20), m.confidence(0.5, 6))
	assert.Greater(t, m.confidence(0.6, 10), m.confidence(0.4, 10))
	assert.Equal(t, 0.9, m.confidence(1, 10000))
}

func TestAnalyzeRequiresOwner(t *testing.T) {
	_, err := NewMiner(&fakeSource{}, DefaultConfig()).Analyze("")
	assert.Equal(t, errs.InvalidArgument, errs.KindOf(err))
}
