package identity

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/familiar/internal/errs"
	"github.com/lazypower/familiar/internal/fingerprint"
	"github.com/lazypower/familiar/internal/lexicon"
	"github.com/lazypower/familiar/internal/store"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type recordingBackend struct {
	upserts []store.ProfileRecord
	deletes []string
	state   map[string]string
}

func newRecordingBackend() *recordingBackend {
	return &recordingBackend{state: map[string]string{}}
}

func (b *recordingBackend) UpsertProfile(r store.ProfileRecord) { b.upserts = append(b.upserts, r) }
func (b *recordingBackend) DeleteProfile(id string)              { b.deletes = append(b.deletes, id) }
func (b *recordingBackend) SetState(k, v string)                 { b.state[k] = v }
func (b *recordingBackend) DeleteState(k string)                 { delete(b.state, k) }

func TestCreateAndAliases(t *testing.T) {
	b := newRecordingBackend()
	s := NewStore(lexicon.FoldNormalizer{}, WithBackend(b))

	p, err := s.Create("José", t0)
	require.NoError(t, err)
	assert.Equal(t, []string{"jose"}, p.Aliases)
	assert.Len(t, b.upserts, 1)

	found, ok := s.FindByAlias("JOSÉ")
	require.True(t, ok)
	assert.Equal(t, p.ID, found.ID)

	_, err = s.Create("jose", t0)
	assert.True(t, errors.Is(err, errs.ErrInvalidOperation))

	_, err = s.Create("  ", t0)
	assert.True(t, errors.Is(err, errs.ErrInvalidArgument))

	other, _ := s.Create("Ana", t0)
	assert.True(t, errors.Is(s.AddAlias(other.ID, "Jose"), errs.ErrInvalidOperation))
	require.NoError(t, s.AddAlias(p.ID, "Zé"))
	require.NoError(t, s.AddAlias(p.ID, "ze"), "re-adding an own alias is a no-op")
	found, ok = s.FindByAlias("ze")
	require.True(t, ok)
	assert.Equal(t, p.ID, found.ID)
}

func TestListSortedByLastSeen(t *testing.T) {
	s := NewStore(lexicon.FoldNormalizer{})
	a, _ := s.Create("Ana", t0)
	b, _ := s.Create("Bia", t0.Add(time.Minute))
	c, _ := s.Create("Caio", t0.Add(2*time.Minute))

	_, err := s.UpdateFingerprint(a.ID, fingerprint.Fingerprint{}, t0.Add(time.Hour))
	require.NoError(t, err)

	list := s.List()
	require.Len(t, list, 3)
	assert.Equal(t, []string{a.ID, c.ID, b.ID}, []string{list[0].ID, list[1].ID, list[2].ID})
}

func TestSnapshotIsolation(t *testing.T) {
	s := NewStore(lexicon.FoldNormalizer{})
	p, _ := s.Create("Ana", t0)

	got, _ := s.Get(p.ID)
	got.Aliases[0] = "mutated"
	got.CanonicalName = "mutated"

	again, _ := s.Get(p.ID)
	assert.Equal(t, "Ana", again.CanonicalName)
	assert.Equal(t, []string{"ana"}, again.Aliases)
}

func TestUpdateFingerprintEMA(t *testing.T) {
	s := NewStore(lexicon.FoldNormalizer{}, WithLearningRate(0.3))
	p, _ := s.Create("Ana", t0)

	p, err := s.UpdateFingerprint(p.ID, fingerprint.Fingerprint{
		Topics:    map[string]float64{"music": 0.4},
		Formality: 0.5,
		Facts:     map[string]string{"relationship": "mae"},
	}, t0)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, p.Aggregate.Topics["music"], 1e-9, "first observation counts fully")
	assert.InDelta(t, 0.5, p.Aggregate.Formality, 1e-9)

	p, _ = s.UpdateFingerprint(p.ID, fingerprint.Fingerprint{
		Topics: map[string]float64{"food": 0.2},
		Facts:  map[string]string{"relationship": "pai", "location": "porto"},
	}, t0)
	assert.InDelta(t, 0.2, p.Aggregate.Topics["music"], 1e-9)
	assert.InDelta(t, 0.1, p.Aggregate.Topics["food"], 1e-9)
	assert.InDelta(t, 0.25, p.Aggregate.Formality, 1e-9)
	assert.Equal(t, "mae,pai", p.Facts["relationship"])
	assert.Equal(t, "porto", p.Facts["location"])
	assert.Equal(t, 2, p.InteractionCount)

	for i := 0; i < 20; i++ {
		p, _ = s.UpdateFingerprint(p.ID, fingerprint.Fingerprint{Topics: map[string]float64{"music": 0.4}}, t0)
	}
	p, _ = s.UpdateFingerprint(p.ID, fingerprint.Fingerprint{Topics: map[string]float64{"sports": 1}}, t0)
	assert.InDelta(t, 0.3, p.Aggregate.Topics["sports"], 1e-9, "an outlier moves an established profile by the learning rate only")
	assert.Greater(t, p.Aggregate.Topics["music"], 0.27)

	_, err = s.UpdateFingerprint("missing", fingerprint.Fingerprint{}, t0)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestDeleteRules(t *testing.T) {
	b := newRecordingBackend()
	s := NewStore(lexicon.FoldNormalizer{}, WithBackend(b))
	only, _ := s.Create("Ana", t0)

	err := s.Delete(only.ID, "")
	assert.True(t, errors.Is(err, errs.ErrInvalidOperation), "last profile")

	assert.True(t, errors.Is(s.Delete("nope", ""), errs.ErrNotFound))

	other, _ := s.Create("Bia", t0)
	require.NoError(t, s.SetCurrent(only.ID))
	assert.Equal(t, only.ID, b.state[CurrentKey])

	err = s.Delete(only.ID, "")
	assert.True(t, errors.Is(err, errs.ErrAmbiguousState))
	assert.True(t, errors.Is(err, errs.ErrInvalidOperation))
	assert.Equal(t, errs.AmbiguousState, errs.KindOf(err))

	assert.True(t, errors.Is(s.Delete(only.ID, "ghost"), errs.ErrNotFound))
	assert.True(t, errors.Is(s.Delete(only.ID, only.ID), errs.ErrInvalidArgument))

	require.NoError(t, s.Delete(only.ID, other.ID))
	cur, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, other.ID, cur.ID)
	assert.Equal(t, other.ID, b.state[CurrentKey])
	assert.Equal(t, []string{only.ID}, b.deletes)
	_, found := s.FindByAlias("ana")
	assert.False(t, found, "aliases are released")
}

func TestDeleteNonCurrent(t *testing.T) {
	s := NewStore(lexicon.FoldNormalizer{})
	a, _ := s.Create("Ana", t0)
	b, _ := s.Create("Bia", t0)
	require.NoError(t, s.SetCurrent(a.ID))

	require.NoError(t, s.Delete(b.ID, ""))
	for _, p := range s.List() {
		assert.NotEqual(t, b.ID, p.ID)
	}
	_, err := s.Get(b.ID)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestForgetCurrent(t *testing.T) {
	b := newRecordingBackend()
	s := NewStore(lexicon.FoldNormalizer{}, WithBackend(b))

	_, err := s.Forget()
	assert.Equal(t, errs.InvalidOperation, errs.KindOf(err), "nothing is current")

	ana, _ := s.Create("Ana", t0)
	require.NoError(t, s.SetCurrent(ana.ID))
	_, err = s.Forget()
	assert.Equal(t, errs.InvalidOperation, errs.KindOf(err), "last profile")

	bia, _ := s.Create("Bia", t0)
	require.NoError(t, s.SetCurrent(bia.ID))
	gone, err := s.Forget()
	require.NoError(t, err)
	assert.Equal(t, bia.ID, gone.ID)

	_, ok := s.Current()
	assert.False(t, ok)
	assert.NotContains(t, b.state, CurrentKey)
	assert.Equal(t, 1, s.Len())
	_, found := s.FindByAlias("bia")
	assert.False(t, found)
}

func TestCurrentPointer(t *testing.T) {
	b := newRecordingBackend()
	s := NewStore(lexicon.FoldNormalizer{}, WithBackend(b))
	_, ok := s.Current()
	assert.False(t, ok)

	assert.True(t, errors.Is(s.SetCurrent("nope"), errs.ErrNotFound))

	p, _ := s.Create("Ana", t0)
	require.NoError(t, s.SetCurrent(p.ID))
	cur, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, p.ID, cur.ID)

	s.ClearCurrent()
	_, ok = s.Current()
	assert.False(t, ok)
	assert.NotContains(t, b.state, CurrentKey)
}

func TestClaimPlaceholder(t *testing.T) {
	s := NewStore(lexicon.FoldNormalizer{})
	ph := s.CreatePlaceholder(t0)
	assert.True(t, ph.Placeholder)
	assert.Equal(t, "(unknown)", ph.DisplayName())

	named, err := s.Claim(ph.ID, "Rita")
	require.NoError(t, err)
	assert.Equal(t, ph.ID, named.ID)
	assert.False(t, named.Placeholder)
	assert.Equal(t, "Rita", named.DisplayName())

	_, err = s.Claim(ph.ID, "Other")
	assert.True(t, errors.Is(err, errs.ErrInvalidOperation))
}

func TestLoadRecords(t *testing.T) {
	s := NewStore(lexicon.FoldNormalizer{})
	records := []store.ProfileRecord{
		{ID: "a", CanonicalName: "Ana", Aliases: []string{"ana"}, LastSeen: 2},
		{ID: "b", CanonicalName: "Ana B", Aliases: []string{"ana"}, LastSeen: 1},
		{ID: "c", CanonicalName: "Caio", Aliases: []string{"caio"}, LastSeen: 3},
	}
	problems := s.Load(records, "a")
	require.Len(t, problems, 1)
	assert.True(t, errors.Is(problems[0], errs.ErrCorruptRecord))

	assert.Equal(t, 2, s.Len())
	cur, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, "a", cur.ID)

	s.Load(records[2:], "a")
	_, ok = s.Current()
	assert.False(t, ok, "dangling current pointer is dropped")
}

func TestRecordRoundTrip(t *testing.T) {
	p := Profile{
		ID:               "x",
		CanonicalName:    "Ana",
		Aliases:          []string{"ana"},
		Aggregate:        Aggregate{Topics: map[string]float64{"music": 0.3}, Formality: -0.2},
		Facts:            map[string]string{"location": "porto"},
		CreatedAt:        time.UnixMilli(t0.UnixMilli()),
		LastSeen:         time.UnixMilli(t0.Add(time.Hour).UnixMilli()),
		InteractionCount: 7,
	}
	assert.Equal(t, p, FromRecord(ToRecord(p)))
}
