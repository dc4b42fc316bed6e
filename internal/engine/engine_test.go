package engine

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/familiar/internal/config"
	"github.com/lazypower/familiar/internal/errs"
	"github.com/lazypower/familiar/internal/lexicon"
	"github.com/lazypower/familiar/internal/memory"
	"github.com/lazypower/familiar/internal/patterns"
	"github.com/lazypower/familiar/internal/store"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func testEngine(t *testing.T) (*Engine, *clock) {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	c := &clock{t: t0}
	e, err := New(db, config.Default(), nil, WithClock(c.now))
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e, c
}

func TestProcessUtteranceScenario(t *testing.T) {
	e, _ := testEngine(t)

	m, err := e.ProcessUtteranceAt("Eu sou o Carlos e trabalho como professor.", t0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, m.Confidence)
	assert.False(t, m.Ambiguous)

	carlos, err := e.User(m.ProfileID)
	require.NoError(t, err)
	assert.Equal(t, "Carlos", carlos.CanonicalName)
	assert.Equal(t, "professor", carlos.Facts["profession"])

	m2, err := e.ProcessUtteranceAt("Vou corrigir os testes dos alunos", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, carlos.ID, m2.ProfileID)
	assert.False(t, m2.Ambiguous)

	m3, err := e.ProcessUtteranceAt("Bora jogar futebol", t0.Add(2*time.Minute))
	require.NoError(t, err)
	if m3.ProfileID == carlos.ID {
		assert.True(t, m3.Ambiguous)
	}

	_, err = e.ProcessUtterance("   ")
	assert.Equal(t, errs.InvalidArgument, errs.KindOf(err))
}

func TestRememberResolvesOwner(t *testing.T) {
	e, _ := testEngine(t)

	global, err := e.Remember(memory.Input{Content: "the wifi password is on the fridge"})
	require.NoError(t, err)
	assert.Equal(t, memory.GlobalOwner, global.OwnerID)

	ana, err := e.CreateUser("Ana")
	require.NoError(t, err)
	cur, ok := e.CurrentUser()
	require.True(t, ok, "the first user becomes current")
	assert.Equal(t, ana.ID, cur.ID)

	mine, err := e.Remember(memory.Input{Content: "Ana is allergic to peanuts", Importance: memory.Critical})
	require.NoError(t, err)
	assert.Equal(t, ana.ID, mine.OwnerID)

	_, err = e.Remember(memory.Input{Content: "x", Owner: "ghost"})
	assert.True(t, errors.Is(err, errs.ErrNotFound))

	res, err := e.Recall("peanuts", memory.Filter{}, 0)
	require.NoError(t, err)
	require.Len(t, res, 2, "current owner plus global memories")
	assert.Equal(t, mine.ID, res[0].Entry.ID)
}

func TestRememberInfersTagsAndImportance(t *testing.T) {
	e, _ := testEngine(t)

	cases := []struct {
		content string
		tags    []string
		imp     memory.Importance
	}{
		{"URGENT: call the hospital about the results", []string{"health"}, memory.Critical},
		{"Preciso de marcar consulta no médico", []string{"health"}, memory.High},
		{"I love the guitar concert we saw last night", []string{"music"}, memory.High},
		{"The quarterly budget review covers next year", nil, memory.Medium},
		{"buy bread", nil, memory.Low},
	}
	for _, tc := range cases {
		t.Run(tc.content, func(t *testing.T) {
			m, err := e.Remember(memory.Input{Content: tc.content})
			require.NoError(t, err)
			assert.Equal(t, tc.imp, m.Importance)
			if tc.tags == nil {
				assert.Empty(t, m.Tags)
			} else {
				assert.Equal(t, tc.tags, m.Tags)
			}
		})
	}

	m, err := e.Remember(memory.Input{Content: "urgent hospital visit", Importance: memory.Trivial, Tags: []string{"errand"}})
	require.NoError(t, err)
	assert.Equal(t, memory.Trivial, m.Importance, "explicit importance is kept")
	assert.Equal(t, []string{"errand"}, m.Tags, "explicit tags are kept")
}

func TestOrdinarySentencesDoNotSwitchUser(t *testing.T) {
	e, _ := testEngine(t)
	m, err := e.ProcessUtteranceAt("Eu sou o Carlos e trabalho como professor.", t0)
	require.NoError(t, err)
	carlos := m.ProfileID

	for i, text := range []string{
		"This is London calling",
		"I'm Portuguese, you know",
		"Ela fala Inglês muito bem",
		"Aqui é Lisboa, não Porto",
	} {
		got, err := e.ProcessUtteranceAt(text, t0.Add(time.Duration(i+1)*time.Minute))
		require.NoError(t, err)
		assert.False(t, got.Explicit, text)
		assert.False(t, got.Created, text)

		cur, ok := e.CurrentUser()
		require.True(t, ok)
		assert.Equal(t, carlos, cur.ID, text)
	}
	assert.Len(t, e.ListUsers(), 1)
}

func TestDeleteUserCascades(t *testing.T) {
	e, _ := testEngine(t)
	ana, _ := e.CreateUser("Ana")
	bia, _ := e.CreateUser("Bia")
	cid, _ := e.CreateUser("Cid")

	_, err := e.Remember(memory.Input{Content: "Bia plays cello", Owner: bia.ID})
	require.NoError(t, err)
	_, err = e.Remember(memory.Input{Content: "Cid collects stamps", Owner: cid.ID})
	require.NoError(t, err)

	rep, err := e.DeleteUser(bia.ID, DeleteOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Memories)
	assert.Empty(t, e.Memories(bia.ID))

	rep, err = e.DeleteUser(cid.ID, DeleteOptions{ReassignTo: memory.GlobalOwner})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Memories)
	assert.Len(t, e.Memories(memory.GlobalOwner), 1)

	_, err = e.DeleteUser(ana.ID, DeleteOptions{})
	assert.Equal(t, errs.InvalidOperation, errs.KindOf(err), "last profile")
	assert.Len(t, e.ListUsers(), 1)
}

func TestDeleteCurrentUserNeedsReplacement(t *testing.T) {
	e, _ := testEngine(t)
	ana, _ := e.CreateUser("Ana")
	bia, _ := e.CreateUser("Bia")

	_, err := e.DeleteUser(ana.ID, DeleteOptions{})
	assert.Equal(t, errs.AmbiguousState, errs.KindOf(err))

	_, err = e.DeleteUser(ana.ID, DeleteOptions{Replacement: bia.ID, ReassignTo: ana.ID})
	assert.Equal(t, errs.InvalidArgument, errs.KindOf(err))

	_, err = e.DeleteUser(ana.ID, DeleteOptions{Replacement: bia.ID})
	require.NoError(t, err)
	cur, ok := e.CurrentUser()
	require.True(t, ok)
	assert.Equal(t, bia.ID, cur.ID)
}

func TestForgetCurrent(t *testing.T) {
	e, _ := testEngine(t)
	e.CreateUser("Ana")
	bia, _ := e.CreateUser("Bia")
	_, err := e.SwitchUser("bia")
	require.NoError(t, err)
	e.Remember(memory.Input{Content: "Bia hates mornings"})

	p, rep, err := e.ForgetCurrent()
	require.NoError(t, err)
	assert.Equal(t, bia.ID, p.ID)
	assert.Equal(t, 1, rep.Memories)
	_, ok := e.CurrentUser()
	assert.False(t, ok)
	assert.Zero(t, e.MemoryCount())
}

func TestSwitchUser(t *testing.T) {
	e, _ := testEngine(t)
	ana, _ := e.CreateUser("Ana")
	e.CreateUser("Bia")

	p, err := e.SwitchUser(ana.ID)
	require.NoError(t, err)
	assert.Equal(t, ana.ID, p.ID)

	_, err = e.SwitchUser("Zé")
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
}

func TestHandleCommand(t *testing.T) {
	e, _ := testEngine(t)

	_, ok, err := e.HandleCommand("what a lovely day")
	require.NoError(t, err)
	assert.False(t, ok)

	res, ok, err := e.HandleCommand("create user Ana")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, lexicon.CmdCreateUser, res.Command)
	require.NotNil(t, res.Profile)
	assert.Equal(t, "Ana", res.Profile.CanonicalName)

	e.HandleCommand("create user Bia")
	res, _, err = e.HandleCommand("switch to Bia")
	require.NoError(t, err)
	assert.Equal(t, "Bia", res.Profile.CanonicalName)

	res, _, _ = e.HandleCommand("who am I?")
	assert.Equal(t, "you are Bia", res.Message)

	res, _, _ = e.HandleCommand("list users")
	assert.Len(t, res.Profiles, 2)

	_, _, err = e.HandleCommand("delete user Bia")
	assert.Equal(t, errs.AmbiguousState, errs.KindOf(err), "Bia is current")

	res, _, err = e.HandleCommand("forget me")
	require.NoError(t, err)
	assert.Equal(t, lexicon.CmdForgetMe, res.Command)
	assert.Len(t, e.ListUsers(), 1)
}

func TestPatternsFromActions(t *testing.T) {
	e, _ := testEngine(t)
	ana, _ := e.CreateUser("Ana")

	for day := 0; day < 5; day++ {
		start := t0.AddDate(0, 0, day)
		require.NoError(t, e.RecordAction("", "lights_on", start))
		require.NoError(t, e.RecordAction("", "make_coffee", start.Add(2*time.Minute)))
	}
	assert.Equal(t, errs.InvalidArgument, errs.KindOf(e.RecordAction("", " ", t0)))

	ps, err := e.Patterns(ana.ID)
	require.NoError(t, err)
	var seq *patterns.Pattern
	for i := range ps {
		if ps[i].Type == patterns.Sequence {
			seq = &ps[i]
		}
	}
	require.NotNil(t, seq)
	assert.Equal(t, "lights_on", seq.Metadata["first"])
	assert.Equal(t, "make_coffee", seq.Metadata["then"])

	_, err = e.Patterns("ghost")
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
}

func TestStateSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "familiar.db")
	cfg := config.Default()
	cfg.Database.Path = path

	e, err := Open(cfg, nil)
	require.NoError(t, err)
	m, err := e.ProcessUtteranceAt("My name is Dora and I work as a nurse", t0)
	require.NoError(t, err)
	mem, err := e.Remember(memory.Input{Content: "Dora works night shifts", Tags: []string{"work"}})
	require.NoError(t, err)
	require.NoError(t, e.RecordAction("", "alarm_set", t0))
	require.NoError(t, e.Close())

	e2, err := Open(cfg, nil)
	require.NoError(t, err)
	defer e2.Close()

	cur, ok := e2.CurrentUser()
	require.True(t, ok)
	assert.Equal(t, m.ProfileID, cur.ID)
	assert.Equal(t, "Dora", cur.CanonicalName)

	got, err := e2.Memory(mem.ID)
	require.NoError(t, err)
	assert.Equal(t, m.ProfileID, got.OwnerID)
	assert.Equal(t, []string{"work"}, got.Tags)
	assert.Len(t, e2.actions[m.ProfileID], 1)
	assert.Len(t, e2.utterances[m.ProfileID], 1)
}

func TestStartMaintenanceRejectsBadSchedule(t *testing.T) {
	db, err := store.OpenMemory()
	require.NoError(t, err)
	cfg := config.Default()
	cfg.Memory.Schedule = "every tuesday"
	e, err := New(db, cfg, nil)
	require.NoError(t, err)
	defer e.Close()

	assert.Error(t, e.StartMaintenance())
}

func TestMaintenanceStops(t *testing.T) {
	e, _ := testEngine(t)
	require.NoError(t, e.StartMaintenance())
	e.Stop()
	e.Stop()
}
