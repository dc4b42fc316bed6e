package transcript

import (
	"errors"
	"testing"
	"time"

	"github.com/lazypower/familiar/internal/identity"
	"github.com/lazypower/familiar/internal/memory"
)

type fakeSink struct {
	utterances []time.Time
	memories   []memory.Input
	actions    []string
}

func (f *fakeSink) ProcessUtteranceAt(text string, at time.Time) (identity.Match, error) {
	if text == "boom" {
		return identity.Match{}, errors.New("boom")
	}
	f.utterances = append(f.utterances, at)
	return identity.Match{ProfileID: "p1", Ambiguous: text == "hmm"}, nil
}

func (f *fakeSink) Remember(in memory.Input) (memory.Entry, error) {
	f.memories = append(f.memories, in)
	return memory.Entry{ID: "m1"}, nil
}

func (f *fakeSink) RecordAction(owner, action string, at time.Time) error {
	f.actions = append(f.actions, action)
	return nil
}

func TestReplay(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	stamped := start.Add(time.Hour)
	recs := []Record{
		{Text: "I am Dora"},
		{Text: "hmm", At: stamped},
		{Text: "boom", Action: "never_recorded"},
		{Action: "lights_on"},
		{Remember: "Dora works nights", Importance: "high", Type: "semantic"},
		{Remember: "bad", Importance: "enormous"},
	}

	var failures []int
	st := Replay(&fakeSink{}, recs, start, func(i int, err error) { failures = append(failures, i) })
	if st.Utterances != 2 || st.Ambiguous != 1 {
		t.Errorf("utterances = %d ambiguous = %d, want 2 and 1", st.Utterances, st.Ambiguous)
	}
	if st.Actions != 1 || st.Memories != 1 || st.Failed != 2 {
		t.Errorf("stats = %+v", st)
	}
	if len(failures) != 2 || failures[0] != 2 || failures[1] != 5 {
		t.Errorf("failures = %v, want [2 5]", failures)
	}
}

func TestReplaySpacesUnstampedRecords(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	sink := &fakeSink{}
	Replay(sink, []Record{{Text: "one"}, {Text: "two"}}, start, nil)

	if len(sink.utterances) != 2 {
		t.Fatalf("utterances = %d, want 2", len(sink.utterances))
	}
	if !sink.utterances[0].Equal(start.Add(time.Second)) || !sink.utterances[1].Equal(start.Add(2*time.Second)) {
		t.Errorf("times = %v", sink.utterances)
	}
	if sink.memories != nil {
		t.Errorf("unexpected memories %v", sink.memories)
	}
}
