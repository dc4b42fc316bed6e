package transcript

import (
	"fmt"
	"time"

	"github.com/lazypower/familiar/internal/identity"
	"github.com/lazypower/familiar/internal/memory"
)

// Sink receives replayed records. *engine.Engine satisfies it.
type Sink interface {
	ProcessUtteranceAt(text string, at time.Time) (identity.Match, error)
	Remember(in memory.Input) (memory.Entry, error)
	RecordAction(owner, action string, at time.Time) error
}

// Stats counts what a replay did.
type Stats struct {
	Utterances int `json:"utterances"`
	Ambiguous  int `json:"ambiguous"`
	Memories   int `json:"memories"`
	Actions    int `json:"actions"`
	Failed     int `json:"failed"`
}

// Replay feeds records to sink in order. Within a record the utterance is
// processed first, so an action or memory on the same line is attributed to
// whoever the utterance identified. Records without a timestamp are spaced
// one second after the previous one, starting at start. Failures are
// counted and reported through onError, if set; they do not stop the replay.
func Replay(sink Sink, records []Record, start time.Time, onError func(int, error)) Stats {
	var st Stats
	at := start
	fail := func(i int, err error) {
		st.Failed++
		if onError != nil {
			onError(i, err)
		}
	}

	for i, rec := range records {
		if rec.At.IsZero() {
			at = at.Add(time.Second)
		} else {
			at = rec.At
		}

		if rec.Text != "" {
			m, err := sink.ProcessUtteranceAt(rec.Text, at)
			if err != nil {
				fail(i, err)
				continue
			}
			st.Utterances++
			if m.Ambiguous {
				st.Ambiguous++
			}
		}
		if rec.Action != "" {
			if err := sink.RecordAction("", rec.Action, at); err != nil {
				fail(i, err)
			} else {
				st.Actions++
			}
		}
		if rec.Remember != "" {
			if err := remember(sink, rec, at); err != nil {
				fail(i, err)
			} else {
				st.Memories++
			}
		}
	}
	return st
}

func remember(sink Sink, rec Record, at time.Time) error {
	typ, err := memory.ParseType(rec.Type)
	if err != nil {
		return err
	}
	var imp memory.Importance
	if rec.Importance != "" {
		if imp, err = memory.ParseImportance(rec.Importance); err != nil {
			return err
		}
	}
	if _, err := sink.Remember(memory.Input{
		Content:    rec.Remember,
		Type:       typ,
		Importance: imp,
		Tags:       rec.Tags,
		At:         at,
	}); err != nil {
		return fmt.Errorf("remember: %w", err)
	}
	return nil
}
