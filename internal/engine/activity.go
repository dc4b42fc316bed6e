package engine

import (
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lazypower/familiar/internal/errs"
	"github.com/lazypower/familiar/internal/identity"
	"github.com/lazypower/familiar/internal/memory"
	"github.com/lazypower/familiar/internal/patterns"
)

// RecordAction appends a host action to owner's action log. An empty owner
// means the current profile, or the global owner when nobody is current.
func (e *Engine) RecordAction(owner, action string, at time.Time) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return errs.E(errs.InvalidArgument, "record action", "", "action required")
	}
	if at.IsZero() {
		at = e.now()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	owner, err := e.resolveOwner(owner)
	if err != nil {
		return err
	}
	e.writer.AddAction(owner, action, at.UnixMilli())
	e.actions[owner] = appendEvent(e.actions[owner], patterns.Event{Name: action, At: at})
	e.log.Debug("action recorded", zap.String("owner", owner), zap.String("action", action))
	return nil
}

// Patterns mines owner's history. An empty owner means the current profile.
func (e *Engine) Patterns(owner string) ([]patterns.Pattern, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	owner, err := e.resolveOwner(owner)
	if err != nil {
		return nil, err
	}
	return e.miner.Analyze(owner)
}

// resolveOwner maps "" to the current profile or the global owner, and
// checks that any other owner exists.
func (e *Engine) resolveOwner(owner string) (string, error) {
	switch owner {
	case "":
		if cur, ok := e.profiles.Current(); ok {
			return cur.ID, nil
		}
		return memory.GlobalOwner, nil
	case memory.GlobalOwner:
		return owner, nil
	}
	if _, err := e.profiles.Get(owner); err != nil {
		return "", err
	}
	return owner, nil
}

// source feeds the miner from the engine's state. The miner only runs
// inside Patterns, which holds mu.
type source struct{ e *Engine }

func (s source) Memories(owner string) []memory.Entry {
	return s.e.memories.List(owner)
}

func (s source) Activity(owner string) []time.Time {
	return append([]time.Time(nil), s.e.utterances[owner]...)
}

func (s source) Actions(owner string) []patterns.Event {
	return append([]patterns.Event(nil), s.e.actions[owner]...)
}

func (s source) Profile(owner string) (identity.Profile, bool) {
	p, err := s.e.profiles.Get(owner)
	return p, err == nil
}

func appendCapped(ts []time.Time, t time.Time) []time.Time {
	ts = append(ts, t)
	if len(ts) > activityLimit {
		ts = ts[len(ts)-activityLimit:]
	}
	return ts
}

// appendEvent keeps the log chronological; imported actions may arrive out
// of order.
func appendEvent(evs []patterns.Event, ev patterns.Event) []patterns.Event {
	i := sort.Search(len(evs), func(i int) bool { return evs[i].At.After(ev.At) })
	evs = append(evs, patterns.Event{})
	copy(evs[i+1:], evs[i:])
	evs[i] = ev
	if len(evs) > activityLimit {
		evs = evs[len(evs)-activityLimit:]
	}
	return evs
}

func mergeTimes(a, b []time.Time) []time.Time {
	out := append(append([]time.Time(nil), a...), b...)
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	if len(out) > activityLimit {
		out = out[len(out)-activityLimit:]
	}
	return out
}

func mergeEvents(a, b []patterns.Event) []patterns.Event {
	out := append(append([]patterns.Event(nil), a...), b...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	if len(out) > activityLimit {
		out = out[len(out)-activityLimit:]
	}
	return out
}
