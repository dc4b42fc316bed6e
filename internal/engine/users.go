package engine

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lazypower/familiar/internal/errs"
	"github.com/lazypower/familiar/internal/identity"
	"github.com/lazypower/familiar/internal/memory"
)

// ProcessUtterance identifies the speaker of text as of now.
func (e *Engine) ProcessUtterance(text string) (identity.Match, error) {
	return e.ProcessUtteranceAt(text, e.now())
}

// ProcessUtteranceAt identifies the speaker of text as of at. The utterance
// is logged against the profile only when that profile ends up current;
// a bare hint from an ambiguous match is not attributed.
func (e *Engine) ProcessUtteranceAt(text string, at time.Time) (identity.Match, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return identity.Match{}, errs.E(errs.InvalidArgument, "process utterance", "", "text required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.ident.Identify(text, at)
	if err != nil {
		return identity.Match{}, err
	}
	if cur, ok := e.profiles.Current(); ok && cur.ID == m.ProfileID {
		e.writer.AddUtterance(m.ProfileID, text, at.UnixMilli())
		e.utterances[m.ProfileID] = appendCapped(e.utterances[m.ProfileID], at)
	}
	e.log.Debug("utterance identified",
		zap.String("profile_id", m.ProfileID),
		zap.Float64("confidence", m.Confidence),
		zap.Bool("ambiguous", m.Ambiguous),
		zap.Bool("explicit", m.Explicit))
	return m, nil
}

// ListUsers returns every profile, most recently seen first.
func (e *Engine) ListUsers() []identity.Profile {
	return e.profiles.List()
}

// CurrentUser returns the profile currently assumed to be speaking.
func (e *Engine) CurrentUser() (identity.Profile, bool) {
	return e.profiles.Current()
}

// User returns the profile with id.
func (e *Engine) User(id string) (identity.Profile, error) {
	return e.profiles.Get(id)
}

// CreateUser adds a named profile. It becomes current only when nobody is.
func (e *Engine) CreateUser(name string) (identity.Profile, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	p, err := e.profiles.Create(name, now)
	if err != nil {
		return identity.Profile{}, err
	}
	if _, ok := e.profiles.Current(); !ok {
		if err := e.profiles.SetCurrent(p.ID); err != nil {
			return identity.Profile{}, err
		}
		e.ident.Confirm(now)
	}
	e.log.Info("profile created", zap.String("profile_id", p.ID), zap.String("name", p.CanonicalName))
	return p, nil
}

// SwitchUser makes the profile named (or identified by) who current.
func (e *Engine) SwitchUser(who string) (identity.Profile, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.resolveUser(who)
	if err != nil {
		return identity.Profile{}, err
	}
	if err := e.profiles.SetCurrent(p.ID); err != nil {
		return identity.Profile{}, err
	}
	e.ident.Confirm(e.now())
	e.log.Info("switched user", zap.String("profile_id", p.ID))
	return p, nil
}

// FindUser resolves who as a profile id or alias.
func (e *Engine) FindUser(who string) (identity.Profile, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resolveUser(who)
}

// resolveUser looks who up as a profile id, then as an alias.
func (e *Engine) resolveUser(who string) (identity.Profile, error) {
	who = strings.TrimSpace(who)
	if who == "" {
		return identity.Profile{}, errs.E(errs.InvalidArgument, "resolve user", "", "name or id required")
	}
	if p, err := e.profiles.Get(who); err == nil {
		return p, nil
	}
	if p, ok := e.profiles.FindByAlias(who); ok {
		return p, nil
	}
	return identity.Profile{}, errs.E(errs.NotFound, "resolve user", who, "")
}

// DeleteOptions control what happens around a profile deletion.
type DeleteOptions struct {
	// Replacement becomes current when the deleted profile is current.
	Replacement string
	// ReassignTo receives the profile's memories and activity instead of
	// them being deleted. It may be memory.GlobalOwner.
	ReassignTo string
}

// DeleteReport describes a completed deletion.
type DeleteReport struct {
	ProfileID    string `json:"profile_id"`
	Memories     int    `json:"memories"`
	ReassignedTo string `json:"reassigned_to,omitempty"`
}

// DeleteUser removes a profile and cascades to its memories and activity.
func (e *Engine) DeleteUser(id string, opts DeleteOptions) (DeleteReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if opts.ReassignTo != "" && opts.ReassignTo != memory.GlobalOwner {
		if opts.ReassignTo == id {
			return DeleteReport{}, errs.E(errs.InvalidArgument, "delete profile", id, "cannot reassign memories to the deleted profile")
		}
		if _, err := e.profiles.Get(opts.ReassignTo); err != nil {
			return DeleteReport{}, err
		}
	}
	wasCurrent := false
	if cur, ok := e.profiles.Current(); ok && cur.ID == id {
		wasCurrent = true
	}
	if err := e.profiles.Delete(id, opts.Replacement); err != nil {
		return DeleteReport{}, err
	}
	if wasCurrent {
		e.ident.Confirm(e.now())
	}

	rep := e.cascade(id, opts.ReassignTo)
	e.log.Info("profile deleted",
		zap.String("profile_id", id),
		zap.Int("memories", rep.Memories),
		zap.String("reassigned_to", rep.ReassignedTo))
	return rep, nil
}

// ForgetCurrent deletes the current profile with its memories and activity
// and leaves nobody current.
func (e *Engine) ForgetCurrent() (identity.Profile, DeleteReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.profiles.Forget()
	if err != nil {
		return identity.Profile{}, DeleteReport{}, err
	}
	rep := e.cascade(p.ID, "")
	e.log.Info("profile forgotten", zap.String("profile_id", p.ID), zap.Int("memories", rep.Memories))
	return p, rep, nil
}

// cascade deletes or reassigns what a deleted profile owned. Callers hold mu.
func (e *Engine) cascade(id, reassignTo string) DeleteReport {
	rep := DeleteReport{ProfileID: id, ReassignedTo: reassignTo}
	if reassignTo != "" {
		rep.Memories = e.memories.ReassignOwner(id, reassignTo)
		e.writer.ReassignActivity(id, reassignTo)
		e.utterances[reassignTo] = mergeTimes(e.utterances[reassignTo], e.utterances[id])
		e.actions[reassignTo] = mergeEvents(e.actions[reassignTo], e.actions[id])
	} else {
		rep.Memories = e.memories.Clear(id)
		e.writer.DeleteActivity(id)
	}
	delete(e.utterances, id)
	delete(e.actions, id)
	return rep
}
