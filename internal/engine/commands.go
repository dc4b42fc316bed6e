package engine

import (
	"fmt"
	"strings"

	"github.com/lazypower/familiar/internal/identity"
	"github.com/lazypower/familiar/internal/lexicon"
)

// CommandResult is the outcome of a spoken identity command.
type CommandResult struct {
	Command  lexicon.Command    `json:"command"`
	Message  string             `json:"message"`
	Profile  *identity.Profile  `json:"profile,omitempty"`
	Profiles []identity.Profile `json:"profiles,omitempty"`
}

// HandleCommand runs text as an identity command ("switch to Ana", "who am
// I", "forget me", ...). ok is false when text is not a command, in which
// case it should be processed as an ordinary utterance.
func (e *Engine) HandleCommand(text string) (res CommandResult, ok bool, err error) {
	cmd, arg, ok := e.lex.MatchCommand(text)
	if !ok {
		return CommandResult{}, false, nil
	}
	res.Command = cmd

	switch cmd {
	case lexicon.CmdListUsers:
		res.Profiles = e.ListUsers()
		names := make([]string, len(res.Profiles))
		for i, p := range res.Profiles {
			names[i] = p.DisplayName()
		}
		res.Message = fmt.Sprintf("%d known users: %s", len(names), strings.Join(names, ", "))

	case lexicon.CmdWhoAmI:
		if p, cur := e.CurrentUser(); cur {
			res.Profile = &p
			res.Message = "you are " + p.DisplayName()
		} else {
			res.Message = "I don't know who you are yet"
		}

	case lexicon.CmdSwitchUser:
		p, err := e.SwitchUser(arg)
		if err != nil {
			return res, true, err
		}
		res.Profile = &p
		res.Message = "switched to " + p.DisplayName()

	case lexicon.CmdCreateUser:
		p, err := e.CreateUser(arg)
		if err != nil {
			return res, true, err
		}
		res.Profile = &p
		res.Message = "created " + p.DisplayName()

	case lexicon.CmdDeleteUser:
		p, err := e.resolveUserLocked(arg)
		if err != nil {
			return res, true, err
		}
		rep, err := e.DeleteUser(p.ID, DeleteOptions{})
		if err != nil {
			return res, true, err
		}
		res.Profile = &p
		res.Message = fmt.Sprintf("deleted %s and %d memories", p.DisplayName(), rep.Memories)

	case lexicon.CmdForgetMe:
		p, rep, err := e.ForgetCurrent()
		if err != nil {
			return res, true, err
		}
		res.Profile = &p
		res.Message = fmt.Sprintf("forgot %s and %d memories", p.DisplayName(), rep.Memories)

	default:
		return res, true, fmt.Errorf("unhandled command %q", cmd)
	}
	return res, true, nil
}

func (e *Engine) resolveUserLocked(who string) (identity.Profile, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resolveUser(who)
}
