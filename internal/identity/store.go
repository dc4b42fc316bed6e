package identity

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lazypower/familiar/internal/errs"
	"github.com/lazypower/familiar/internal/fingerprint"
	"github.com/lazypower/familiar/internal/lexicon"
	"github.com/lazypower/familiar/internal/store"
)

// CurrentKey is the state key the current-profile pointer is persisted under.
const CurrentKey = "current_profile"

// Backend receives profile changes for persistence. *store.Writer satisfies it.
type Backend interface {
	UpsertProfile(store.ProfileRecord)
	DeleteProfile(id string)
	SetState(key, value string)
	DeleteState(key string)
}

type nopBackend struct{}

func (nopBackend) UpsertProfile(store.ProfileRecord) {}
func (nopBackend) DeleteProfile(string)              {}
func (nopBackend) SetState(string, string)           {}
func (nopBackend) DeleteState(string)                {}

// snapshot is an immutable view published after every mutation.
type snapshot struct {
	byID    map[string]Profile
	aliases map[string]string
	list    []Profile
	current string
}

// Store holds the profile registry and the current-profile pointer.
// Mutations are serialized internally; Get, List, Current and FindByAlias
// read the latest published snapshot and never wait on a writer.
type Store struct {
	norm         lexicon.Normalizer
	backend      Backend
	learningRate float64

	mu       sync.Mutex
	profiles map[string]*Profile
	aliases  map[string]string
	current  string

	snap atomic.Pointer[snapshot]
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithBackend persists every change through b.
func WithBackend(b Backend) StoreOption {
	return func(s *Store) { s.backend = b }
}

// WithLearningRate sets the floor of the aggregate's moving-average weight.
func WithLearningRate(rate float64) StoreOption {
	return func(s *Store) { s.learningRate = rate }
}

// NewStore returns an empty Store.
func NewStore(n lexicon.Normalizer, opts ...StoreOption) *Store {
	s := &Store{
		norm:         n,
		backend:      nopBackend{},
		learningRate: 0.3,
		profiles:     map[string]*Profile{},
		aliases:      map[string]string{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.publish()
	return s
}

// Load replaces the registry with persisted records. Records whose aliases
// collide with an earlier record are skipped and reported as corrupt. A
// current id that does not resolve leaves the pointer unset.
func (s *Store) Load(records []store.ProfileRecord, current string) []error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles = map[string]*Profile{}
	s.aliases = map[string]string{}
	var problems []error
	for _, r := range records {
		p := FromRecord(r)
		if _, dup := s.profiles[p.ID]; dup {
			problems = append(problems, errs.E(errs.CorruptRecord, "load profile", p.ID, "duplicate id"))
			continue
		}
		conflict := ""
		for _, a := range p.Aliases {
			if _, taken := s.aliases[a]; taken {
				conflict = a
				break
			}
		}
		if conflict != "" {
			problems = append(problems, errs.E(errs.CorruptRecord, "load profile", p.ID, "alias "+conflict+" already in use"))
			continue
		}
		for _, a := range p.Aliases {
			s.aliases[a] = p.ID
		}
		s.profiles[p.ID] = &p
	}
	s.current = ""
	if _, ok := s.profiles[current]; ok {
		s.current = current
	}
	s.publish()
	return problems
}

// Get returns the profile with id.
func (s *Store) Get(id string) (Profile, error) {
	p, ok := s.snap.Load().byID[id]
	if !ok {
		return Profile{}, errs.E(errs.NotFound, "get profile", id, "")
	}
	return p.Clone(), nil
}

// List returns all profiles, most recently seen first.
func (s *Store) List() []Profile {
	list := s.snap.Load().list
	out := make([]Profile, len(list))
	for i, p := range list {
		out[i] = p.Clone()
	}
	return out
}

// Len is the number of profiles.
func (s *Store) Len() int {
	return len(s.snap.Load().list)
}

// Current returns the current profile, if one is set.
func (s *Store) Current() (Profile, bool) {
	snap := s.snap.Load()
	if snap.current == "" {
		return Profile{}, false
	}
	return snap.byID[snap.current].Clone(), true
}

// FindByAlias looks a name up across every profile's aliases.
func (s *Store) FindByAlias(name string) (Profile, bool) {
	snap := s.snap.Load()
	id, ok := snap.aliases[s.norm.Fold(name)]
	if !ok {
		return Profile{}, false
	}
	return snap.byID[id].Clone(), true
}

// Create adds a named profile. The folded name becomes its first alias.
func (s *Store) Create(name string, at time.Time) (Profile, error) {
	alias := s.norm.Fold(name)
	if alias == "" {
		return Profile{}, errs.E(errs.InvalidArgument, "create profile", "", "name required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if owner, taken := s.aliases[alias]; taken {
		return Profile{}, errs.E(errs.InvalidOperation, "create profile", owner, "name "+name+" already belongs to")
	}
	p := &Profile{
		ID:            uuid.NewString(),
		CanonicalName: name,
		Aliases:       []string{alias},
		CreatedAt:     at,
		LastSeen:      at,
	}
	s.profiles[p.ID] = p
	s.aliases[alias] = p.ID
	s.persist(p)
	return p.Clone(), nil
}

// CreatePlaceholder adds an unnamed profile for a speaker nobody has
// identified yet.
func (s *Store) CreatePlaceholder(at time.Time) Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &Profile{
		ID:          uuid.NewString(),
		Placeholder: true,
		CreatedAt:   at,
		LastSeen:    at,
	}
	s.profiles[p.ID] = p
	s.persist(p)
	return p.Clone()
}

// Claim names a placeholder profile, keeping its id (and so its memories).
func (s *Store) Claim(id, name string) (Profile, error) {
	alias := s.norm.Fold(name)
	if alias == "" {
		return Profile{}, errs.E(errs.InvalidArgument, "claim profile", id, "name required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return Profile{}, errs.E(errs.NotFound, "claim profile", id, "")
	}
	if !p.Placeholder {
		return Profile{}, errs.E(errs.InvalidOperation, "claim profile", id, "profile already named")
	}
	if _, taken := s.aliases[alias]; taken {
		return Profile{}, errs.E(errs.InvalidOperation, "claim profile", id, "name "+name+" already in use")
	}
	p.Placeholder = false
	p.CanonicalName = name
	p.Aliases = []string{alias}
	s.aliases[alias] = id
	s.persist(p)
	return p.Clone(), nil
}

// AddAlias attaches another name to a profile.
func (s *Store) AddAlias(id, name string) error {
	alias := s.norm.Fold(name)
	if alias == "" {
		return errs.E(errs.InvalidArgument, "add alias", id, "name required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return errs.E(errs.NotFound, "add alias", id, "")
	}
	if owner, taken := s.aliases[alias]; taken {
		if owner == id {
			return nil
		}
		return errs.E(errs.InvalidOperation, "add alias", id, "alias "+alias+" already in use")
	}
	p.Aliases = append(p.Aliases, alias)
	sort.Strings(p.Aliases)
	s.aliases[alias] = id
	s.persist(p)
	return nil
}

// UpdateFingerprint folds fp into the profile's aggregate, merges extracted
// facts and records the interaction. The averaging weight starts at 1 and
// settles to the learning rate, so early observations count fully and a
// single outlier cannot drag an established profile far.
func (s *Store) UpdateFingerprint(id string, fp fingerprint.Fingerprint, at time.Time) (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return Profile{}, errs.E(errs.NotFound, "update fingerprint", id, "")
	}

	alpha := max(s.learningRate, 1/float64(p.InteractionCount+1))
	p.Aggregate.observe(fp, alpha)
	for k, v := range fp.Facts {
		if p.Facts == nil {
			p.Facts = map[string]string{}
		}
		if k == "relationship" {
			v = fingerprint.JoinFactValues(p.Facts[k], v)
		}
		p.Facts[k] = v
	}
	p.InteractionCount++
	if at.After(p.LastSeen) {
		p.LastSeen = at
	}
	s.persist(p)
	return p.Clone(), nil
}

// Delete removes a profile. Deleting the current profile requires a
// replacement, which becomes current; without one the call fails with
// AmbiguousState. The last remaining profile cannot be deleted.
func (s *Store) Delete(id, replacement string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[id]
	if !ok {
		return errs.E(errs.NotFound, "delete profile", id, "")
	}
	if len(s.profiles) == 1 {
		return errs.E(errs.InvalidOperation, "delete profile", id, "cannot delete the last profile")
	}
	if id == s.current {
		if replacement == "" {
			return &errs.Error{
				Kind: errs.AmbiguousState,
				Op:   "delete profile",
				ID:   id,
				Msg:  "current profile needs a replacement",
				Err:  errs.ErrInvalidOperation,
			}
		}
		if replacement == id {
			return errs.E(errs.InvalidArgument, "delete profile", id, "replacement is the profile being deleted")
		}
		if _, ok := s.profiles[replacement]; !ok {
			return errs.E(errs.NotFound, "delete profile: replacement", replacement, "")
		}
		s.current = replacement
		s.backend.SetState(CurrentKey, replacement)
	}

	for _, a := range p.Aliases {
		delete(s.aliases, a)
	}
	delete(s.profiles, id)
	s.backend.DeleteProfile(id)
	s.publish()
	return nil
}

// Forget deletes the current profile and leaves the pointer unset. The last
// remaining profile cannot be forgotten.
func (s *Store) Forget() (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[s.current]
	if !ok {
		return Profile{}, errs.E(errs.InvalidOperation, "forget profile", "", "no current profile")
	}
	if len(s.profiles) == 1 {
		return Profile{}, errs.E(errs.InvalidOperation, "forget profile", p.ID, "cannot delete the last profile")
	}
	for _, a := range p.Aliases {
		delete(s.aliases, a)
	}
	delete(s.profiles, p.ID)
	s.current = ""
	s.backend.DeleteProfile(p.ID)
	s.backend.DeleteState(CurrentKey)
	s.publish()
	return p.Clone(), nil
}

// SetCurrent points the current-profile pointer at id.
func (s *Store) SetCurrent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[id]; !ok {
		return errs.E(errs.NotFound, "set current", id, "")
	}
	if s.current == id {
		return nil
	}
	s.current = id
	s.backend.SetState(CurrentKey, id)
	s.publish()
	return nil
}

// ClearCurrent unsets the current-profile pointer.
func (s *Store) ClearCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == "" {
		return
	}
	s.current = ""
	s.backend.DeleteState(CurrentKey)
	s.publish()
}

// persist writes p and republishes. Callers hold mu.
func (s *Store) persist(p *Profile) {
	s.backend.UpsertProfile(ToRecord(*p))
	s.publish()
}

// publish builds a fresh snapshot. Callers hold mu (or own s exclusively).
func (s *Store) publish() {
	snap := &snapshot{
		byID:    make(map[string]Profile, len(s.profiles)),
		aliases: make(map[string]string, len(s.aliases)),
		list:    make([]Profile, 0, len(s.profiles)),
		current: s.current,
	}
	for id, p := range s.profiles {
		c := p.Clone()
		snap.byID[id] = c
		snap.list = append(snap.list, c)
	}
	for a, id := range s.aliases {
		snap.aliases[a] = id
	}
	sort.Slice(snap.list, func(i, j int) bool {
		a, b := snap.list[i], snap.list[j]
		if !a.LastSeen.Equal(b.LastSeen) {
			return a.LastSeen.After(b.LastSeen)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	s.snap.Store(snap)
}
