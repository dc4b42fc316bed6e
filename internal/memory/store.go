package memory

import (
	"math"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/lazypower/familiar/internal/errs"
	"github.com/lazypower/familiar/internal/lexicon"
	"github.com/lazypower/familiar/internal/store"
)

// Backend receives memory changes for persistence. *store.Writer satisfies it.
type Backend interface {
	UpsertMemory(store.MemoryRecord)
	DeleteMemory(id string)
	UpsertMemories([]store.MemoryRecord)
	DeleteMemories(ids []string)
}

type nopBackend struct{}

func (nopBackend) UpsertMemory(store.MemoryRecord)     {}
func (nopBackend) DeleteMemory(string)                 {}
func (nopBackend) UpsertMemories([]store.MemoryRecord) {}
func (nopBackend) DeleteMemories([]string)             {}

// Config weights the recall score and tunes decay.
type Config struct {
	OverlapWeight    float64
	ImportanceWeight float64
	RecencyWeight    float64
	AccessWeight     float64

	HalfLives           map[Importance]time.Duration
	EmotionalDecayScale float64 // multiplies the half-life of EMOTIONAL memories
	Reinforcement       float64 // decay factor gained per recall
	DecayFloor          float64
	MaxEntries          int // 0 means unbounded
}

// DefaultConfig mirrors config.Default().
func DefaultConfig() Config {
	return Config{
		OverlapWeight:    0.55,
		ImportanceWeight: 0.2,
		RecencyWeight:    0.2,
		AccessWeight:     0.05,
		HalfLives: map[Importance]time.Duration{
			Trivial:  24 * time.Hour,
			Low:      3 * 24 * time.Hour,
			Medium:   7 * 24 * time.Hour,
			High:     30 * 24 * time.Hour,
			Critical: 365 * 24 * time.Hour,
		},
		EmotionalDecayScale: 0.5,
		Reinforcement:       0.1,
		DecayFloor:          0.1,
		MaxEntries:          10000,
	}
}

// Store is the in-memory memory registry. All methods are safe for
// concurrent use; mutations are serialized by one lock.
type Store struct {
	cfg     Config
	lex     *lexicon.Lexicon
	backend Backend
	log     *zap.Logger
	now     func() time.Time
	ids     *snowflake.Node

	mu      sync.Mutex
	entries map[string]*Entry
}

// Option configures a Store.
type Option func(*Store)

func WithBackend(b Backend) Option          { return func(s *Store) { s.backend = b } }
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }
func WithLogger(l *zap.Logger) Option       { return func(s *Store) { s.log = l.Named("memory") } }

// NewStore returns an empty Store.
func NewStore(lx *lexicon.Lexicon, cfg Config, opts ...Option) (*Store, error) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, err
	}
	s := &Store{
		cfg:     cfg,
		lex:     lx,
		backend: nopBackend{},
		log:     zap.NewNop(),
		now:     time.Now,
		ids:     node,
		entries: map[string]*Entry{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Input describes a memory to remember.
type Input struct {
	Content    string
	Type       Type
	Importance Importance
	Tags       []string
	Owner      string    // empty means GlobalOwner
	At         time.Time // zero means now
}

// Remember stores a new memory with full decay factor and no accesses.
func (s *Store) Remember(in Input) (Entry, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return Entry{}, errs.E(errs.InvalidArgument, "remember", "", "content required")
	}
	typ := in.Type
	if typ == "" {
		typ = Episodic
	}
	if _, err := ParseType(string(typ)); err != nil {
		return Entry{}, err
	}
	imp := in.Importance
	if imp == 0 {
		imp = Medium
	}
	if imp < Trivial || imp > Critical {
		return Entry{}, errs.E(errs.InvalidArgument, "remember", "", "importance out of range")
	}
	owner := in.Owner
	if owner == "" {
		owner = GlobalOwner
	}
	at := in.At
	if at.IsZero() {
		at = s.now()
	}

	e := &Entry{
		ID:           s.ids.Generate().String(),
		OwnerID:      owner,
		Content:      content,
		Type:         typ,
		Importance:   imp,
		Tags:         s.normalizeTags(in.Tags),
		CreatedAt:    at,
		LastAccessed: at,
		DecayFactor:  1,
	}
	e.terms = s.lex.ContentTerms(content)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.ID] = e
	var c changes
	c.upsert(e)
	s.prune(e.ID, &c)
	s.commit(&c)
	return e.Clone(), nil
}

func (s *Store) normalizeTags(tags []string) []string {
	var out []string
	for _, t := range tags {
		if t = s.lex.Normalizer.Fold(t); t != "" {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Get returns the memory with id.
func (s *Store) Get(id string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return Entry{}, errs.E(errs.NotFound, "get memory", id, "")
	}
	return e.Clone(), nil
}

// List returns an owner's memories, oldest first. An empty owner lists all.
func (s *Store) List(owner string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for _, e := range s.entries {
		if owner == "" || e.OwnerID == owner {
			out = append(out, e.Clone())
		}
	}
	sortByAge(out)
	return out
}

// Len is the number of stored memories.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func sortByAge(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].ID < entries[j].ID
	})
}

// Associate links two memories in both directions. Linking an already
// linked pair changes nothing.
func (s *Store) Associate(a, b string) error {
	if a == b {
		return errs.E(errs.InvalidOperation, "associate", a, "a memory cannot be associated with itself")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ea, ok := s.entries[a]
	if !ok {
		return errs.E(errs.NotFound, "associate", a, "")
	}
	eb, ok := s.entries[b]
	if !ok {
		return errs.E(errs.NotFound, "associate", b, "")
	}
	var c changes
	if ea.associate(b) {
		c.upsert(ea)
	}
	if eb.associate(a) {
		c.upsert(eb)
	}
	s.commit(&c)
	return nil
}

// Delete removes a memory and scrubs it from its peers' associations.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return errs.E(errs.NotFound, "delete memory", id, "")
	}
	var c changes
	s.remove(id, &c)
	s.commit(&c)
	return nil
}

// remove deletes id and unlinks it everywhere. Callers hold mu.
func (s *Store) remove(id string, c *changes) {
	e := s.entries[id]
	delete(s.entries, id)
	for _, peer := range e.Associations {
		if p, ok := s.entries[peer]; ok && p.dissociate(id) {
			c.upsert(p)
		}
	}
	c.remove(id)
}

// Clear deletes every memory of owner and returns how many were removed.
func (s *Store) Clear(owner string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, e := range s.entries {
		if e.OwnerID == owner {
			ids = append(ids, id)
		}
	}
	var c changes
	for _, id := range ids {
		s.remove(id, &c)
	}
	s.commit(&c)
	return len(ids)
}

// ReassignOwner moves every memory of from to to.
func (s *Store) ReassignOwner(from, to string) int {
	if to == "" {
		to = GlobalOwner
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var c changes
	n := 0
	for _, e := range s.entries {
		if e.OwnerID == from {
			e.OwnerID = to
			c.upsert(e)
			n++
		}
	}
	s.commit(&c)
	return n
}

// Load replaces the registry with persisted records. Undecodable records
// are reported and skipped; associations to missing memories are dropped
// and one-sided links are mirrored.
func (s *Store) Load(records []store.MemoryRecord) []error {
	var problems []error
	entries := make(map[string]*Entry, len(records))
	for _, r := range records {
		e, err := FromRecord(r)
		if err != nil {
			problems = append(problems, err)
			continue
		}
		e.terms = s.lex.ContentTerms(e.Content)
		entries[e.ID] = &e
	}
	for id, e := range entries {
		kept := e.Associations[:0]
		for _, peer := range e.Associations {
			if p, ok := entries[peer]; ok && peer != id {
				kept = append(kept, peer)
				p.associate(id)
			}
		}
		e.Associations = kept
	}

	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()
	return problems
}

// halfLife is the recency half-life for an entry's importance and type.
func (s *Store) halfLife(e *Entry) time.Duration {
	hl := s.cfg.HalfLives[e.Importance]
	if hl <= 0 {
		hl = 7 * 24 * time.Hour
	}
	if e.Type == Emotional && s.cfg.EmotionalDecayScale > 0 {
		hl = time.Duration(float64(hl) * s.cfg.EmotionalDecayScale)
	}
	return hl
}

func halves(elapsed, halfLife time.Duration) float64 {
	if elapsed <= 0 {
		return 1
	}
	return math.Pow(0.5, float64(elapsed)/float64(halfLife))
}
