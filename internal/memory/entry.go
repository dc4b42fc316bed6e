// Package memory stores what familiar remembers and ranks it for recall by
// term overlap, importance, recency and use.
package memory

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/lazypower/familiar/internal/errs"
	"github.com/lazypower/familiar/internal/store"
)

// GlobalOwner owns memories not attributed to any profile.
const GlobalOwner = "global"

// Type classifies a memory.
type Type string

const (
	Episodic   Type = "EPISODIC"
	Semantic   Type = "SEMANTIC"
	Procedural Type = "PROCEDURAL"
	Emotional  Type = "EMOTIONAL"
)

// ParseType accepts any case; empty means Episodic.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToUpper(strings.TrimSpace(s))); t {
	case "":
		return Episodic, nil
	case Episodic, Semantic, Procedural, Emotional:
		return t, nil
	default:
		return "", errs.E(errs.InvalidArgument, "parse memory type", s, "unknown type")
	}
}

// Importance ranks how much a memory matters.
type Importance int

const (
	Trivial Importance = iota + 1
	Low
	Medium
	High
	Critical
)

var importanceNames = map[Importance]string{
	Trivial:  "TRIVIAL",
	Low:      "LOW",
	Medium:   "MEDIUM",
	High:     "HIGH",
	Critical: "CRITICAL",
}

func (i Importance) String() string {
	if s, ok := importanceNames[i]; ok {
		return s
	}
	return fmt.Sprintf("Importance(%d)", int(i))
}

// Weight maps importance to (0,1]: TRIVIAL 0.2 up to CRITICAL 1.0.
func (i Importance) Weight() float64 {
	return float64(i) / float64(Critical)
}

// ParseImportance accepts a level name in any case; empty means Medium.
func ParseImportance(s string) (Importance, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if name == "" {
		return Medium, nil
	}
	for imp, n := range importanceNames {
		if n == name {
			return imp, nil
		}
	}
	return 0, errs.E(errs.InvalidArgument, "parse importance", s, "unknown importance")
}

func (i Importance) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

func (i *Importance) UnmarshalText(b []byte) error {
	v, err := ParseImportance(string(b))
	if err != nil {
		return err
	}
	*i = v
	return nil
}

// Entry is one memory.
type Entry struct {
	ID           string     `json:"id"`
	OwnerID      string     `json:"owner_id"`
	Content      string     `json:"content"`
	Type         Type       `json:"type"`
	Importance   Importance `json:"importance"`
	Tags         []string   `json:"tags,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	LastAccessed time.Time  `json:"last_accessed"`
	AccessCount  int        `json:"access_count"`
	DecayFactor  float64    `json:"decay_factor"`
	Associations []string   `json:"associations,omitempty"`
	MergedFrom   []string   `json:"merged_from,omitempty"`

	terms []string // folded content terms, sorted
}

// Clone returns a deep copy.
func (e *Entry) Clone() Entry {
	out := *e
	out.Tags = slices.Clone(e.Tags)
	out.Associations = slices.Clone(e.Associations)
	out.MergedFrom = slices.Clone(e.MergedFrom)
	out.terms = nil
	return out
}

func (e *Entry) hasTag(tag string) bool {
	_, found := slices.BinarySearch(e.Tags, tag)
	return found
}

// associate adds peer to the sorted association set; it reports whether
// anything changed.
func (e *Entry) associate(peer string) bool {
	i, found := slices.BinarySearch(e.Associations, peer)
	if found {
		return false
	}
	e.Associations = slices.Insert(e.Associations, i, peer)
	return true
}

func (e *Entry) dissociate(peer string) bool {
	i, found := slices.BinarySearch(e.Associations, peer)
	if !found {
		return false
	}
	e.Associations = slices.Delete(e.Associations, i, i+1)
	return true
}

// ToRecord converts an entry to its persisted form.
func ToRecord(e Entry) store.MemoryRecord {
	return store.MemoryRecord{
		ID:           e.ID,
		OwnerID:      e.OwnerID,
		Content:      e.Content,
		Type:         string(e.Type),
		Importance:   e.Importance.String(),
		Tags:         slices.Clone(e.Tags),
		CreatedAt:    e.CreatedAt.UnixMilli(),
		LastAccessed: e.LastAccessed.UnixMilli(),
		AccessCount:  e.AccessCount,
		DecayFactor:  e.DecayFactor,
		Associations: slices.Clone(e.Associations),
		MergedFrom:   slices.Clone(e.MergedFrom),
	}
}

// FromRecord validates and converts a persisted record.
func FromRecord(r store.MemoryRecord) (Entry, error) {
	typ, err := ParseType(r.Type)
	if err != nil {
		return Entry{}, errs.Wrap(errs.CorruptRecord, "load memory", r.ID, err)
	}
	imp, err := ParseImportance(r.Importance)
	if err != nil {
		return Entry{}, errs.Wrap(errs.CorruptRecord, "load memory", r.ID, err)
	}
	decay := r.DecayFactor
	if decay <= 0 || decay > 1 {
		decay = 1
	}
	e := Entry{
		ID:           r.ID,
		OwnerID:      r.OwnerID,
		Content:      r.Content,
		Type:         typ,
		Importance:   imp,
		Tags:         slices.Clone(r.Tags),
		CreatedAt:    time.UnixMilli(r.CreatedAt),
		LastAccessed: time.UnixMilli(r.LastAccessed),
		AccessCount:  max(0, r.AccessCount),
		DecayFactor:  decay,
		Associations: slices.Clone(r.Associations),
		MergedFrom:   slices.Clone(r.MergedFrom),
	}
	if e.OwnerID == "" {
		e.OwnerID = GlobalOwner
	}
	slices.Sort(e.Tags)
	e.Tags = slices.Compact(e.Tags)
	slices.Sort(e.Associations)
	e.Associations = slices.Compact(e.Associations)
	return e, nil
}
