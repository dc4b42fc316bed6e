package engine

import (
	"maps"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/lazypower/familiar/internal/fingerprint"
	"github.com/lazypower/familiar/internal/memory"
)

// Remember stores a memory. An empty owner files it under the current
// profile, or the global owner when nobody is current. Omitted tags are
// taken from the topics the content mentions and omitted importance is
// inferred from the content.
func (e *Engine) Remember(in memory.Input) (memory.Entry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	owner, err := e.resolveOwner(in.Owner)
	if err != nil {
		return memory.Entry{}, err
	}
	in.Owner = owner
	if len(in.Tags) == 0 || in.Importance == 0 {
		fp := e.ext.Extract(in.Content)
		if len(in.Tags) == 0 {
			in.Tags = slices.Sorted(maps.Keys(fp.Topics))
		}
		if in.Importance == 0 {
			in.Importance = e.inferImportance(in.Content, fp)
		}
	}
	m, err := e.memories.Remember(in)
	if err != nil {
		return memory.Entry{}, err
	}
	e.log.Debug("memory stored", zap.String("id", m.ID), zap.String("owner", m.OwnerID))
	return m, nil
}

// inferImportance ranks content by its urgency markers, then by whether it
// expresses an emotion, then by length: short notes are LOW.
func (e *Engine) inferImportance(content string, fp fingerprint.Fingerprint) memory.Importance {
	switch e.lex.UrgencyOf(content) {
	case "critical":
		return memory.Critical
	case "high":
		return memory.High
	}
	if len(fp.Emotions) > 0 {
		return memory.High
	}
	if utf8.RuneCountInString(strings.TrimSpace(content)) < shortMemory {
		return memory.Low
	}
	return memory.Medium
}

// shortMemory is the rune count below which an unmarked memory is LOW.
const shortMemory = 20

// Recall ranks memories against query. A max of zero uses the configured
// default. With no owner in f, the current profile's memories are searched,
// together with global ones when so configured; with nobody current every
// memory is a candidate.
func (e *Engine) Recall(query string, f memory.Filter, max int) ([]memory.Result, error) {
	if max == 0 {
		max = e.cfg.Memory.MaxResults
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if f.Owner == "" {
		if cur, ok := e.profiles.Current(); ok {
			f.Owner = cur.ID
			f.IncludeGlobal = f.IncludeGlobal || e.cfg.Memory.IncludeGlobal
		}
	} else if _, err := e.resolveOwner(f.Owner); err != nil {
		return nil, err
	}
	return e.memories.Recall(query, f, max)
}

// Memory returns one memory without touching its access bookkeeping.
func (e *Engine) Memory(id string) (memory.Entry, error) {
	return e.memories.Get(id)
}

// Memories lists an owner's memories, oldest first. An empty owner lists
// every memory.
func (e *Engine) Memories(owner string) []memory.Entry {
	return e.memories.List(owner)
}

// Associate links two memories.
func (e *Engine) Associate(a, b string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.memories.Associate(a, b)
}

// DeleteMemory removes one memory.
func (e *Engine) DeleteMemory(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.memories.Delete(id)
}

// ClearMemories deletes every memory of owner.
func (e *Engine) ClearMemories(owner string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	owner, err := e.resolveOwner(owner)
	if err != nil {
		return 0, err
	}
	return e.memories.Clear(owner), nil
}

// Consolidate merges near-duplicate memories. A threshold of zero uses the
// configured default.
func (e *Engine) Consolidate(threshold float64) (memory.Report, error) {
	if threshold == 0 {
		threshold = e.cfg.Memory.ConsolidationThreshold
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.memories.Consolidate(threshold)
}

// Decay ages every memory's decay factor as of at.
func (e *Engine) Decay(at time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.memories.Decay(at)
}

// MemorySummary counts and rates owner's memories. An empty owner
// summarizes every memory.
func (e *Engine) MemorySummary(owner string) (memory.Summary, error) {
	if owner != "" {
		if _, err := e.resolveOwner(owner); err != nil {
			return memory.Summary{}, err
		}
	}
	return e.memories.Summary(owner), nil
}

// MemoryCount is the number of stored memories.
func (e *Engine) MemoryCount() int {
	return e.memories.Len()
}
