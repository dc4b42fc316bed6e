package memory

import "github.com/lazypower/familiar/internal/store"

// changes collects the writes of one locked pass. Repeated upserts of an
// entry coalesce, and a deleted entry drops its pending upsert, so a pass
// reaches the backend as at most one bulk upsert and one bulk delete.
type changes struct {
	order   []*Entry
	state   map[string]change
	deletes []string
}

type change uint8

const (
	pendingUpsert change = iota + 1
	pendingDelete
)

func (c *changes) upsert(e *Entry) {
	if c.state == nil {
		c.state = map[string]change{}
	}
	if _, seen := c.state[e.ID]; !seen {
		c.state[e.ID] = pendingUpsert
		c.order = append(c.order, e)
	}
}

func (c *changes) remove(id string) {
	if c.state == nil {
		c.state = map[string]change{}
	}
	if c.state[id] != pendingDelete {
		c.state[id] = pendingDelete
		c.deletes = append(c.deletes, id)
	}
}

// commit snapshots the collected entries and hands them to the backend.
// Callers hold mu.
func (s *Store) commit(c *changes) {
	var recs []store.MemoryRecord
	for _, e := range c.order {
		if c.state[e.ID] == pendingUpsert {
			recs = append(recs, ToRecord(*e))
		}
	}
	switch len(recs) {
	case 0:
	case 1:
		s.backend.UpsertMemory(recs[0])
	default:
		s.backend.UpsertMemories(recs)
	}
	switch len(c.deletes) {
	case 0:
	case 1:
		s.backend.DeleteMemory(c.deletes[0])
	default:
		s.backend.DeleteMemories(c.deletes)
	}
}
