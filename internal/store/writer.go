package store

import (
	"sync"

	"go.uber.org/zap"
)

type writeOp struct {
	name  string
	id    string
	apply func(*DB) error
	done  chan struct{} // set on flush barriers only
}

// Writer applies persistence operations on a background goroutine, in the
// order they were queued, so callers never wait on disk I/O. The queue is
// unbounded: enqueueing never blocks, even while callers hold their own
// locks. Failures are logged; the in-memory state stays authoritative for
// the running process.
type Writer struct {
	db  *DB
	log *zap.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []writeOp
	closed bool
	wg     sync.WaitGroup
}

// NewWriter starts a writer over db.
func NewWriter(db *DB, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Writer{
		db:  db,
		log: logger.Named("writer"),
	}
	w.cond = sync.NewCond(&w.mu)
	w.wg.Add(1)
	go w.run()
	return w
}

func (w *Writer) run() {
	defer w.wg.Done()
	for {
		w.mu.Lock()
		for len(w.queue) == 0 && !w.closed {
			w.cond.Wait()
		}
		batch := w.queue
		w.queue = nil
		w.mu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, op := range batch {
			if op.done != nil {
				close(op.done)
				continue
			}
			if err := op.apply(w.db); err != nil {
				w.log.Error("persist failed", zap.String("op", op.name), zap.String("id", op.id), zap.Error(err))
			}
		}
	}
}

// push appends op to the queue. It reports false once the writer is closed.
func (w *Writer) push(op writeOp) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	w.queue = append(w.queue, op)
	w.cond.Signal()
	return true
}

func (w *Writer) enqueue(op writeOp) {
	if !w.push(op) {
		w.log.Warn("write after close dropped", zap.String("op", op.name), zap.String("id", op.id))
	}
}

func (w *Writer) UpsertProfile(rec ProfileRecord) {
	w.enqueue(writeOp{name: "upsert profile", id: rec.ID, apply: func(db *DB) error { return db.UpsertProfile(rec) }})
}

func (w *Writer) DeleteProfile(id string) {
	w.enqueue(writeOp{name: "delete profile", id: id, apply: func(db *DB) error { return db.DeleteProfile(id) }})
}

func (w *Writer) UpsertMemory(rec MemoryRecord) {
	w.enqueue(writeOp{name: "upsert memory", id: rec.ID, apply: func(db *DB) error { return db.UpsertMemory(rec) }})
}

func (w *Writer) DeleteMemory(id string) {
	w.enqueue(writeOp{name: "delete memory", id: id, apply: func(db *DB) error { return db.DeleteMemory(id) }})
}

// UpsertMemories queues recs as a single transactional operation.
func (w *Writer) UpsertMemories(recs []MemoryRecord) {
	if len(recs) == 0 {
		return
	}
	w.enqueue(writeOp{name: "upsert memories", id: recs[0].ID, apply: func(db *DB) error { return db.UpsertMemories(recs) }})
}

// DeleteMemories queues ids as a single transactional operation.
func (w *Writer) DeleteMemories(ids []string) {
	if len(ids) == 0 {
		return
	}
	w.enqueue(writeOp{name: "delete memories", id: ids[0], apply: func(db *DB) error { return db.DeleteMemories(ids) }})
}

func (w *Writer) AddUtterance(profileID, text string, at int64) {
	w.enqueue(writeOp{name: "add utterance", id: profileID, apply: func(db *DB) error { return db.AddUtterance(profileID, text, at) }})
}

func (w *Writer) AddAction(profileID, action string, at int64) {
	w.enqueue(writeOp{name: "add action", id: profileID, apply: func(db *DB) error { return db.AddAction(profileID, action, at) }})
}

func (w *Writer) ReassignActivity(from, to string) {
	w.enqueue(writeOp{name: "reassign activity", id: from, apply: func(db *DB) error { return db.ReassignActivity(from, to) }})
}

func (w *Writer) DeleteActivity(profileID string) {
	w.enqueue(writeOp{name: "delete activity", id: profileID, apply: func(db *DB) error { return db.DeleteActivity(profileID) }})
}

func (w *Writer) SetState(key, value string) {
	w.enqueue(writeOp{name: "set state", id: key, apply: func(db *DB) error { return db.SetState(key, value) }})
}

func (w *Writer) DeleteState(key string) {
	w.enqueue(writeOp{name: "delete state", id: key, apply: func(db *DB) error { return db.DeleteState(key) }})
}

// Flush blocks until every operation queued before the call has been applied.
func (w *Writer) Flush() {
	done := make(chan struct{})
	if !w.push(writeOp{name: "flush", done: done}) {
		return
	}
	<-done
}

// Close drains the queue and stops the writer. It is safe to call twice.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.cond.Signal()
	w.mu.Unlock()
	w.wg.Wait()
}
