package store

import (
	"fmt"
	"testing"
	"time"
)

func TestWriterAppliesInOrder(t *testing.T) {
	db := testDB(t)
	w := NewWriter(db, nil)
	defer w.Close()

	w.UpsertProfile(ProfileRecord{ID: "p1", CanonicalName: "Ana"})
	w.UpsertProfile(ProfileRecord{ID: "p1", CanonicalName: "Ana Maria"})
	w.UpsertMemory(MemoryRecord{ID: "m1", OwnerID: "p1", Content: "x", DecayFactor: 1})
	w.DeleteMemory("m1")
	w.SetState("current_profile", "p1")
	w.AddUtterance("p1", "olá", 1)
	w.AddAction("p1", "weather", 1)
	w.Flush()

	profiles, _, _ := db.LoadProfiles()
	if len(profiles) != 1 || profiles[0].CanonicalName != "Ana Maria" {
		t.Errorf("profiles = %+v", profiles)
	}
	memories, _, _ := db.LoadMemories()
	if len(memories) != 0 {
		t.Errorf("memories = %+v, want none", memories)
	}
	if v, _ := db.GetState("current_profile"); v != "p1" {
		t.Errorf("state = %q, want p1", v)
	}
	if u, _ := db.RecentUtterances(10); len(u) != 1 {
		t.Errorf("utterances = %d, want 1", len(u))
	}
}

func TestWriterCloseDrainsAndIsIdempotent(t *testing.T) {
	db := testDB(t)
	w := NewWriter(db, nil)

	for i := 0; i < 50; i++ {
		w.AddAction("p1", "tick", int64(i))
	}
	w.Close()
	w.Close()
	w.Flush()
	w.AddAction("p1", "dropped", 99)

	got, _ := db.RecentActions(100)
	if len(got) != 50 {
		t.Errorf("got %d actions, want 50", len(got))
	}
}

func TestWriterEnqueueNeverBlocksOnStalledDisk(t *testing.T) {
	db := testDB(t)
	w := NewWriter(db, nil)
	defer w.Close()

	release := make(chan struct{})
	w.enqueue(writeOp{name: "stall", apply: func(*DB) error { <-release; return nil }})

	queued := make(chan struct{})
	go func() {
		for i := 0; i < 5000; i++ {
			w.AddAction("p1", "tick", int64(i))
		}
		close(queued)
	}()
	select {
	case <-queued:
	case <-time.After(5 * time.Second):
		close(release)
		t.Fatal("enqueue blocked while the writer was stalled")
	}
	close(release)
	w.Flush()

	got, _ := db.RecentActions(10000)
	if len(got) != 5000 {
		t.Errorf("got %d actions, want 5000", len(got))
	}
}

func TestWriterBatchMemoryOps(t *testing.T) {
	db := testDB(t)
	w := NewWriter(db, nil)
	defer w.Close()

	recs := make([]MemoryRecord, 0, 2000)
	for i := 0; i < 2000; i++ {
		recs = append(recs, MemoryRecord{ID: fmt.Sprintf("m%04d", i), OwnerID: "p1", Content: "x", DecayFactor: 1, CreatedAt: int64(i)})
	}
	w.UpsertMemories(recs)
	w.UpsertMemories(nil)
	w.Flush()

	got, _, err := db.LoadMemories()
	if err != nil {
		t.Fatalf("LoadMemories: %v", err)
	}
	if len(got) != 2000 {
		t.Fatalf("got %d memories, want 2000", len(got))
	}

	ids := make([]string, 0, 1500)
	for _, r := range recs[:1500] {
		ids = append(ids, r.ID)
	}
	w.DeleteMemories(ids)
	w.Flush()

	got, _, _ = db.LoadMemories()
	if len(got) != 500 || got[0].ID != "m1500" {
		t.Errorf("after delete got %d memories, first %+v", len(got), got)
	}
}

func TestUpsertMemoriesRollsBackOnBadRecord(t *testing.T) {
	db := testDB(t)
	err := db.UpsertMemories([]MemoryRecord{
		{ID: "m1", OwnerID: "p1", Content: "x", DecayFactor: 1},
		{ID: "", OwnerID: "p1", Content: "y"},
	})
	if err == nil {
		t.Fatal("expected an error for the record without id")
	}
	got, _, _ := db.LoadMemories()
	if len(got) != 0 {
		t.Errorf("got %d memories after rollback, want 0", len(got))
	}
}
