package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/claude-flow/claude-flow/pkg/models"
)

func openTestDB(t *testing.T) *SQLiteBackend {
	t.Helper()
	backend, err := OpenSQLite(filepath.Join(t.TempDir(), "swarm.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { backend.Close() })
	return backend
}

func TestSQLiteStateRoundTrip(t *testing.T) {
	backend := openTestDB(t)

	if state, err := backend.LoadState(); err != nil || state != nil {
		t.Fatalf("empty db should load nil state, got %v, %v", state, err)
	}

	state := NewUnifiedState()
	state.Swarm.ID = "swarm-1"
	state.Tasks["t1"] = &models.Task{ID: "t1", Status: models.TaskStatusRunning}
	if err := backend.SaveState(state); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	// Second save replaces the singleton row.
	state.Swarm.Status = "running"
	if err := backend.SaveState(state); err != nil {
		t.Fatalf("SaveState (replace): %v", err)
	}

	loaded, err := backend.LoadState()
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if loaded.Swarm.Status != "running" || loaded.Tasks["t1"].Status != models.TaskStatusRunning {
		t.Errorf("state did not round-trip: %+v", loaded)
	}
}

func TestSQLiteSnapshotsOrderedByCreation(t *testing.T) {
	backend := openTestDB(t)

	base := time.Now()
	for i, id := range []string{"old", "mid", "new"} {
		snap := &Snapshot{
			ID:        id,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Version:   StateVersion,
			State:     NewUnifiedState(),
		}
		if err := backend.SaveSnapshot(snap); err != nil {
			t.Fatalf("SaveSnapshot %s: %v", id, err)
		}
	}

	ids, err := backend.ListSnapshots()
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if len(ids) != 3 || ids[0] != "old" || ids[2] != "new" {
		t.Errorf("expected oldest-first order, got %v", ids)
	}

	if err := backend.DeleteSnapshot("mid"); err != nil {
		t.Fatalf("DeleteSnapshot: %v", err)
	}
	if snap, _ := backend.LoadSnapshot("mid"); snap != nil {
		t.Error("deleted snapshot still loads")
	}
}

func TestSQLiteKV(t *testing.T) {
	backend := openTestDB(t)

	if _, found, err := backend.Get("missing"); err != nil || found {
		t.Fatalf("missing key: found=%v, err=%v", found, err)
	}

	backend.Put("memory-entry:e1", []byte(`{"id":"e1"}`))
	backend.Put("memory-entry:e2", []byte(`{"id":"e2"}`))
	backend.Put("objective-verification:o1", []byte(`{}`))

	keys, err := backend.Keys("memory-entry:")
	if err != nil || len(keys) != 2 {
		t.Fatalf("Keys: %v, %v", keys, err)
	}

	value, found, err := backend.Get("memory-entry:e1")
	if err != nil || !found || string(value) != `{"id":"e1"}` {
		t.Errorf("Get: %s, found=%v, err=%v", value, found, err)
	}

	if err := backend.DeleteKey("memory-entry:e1"); err != nil {
		t.Fatalf("DeleteKey: %v", err)
	}
	if _, found, _ := backend.Get("memory-entry:e1"); found {
		t.Error("key should be deleted")
	}
}
