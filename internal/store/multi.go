package store

import (
	"fmt"
	"log"

	"github.com/claude-flow/claude-flow/pkg/models"
)

// MultiBackend fans writes out to every configured backend. A write
// succeeds when at least one backend accepts it (partial failures are
// logged); it fails only when every backend fails. Reads try the
// primary first and fall back in order.
type MultiBackend struct {
	backends []Backend
}

// NewMultiBackend creates a fan-out over the given backends. The first
// backend is the primary for reads.
func NewMultiBackend(primary Backend, others ...Backend) *MultiBackend {
	return &MultiBackend{backends: append([]Backend{primary}, others...)}
}

// Name identifies this backend in logs.
func (m *MultiBackend) Name() string { return "multi" }

// Primary returns the first backend.
func (m *MultiBackend) Primary() Backend { return m.backends[0] }

// fanOut runs op against every backend. One success is enough; total
// failure returns a persistence-exhausted error.
func (m *MultiBackend) fanOut(what string, op func(Backend) error) error {
	var succeeded int
	var lastErr error
	for _, b := range m.backends {
		if err := op(b); err != nil {
			lastErr = err
			log.Printf("[store] %s failed on %s backend: %v", what, b.Name(), err)
			continue
		}
		succeeded++
	}
	if succeeded == 0 {
		return models.WrapSwarmError(models.CodePersistenceExhausted,
			fmt.Sprintf("%s failed on all %d backends", what, len(m.backends)), lastErr)
	}
	return nil
}

// SaveState persists the state to every backend.
func (m *MultiBackend) SaveState(state *UnifiedState) error {
	return m.fanOut("save state", func(b Backend) error { return b.SaveState(state) })
}

// LoadState loads from the first backend that has state, primary first.
func (m *MultiBackend) LoadState() (*UnifiedState, error) {
	var lastErr error
	for _, b := range m.backends {
		state, err := b.LoadState()
		if err != nil {
			lastErr = err
			log.Printf("[store] load state failed on %s backend: %v", b.Name(), err)
			continue
		}
		if state != nil {
			return state, nil
		}
	}
	if lastErr != nil {
		return nil, models.WrapSwarmError(models.CodePersistenceExhausted, "load state failed on all backends", lastErr)
	}
	return nil, nil
}

// SaveSnapshot persists the snapshot to every backend.
func (m *MultiBackend) SaveSnapshot(snap *Snapshot) error {
	return m.fanOut("save snapshot", func(b Backend) error { return b.SaveSnapshot(snap) })
}

// LoadSnapshot loads from the first backend that has the snapshot.
func (m *MultiBackend) LoadSnapshot(id string) (*Snapshot, error) {
	var lastErr error
	for _, b := range m.backends {
		snap, err := b.LoadSnapshot(id)
		if err != nil {
			lastErr = err
			log.Printf("[store] load snapshot failed on %s backend: %v", b.Name(), err)
			continue
		}
		if snap != nil {
			return snap, nil
		}
	}
	if lastErr != nil {
		return nil, models.WrapSwarmError(models.CodePersistenceExhausted, "load snapshot failed on all backends", lastErr)
	}
	return nil, nil
}

// ListSnapshots lists from the primary, falling back on error.
func (m *MultiBackend) ListSnapshots() ([]string, error) {
	var lastErr error
	for _, b := range m.backends {
		ids, err := b.ListSnapshots()
		if err != nil {
			lastErr = err
			continue
		}
		return ids, nil
	}
	return nil, models.WrapSwarmError(models.CodePersistenceExhausted, "list snapshots failed on all backends", lastErr)
}

// DeleteSnapshot deletes from every backend.
func (m *MultiBackend) DeleteSnapshot(id string) error {
	return m.fanOut("delete snapshot", func(b Backend) error { return b.DeleteSnapshot(id) })
}

// Close closes every backend, returning the first error.
func (m *MultiBackend) Close() error {
	var first error
	for _, b := range m.backends {
		if err := b.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
