package store

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/claude-flow/claude-flow/pkg/models"
)

// Op is the kind of mutation an action performs.
type Op string

const (
	// OpSet inserts or replaces the value at the action path.
	OpSet Op = "set"
	// OpDelete removes the value at the action path.
	OpDelete Op = "delete"
)

// Action describes one atomic write against the state graph.
type Action struct {
	// Op is the mutation kind.
	Op Op `json:"op"`
	// Path is the dotted location, e.g. "tasks.t1" or "metrics".
	Path string `json:"path"`
	// Value is the new value for OpSet; its concrete type must match
	// the section addressed by Path.
	Value any `json:"value,omitempty"`
}

// ChangeRecord is emitted for every applied action.
type ChangeRecord struct {
	// ID is the unique identifier for this change.
	ID string `json:"id"`
	// Timestamp is when the change was applied.
	Timestamp time.Time `json:"timestamp"`
	// Action is the mutation that was applied.
	Action Action `json:"action"`
	// Path is the dotted location that changed.
	Path string `json:"path"`
	// Previous is the value before the change, if any.
	Previous any `json:"previous,omitempty"`
	// Next is the value after the change, if any.
	Next any `json:"next,omitempty"`
}

type subscription struct {
	id   string
	path string
	fn   func(ChangeRecord)
}

// Store owns the unified state. All writes go through Dispatch or
// Transaction so that subscribers observe one change at a time, in
// dispatch order, and never a partial transaction.
type Store struct {
	mu    sync.RWMutex
	state *UnifiedState

	// notifyMu serializes subscriber delivery so records arrive in
	// dispatch order.
	notifyMu sync.Mutex
	subsMu   sync.RWMutex
	subs     []*subscription

	backends *MultiBackend
}

// New creates a store with an empty state graph and no backends.
func New() *Store {
	return &Store{state: NewUnifiedState()}
}

// NewWithBackends creates a store persisting to the given backends.
// The first backend is the primary.
func NewWithBackends(primary Backend, others ...Backend) *Store {
	s := New()
	s.backends = NewMultiBackend(primary, others...)
	return s
}

// GetState returns a deep copy of the current state graph.
func (s *Store) GetState() *UnifiedState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneState(s.state)
}

// Dispatch applies a single action atomically and notifies subscribers.
func (s *Store) Dispatch(action Action) (ChangeRecord, error) {
	s.mu.Lock()
	record, err := s.applyLocked(action)
	s.mu.Unlock()
	if err != nil {
		return ChangeRecord{}, err
	}

	s.notify([]ChangeRecord{record})
	return record, nil
}

// Transaction applies all actions as one atomic write. Either every
// action applies or none does, and subscribers never observe a
// partially applied transaction.
func (s *Store) Transaction(actions []Action) ([]ChangeRecord, error) {
	s.mu.Lock()

	// Apply against a copy first so failures leave state untouched.
	original := s.state
	s.state = cloneState(original)

	records := make([]ChangeRecord, 0, len(actions))
	for _, action := range actions {
		record, err := s.applyLocked(action)
		if err != nil {
			s.state = original
			s.mu.Unlock()
			return nil, fmt.Errorf("transaction rolled back: %w", err)
		}
		records = append(records, record)
	}
	s.mu.Unlock()

	s.notify(records)
	return records, nil
}

// Subscribe registers a callback for changes under the given dotted
// path prefix ("" matches everything). The returned function removes
// the subscription.
func (s *Store) Subscribe(path string, fn func(ChangeRecord)) func() {
	sub := &subscription{id: uuid.New().String(), path: path, fn: fn}

	s.subsMu.Lock()
	s.subs = append(s.subs, sub)
	s.subsMu.Unlock()

	return func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		for i, existing := range s.subs {
			if existing.id == sub.id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// Snapshot returns a timestamped deep copy of the entire state graph.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &Snapshot{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Version:   StateVersion,
		State:     cloneState(s.state),
	}
}

// Restore replaces the entire state graph with the snapshot's state.
func (s *Store) Restore(snap *Snapshot) error {
	if snap == nil || snap.State == nil {
		return fmt.Errorf("restore: nil snapshot")
	}
	if snap.Version != StateVersion {
		return fmt.Errorf("restore: snapshot version %d does not match %d", snap.Version, StateVersion)
	}

	s.mu.Lock()
	previous := s.state
	s.state = cloneState(snap.State)
	s.mu.Unlock()

	record := ChangeRecord{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Action:    Action{Op: OpSet, Path: "state"},
		Path:      "state",
		Previous:  previous,
		Next:      snap.State,
	}
	s.notify([]ChangeRecord{record})
	return nil
}

// Persist writes the current state to the configured backends. A
// store with no backends persists nothing.
func (s *Store) Persist() error {
	if s.backends == nil {
		return nil
	}
	return s.backends.SaveState(s.GetState())
}

// LoadPersisted replaces the current state with the persisted one, if
// any backend has state. It reports whether state was found.
func (s *Store) LoadPersisted() (bool, error) {
	if s.backends == nil {
		return false, nil
	}
	state, err := s.backends.LoadState()
	if err != nil || state == nil {
		return false, err
	}

	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	return true, nil
}

// PersistSnapshot takes a snapshot and writes it to the backends.
func (s *Store) PersistSnapshot() (*Snapshot, error) {
	snap := s.Snapshot()
	if s.backends == nil {
		return snap, nil
	}
	if err := s.backends.SaveSnapshot(snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// RestoreSnapshot loads a persisted snapshot by ID and restores it.
func (s *Store) RestoreSnapshot(id string) error {
	if s.backends == nil {
		return fmt.Errorf("restore snapshot: no backends configured")
	}
	snap, err := s.backends.LoadSnapshot(id)
	if err != nil {
		return err
	}
	if snap == nil {
		return models.NewSwarmError(models.CodeNotFound, "snapshot not found", id)
	}
	return s.Restore(snap)
}

// Backends returns the persistence fan-out, or nil when the store is
// in-memory only.
func (s *Store) Backends() *MultiBackend { return s.backends }

// notify delivers records to matching subscribers, preserving dispatch order.
func (s *Store) notify(records []ChangeRecord) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.subsMu.RLock()
	subs := append([]*subscription(nil), s.subs...)
	s.subsMu.RUnlock()

	for _, record := range records {
		for _, sub := range subs {
			if pathMatches(sub.path, record.Path) {
				sub.fn(record)
			}
		}
	}
}

// pathMatches reports whether a change at path is visible to a
// subscriber of prefix. Prefixes match whole dotted segments.
func pathMatches(prefix, path string) bool {
	if prefix == "" || prefix == path {
		return true
	}
	return strings.HasPrefix(path, prefix+".")
}

// applyLocked mutates state per the action. Caller holds s.mu.
func (s *Store) applyLocked(action Action) (ChangeRecord, error) {
	section, key, _ := strings.Cut(action.Path, ".")

	var previous, next any
	var err error
	switch section {
	case "agents":
		previous, next, err = applyMapAction(s.state.Agents, key, action)
	case "tasks":
		previous, next, err = applyMapAction(s.state.Tasks, key, action)
	case "objectives":
		previous, next, err = applyMapAction(s.state.Swarm.Objectives, key, action)
	case "sessions":
		previous, next, err = applyMapAction(s.state.Sessions, key, action)
	case "swarm":
		previous, next, err = s.applySwarm(key, action)
	case "memory":
		previous, next, err = applyReplace(&s.state.Memory, action)
	case "orchestration":
		previous, next, err = applyReplace(&s.state.Orchestration, action)
	case "health":
		previous, next, err = applyReplace(&s.state.Health, action)
	case "metrics":
		previous, next, err = applyReplace(&s.state.Metrics, action)
	case "config":
		previous, next, err = s.applyConfig(key, action)
	default:
		err = fmt.Errorf("store: unknown state section %q", section)
	}
	if err != nil {
		return ChangeRecord{}, err
	}

	return ChangeRecord{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Action:    action,
		Path:      action.Path,
		Previous:  previous,
		Next:      next,
	}, nil
}

func (s *Store) applySwarm(key string, action Action) (any, any, error) {
	switch key {
	case "status":
		status, ok := action.Value.(string)
		if !ok && action.Op == OpSet {
			return nil, nil, fmt.Errorf("store: swarm.status requires a string, got %T", action.Value)
		}
		previous := s.state.Swarm.Status
		s.state.Swarm.Status = status
		return previous, status, nil
	case "id":
		id, ok := action.Value.(string)
		if !ok && action.Op == OpSet {
			return nil, nil, fmt.Errorf("store: swarm.id requires a string, got %T", action.Value)
		}
		previous := s.state.Swarm.ID
		s.state.Swarm.ID = id
		return previous, id, nil
	default:
		return nil, nil, fmt.Errorf("store: unknown swarm field %q", key)
	}
}

func (s *Store) applyConfig(key string, action Action) (any, any, error) {
	if key == "" {
		return nil, nil, fmt.Errorf("store: config path requires a key")
	}
	previous, had := s.state.Config[key]
	switch action.Op {
	case OpSet:
		value, ok := action.Value.(string)
		if !ok {
			return nil, nil, fmt.Errorf("store: config values are strings, got %T", action.Value)
		}
		s.state.Config[key] = value
		if !had {
			return nil, value, nil
		}
		return previous, value, nil
	case OpDelete:
		delete(s.state.Config, key)
		if !had {
			return nil, nil, nil
		}
		return previous, nil, nil
	default:
		return nil, nil, fmt.Errorf("store: unknown op %q", action.Op)
	}
}

// applyMapAction handles set/delete on an id-keyed entity map.
func applyMapAction[V any](m map[string]*V, key string, action Action) (any, any, error) {
	if key == "" {
		return nil, nil, fmt.Errorf("store: path %q requires an entity id", action.Path)
	}

	var previous any
	if existing, ok := m[key]; ok {
		previous = existing
	}

	switch action.Op {
	case OpSet:
		value, ok := action.Value.(*V)
		if !ok {
			return nil, nil, fmt.Errorf("store: path %q requires %T, got %T", action.Path, (*V)(nil), action.Value)
		}
		m[key] = value
		return previous, value, nil
	case OpDelete:
		delete(m, key)
		return previous, nil, nil
	default:
		return nil, nil, fmt.Errorf("store: unknown op %q", action.Op)
	}
}

// applyReplace handles whole-section replacement for scalar sections.
func applyReplace[V any](target *V, action Action) (any, any, error) {
	if action.Op != OpSet {
		return nil, nil, fmt.Errorf("store: section %q only supports set", action.Path)
	}
	value, ok := action.Value.(V)
	if !ok {
		return nil, nil, fmt.Errorf("store: path %q requires %T, got %T", action.Path, *new(V), action.Value)
	}
	previous := *target
	*target = value
	return previous, value, nil
}

// cloneState deep-copies the state graph via gob, preserving typed
// fields (timestamps, durations) exactly.
func cloneState(state *UnifiedState) *UnifiedState {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(state); err != nil {
		// The state graph is always gob-encodable; failure here is a
		// programming error.
		panic(fmt.Sprintf("store: clone state: %v", err))
	}
	clone := NewUnifiedState()
	if err := gob.NewDecoder(&buf).Decode(clone); err != nil {
		panic(fmt.Sprintf("store: clone state: %v", err))
	}
	ensureMaps(clone)
	return clone
}

// ensureMaps re-initializes any maps gob left nil (empty maps encode as nil).
func ensureMaps(state *UnifiedState) {
	if state.Swarm.Objectives == nil {
		state.Swarm.Objectives = make(map[string]*models.Objective)
	}
	if state.Agents == nil {
		state.Agents = make(map[string]*models.Agent)
	}
	if state.Tasks == nil {
		state.Tasks = make(map[string]*models.Task)
	}
	if state.Sessions == nil {
		state.Sessions = make(map[string]*SessionRecord)
	}
	if state.Config == nil {
		state.Config = make(map[string]string)
	}
}
