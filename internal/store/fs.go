package store

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Envelope type tags written into every file so a reader can tell what
// it is looking at without relying on the file name.
const (
	docTypeState    = "unified-state"
	docTypeSnapshot = "state-snapshot"
	docTypeKVEntry  = "kv-entry"
)

// envelope wraps every persisted document with a type tag and layout
// version. Timestamps inside the payload serialize as RFC 3339 with
// nanoseconds, so restoration preserves them exactly.
type envelope struct {
	Type    string          `json:"$type"`
	Version int             `json:"version"`
	SavedAt time.Time       `json:"saved_at"`
	Payload json.RawMessage `json:"payload"`
}

// FSBackend persists state as pretty-printed JSON under a root
// directory: state.json for the live state, snapshots/<id>.json one
// per snapshot, and kv/ for flat entries.
type FSBackend struct {
	root string
}

// NewFSBackend creates a filesystem backend rooted at dir, creating
// the directory tree if needed.
func NewFSBackend(dir string) (*FSBackend, error) {
	for _, sub := range []string{"", "snapshots", "kv"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}
	return &FSBackend{root: dir}, nil
}

// Name identifies this backend in logs.
func (f *FSBackend) Name() string { return "fs" }

// Root returns the backend's root directory.
func (f *FSBackend) Root() string { return f.root }

func (f *FSBackend) statePath() string { return filepath.Join(f.root, "state.json") }

func (f *FSBackend) snapshotPath(id string) string {
	return filepath.Join(f.root, "snapshots", id+".json")
}

// SaveState writes the full state graph to state.json atomically.
func (f *FSBackend) SaveState(state *UnifiedState) error {
	return f.writeEnvelope(f.statePath(), docTypeState, state)
}

// LoadState reads the persisted state, returning nil when none exists.
func (f *FSBackend) LoadState() (*UnifiedState, error) {
	state := NewUnifiedState()
	found, err := f.readEnvelope(f.statePath(), docTypeState, state)
	if err != nil || !found {
		return nil, err
	}
	ensureMaps(state)
	return state, nil
}

// SaveSnapshot writes one snapshot to snapshots/<id>.json.
func (f *FSBackend) SaveSnapshot(snap *Snapshot) error {
	if snap.ID == "" {
		return fmt.Errorf("save snapshot: empty id")
	}
	return f.writeEnvelope(f.snapshotPath(snap.ID), docTypeSnapshot, snap)
}

// LoadSnapshot reads a snapshot by ID, returning nil when it does not exist.
func (f *FSBackend) LoadSnapshot(id string) (*Snapshot, error) {
	var snap Snapshot
	found, err := f.readEnvelope(f.snapshotPath(id), docTypeSnapshot, &snap)
	if err != nil || !found {
		return nil, err
	}
	if snap.State != nil {
		ensureMaps(snap.State)
	}
	return &snap, nil
}

// ListSnapshots returns the IDs of all snapshot files.
func (f *FSBackend) ListSnapshots() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(f.root, "snapshots"))
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

// DeleteSnapshot removes a snapshot file. Missing files are ignored.
func (f *FSBackend) DeleteSnapshot(id string) error {
	err := os.Remove(f.snapshotPath(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete snapshot %s: %w", id, err)
	}
	return nil
}

// Close is a no-op for the filesystem backend.
func (f *FSBackend) Close() error { return nil }

// kvPath encodes the key so that separators and colons in keys cannot
// escape the kv directory.
func (f *FSBackend) kvPath(key string) string {
	encoded := base64.RawURLEncoding.EncodeToString([]byte(key))
	return filepath.Join(f.root, "kv", encoded+".json")
}

// Put stores a flat key-value entry.
func (f *FSBackend) Put(key string, value []byte) error {
	return f.writeEnvelope(f.kvPath(key), docTypeKVEntry, json.RawMessage(value))
}

// Get returns the value for a key.
func (f *FSBackend) Get(key string) ([]byte, bool, error) {
	var raw json.RawMessage
	found, err := f.readEnvelope(f.kvPath(key), docTypeKVEntry, &raw)
	if err != nil || !found {
		return nil, false, err
	}
	return raw, true, nil
}

// DeleteKey removes a key. Missing keys are ignored.
func (f *FSBackend) DeleteKey(key string) error {
	err := os.Remove(f.kvPath(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete key %s: %w", key, err)
	}
	return nil
}

// Keys returns all stored keys with the given prefix.
func (f *FSBackend) Keys(prefix string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(f.root, "kv"))
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}

	var keys []string
	for _, entry := range entries {
		name := strings.TrimSuffix(entry.Name(), ".json")
		decoded, err := base64.RawURLEncoding.DecodeString(name)
		if err != nil {
			continue
		}
		key := string(decoded)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// writeEnvelope marshals payload inside a type-tagged envelope and
// writes it atomically via a temp file rename.
func (f *FSBackend) writeEnvelope(path, docType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", docType, err)
	}

	data, err := json.MarshalIndent(envelope{
		Type:    docType,
		Version: StateVersion,
		SavedAt: time.Now(),
		Payload: raw,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", docType, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", docType, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", docType, err)
	}
	return nil
}

// readEnvelope reads a type-tagged envelope, checking the tag before
// decoding the payload. Returns false with no error when the file does
// not exist.
func (f *FSBackend) readEnvelope(path, docType string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", docType, err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return false, fmt.Errorf("decode %s envelope: %w", docType, err)
	}
	if env.Type != docType {
		return false, fmt.Errorf("decode %s: unexpected document type %q", docType, env.Type)
	}
	if env.Version > StateVersion {
		return false, fmt.Errorf("decode %s: version %d is newer than supported %d", docType, env.Version, StateVersion)
	}
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return false, fmt.Errorf("decode %s payload: %w", docType, err)
	}
	return true, nil
}
