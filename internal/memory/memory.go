// Package memory implements the swarm memory substrate: bounded
// per-agent and cross-agent entries with share levels, knowledge
// bases, batched persistence, and pressure-driven cleanup.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/claude-flow/claude-flow/internal/batch"
	"github.com/claude-flow/claude-flow/internal/bounded"
	"github.com/claude-flow/claude-flow/internal/events"
	"github.com/claude-flow/claude-flow/internal/store"
	"github.com/claude-flow/claude-flow/pkg/models"
)

// Config sizes the substrate.
type Config struct {
	// MaxEntries caps the cross-agent entry map.
	MaxEntries int
	// MaxEntriesPerAgent caps each agent's index set.
	MaxEntriesPerAgent int
	// HighWater is the fraction of MaxEntries kept after pressure cleanup.
	HighWater float64
	// KBEntrySuffix is the number of entries kept per knowledge base
	// after pressure cleanup.
	KBEntrySuffix int
	// Batch configures the persistence batch processor.
	Batch batch.Config
}

// DefaultConfig returns the standard substrate sizing.
func DefaultConfig() Config {
	return Config{
		MaxEntries:         1000,
		MaxEntriesPerAgent: 100,
		HighWater:          0.7,
		KBEntrySuffix:      50,
		Batch: batch.Config{
			MaxBatchSize: 20,
			MaxWait:      250 * time.Millisecond,
			MaxQueueSize: 500,
		},
	}
}

// persistOp is one entry write queued for the KV backend.
type persistOp struct {
	key     string
	payload []byte
}

// Manager is the memory substrate. Reads hit the in-memory view;
// writes are additionally enqueued through a batch processor that
// persists to the injected KV backend.
type Manager struct {
	mu  sync.RWMutex
	cfg Config

	entries    *bounded.Map[string, *models.MemoryEntry]
	agentIndex map[string]*bounded.Set[string]
	kbs        map[string]*models.KnowledgeBase

	persist *batch.Processor[persistOp, struct{}]
	kv      store.KV
	emitter *events.Emitter

	evictions   uint64
	lastPersist time.Time
}

// New creates a substrate. kv and emitter may be nil; a nil kv
// disables persistence, a nil emitter disables events.
func New(cfg Config, kv store.KV, emitter *events.Emitter) (*Manager, error) {
	if cfg.MaxEntries <= 0 {
		cfg = DefaultConfig()
	}

	m := &Manager{
		cfg:        cfg,
		agentIndex: make(map[string]*bounded.Set[string]),
		kbs:        make(map[string]*models.KnowledgeBase),
		kv:         kv,
		emitter:    emitter,
	}

	entries, err := bounded.NewMap(cfg.MaxEntries, bounded.PolicyLRU, m.onEntryEvicted)
	if err != nil {
		return nil, err
	}
	m.entries = entries

	if kv != nil {
		processor, err := batch.New(cfg.Batch, m.persistBatch, func(op persistOp) {
			log.Printf("[memory] persistence queue full, dropped write for %s", op.key)
		})
		if err != nil {
			return nil, err
		}
		m.persist = processor
	}

	return m, nil
}

// Close flushes pending persistence writes and stops the processor.
func (m *Manager) Close() {
	if m.persist != nil {
		m.persist.FlushAll()
		m.persist.Close()
	}
}

// onEntryEvicted runs inside entries.Set when capacity forces an
// eviction. The caller already holds m.mu.
func (m *Manager) onEntryEvicted(id string, entry *models.MemoryEntry) {
	m.evictions++
	if set, ok := m.agentIndex[entry.AgentID]; ok {
		set.Remove(id)
	}
	m.emit(events.Event{
		Type:    events.MemoryEvicted,
		EntryID: id,
		AgentID: entry.AgentID,
	})
}

func (m *Manager) emit(event events.Event) {
	if m.emitter != nil {
		m.emitter.Emit(event)
	}
}

// Remember stores a new entry owned by the given agent and returns its
// ID. The write is persisted asynchronously through the batch
// processor.
func (m *Manager) Remember(agentID string, entryType models.EntryType, content string, meta models.EntryMetadata) (string, error) {
	if agentID == "" {
		return "", models.NewSwarmError(models.CodeNotFound, "remember requires an agent id")
	}
	if !entryType.Valid() {
		return "", models.NewSwarmError(models.CodeNotFound, "unknown entry type: "+string(entryType))
	}
	if meta.ShareLevel == "" {
		meta.ShareLevel = models.SharePrivate
	}
	if !meta.ShareLevel.Valid() {
		return "", models.NewSwarmError(models.CodeNotFound, "unknown share level: "+string(meta.ShareLevel))
	}

	entry := &models.MemoryEntry{
		ID:        uuid.New().String(),
		AgentID:   agentID,
		Type:      entryType,
		Content:   content,
		Timestamp: time.Now(),
		Metadata:  meta,
	}

	m.mu.Lock()
	m.insertLocked(entry)
	m.mu.Unlock()

	m.emit(events.Event{Type: events.MemoryAdded, EntryID: entry.ID, AgentID: agentID})
	m.enqueuePersist(entry)
	return entry.ID, nil
}

// insertLocked adds the entry to the map and the owner's index set.
// Caller holds m.mu.
func (m *Manager) insertLocked(entry *models.MemoryEntry) {
	m.entries.Set(entry.ID, entry)

	set, ok := m.agentIndex[entry.AgentID]
	if !ok {
		// Capacity errors are impossible here; sizes are validated in New.
		set, _ = bounded.NewSet(m.cfg.MaxEntriesPerAgent, bounded.PolicyFIFO, func(evictedID string) {
			if old, found := m.entries.Peek(evictedID); found {
				m.entries.Delete(evictedID)
				m.evictions++
				m.emit(events.Event{
					Type:    events.MemoryEvicted,
					EntryID: evictedID,
					AgentID: old.AgentID,
				})
			}
		})
		m.agentIndex[entry.AgentID] = set
	}
	set.Add(entry.ID)
}

// enqueuePersist hands the entry to the batch processor without
// blocking the caller. Persistence failures are logged, never
// propagated to memory writers.
func (m *Manager) enqueuePersist(entry *models.MemoryEntry) {
	if m.persist == nil {
		return
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		log.Printf("[memory] marshal entry %s: %v", entry.ID, err)
		return
	}
	op := persistOp{key: "memory-entry:" + entry.ID, payload: payload}
	go func() {
		if _, err := m.persist.Submit(context.Background(), op); err != nil && !errors.Is(err, batch.ErrClosed) {
			log.Printf("[memory] persist entry %s: %v", entry.ID, err)
		}
	}()
}

// persistBatch writes one batch of entries to the KV backend.
func (m *Manager) persistBatch(ops []persistOp) ([]struct{}, error) {
	for _, op := range ops {
		if err := m.kv.Put(op.key, op.payload); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	m.lastPersist = time.Now()
	m.mu.Unlock()

	m.emit(events.Event{Type: events.MemorySynced, Message: "persisted batch"})
	return make([]struct{}, len(ops)), nil
}

// Get returns a copy of the entry, if present. The lookup does not
// affect eviction order.
func (m *Manager) Get(entryID string) (*models.MemoryEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries.Peek(entryID)
	if !ok {
		return nil, false
	}
	return entry.Clone(), true
}

// Share copies an entry to the target agent. The copy is a fresh entry
// owned by the target carrying share provenance; the original is
// untouched. Private entries cannot be shared.
func (m *Manager) Share(entryID, targetAgent string) (*models.MemoryEntry, error) {
	m.mu.Lock()
	copy, err := m.shareLocked(entryID, targetAgent)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	m.emit(events.Event{Type: events.MemoryShared, EntryID: copy.ID, AgentID: targetAgent})
	m.emit(events.Event{
		Type:    events.AgentMessage,
		EntryID: copy.ID,
		AgentID: targetAgent,
		Message: "memory from agent " + copy.Metadata.SharedFrom,
	})
	m.enqueuePersist(copy)
	return copy.Clone(), nil
}

func (m *Manager) shareLocked(entryID, targetAgent string) (*models.MemoryEntry, error) {
	source, ok := m.entries.Peek(entryID)
	if !ok {
		return nil, models.NewSwarmError(models.CodeNotFound, "memory entry not found", entryID)
	}
	if source.Metadata.ShareLevel == models.SharePrivate {
		return nil, models.NewSwarmError(models.CodePrivateEntry, "private entries cannot be shared", entryID)
	}

	now := time.Now()
	copy := source.Clone()
	copy.ID = uuid.New().String()
	copy.AgentID = targetAgent
	copy.Timestamp = now
	copy.Metadata.OriginalID = source.ID
	copy.Metadata.SharedFrom = source.AgentID
	copy.Metadata.SharedTo = targetAgent
	copy.Metadata.SharedAt = &now

	m.insertLocked(copy)
	return copy, nil
}

// Broadcast copies a public entry to every target agent. With no
// explicit targets, it goes to every known agent except the owner.
// Returns the IDs of the created copies.
func (m *Manager) Broadcast(entryID string, targets []string) ([]string, error) {
	m.mu.Lock()

	source, ok := m.entries.Peek(entryID)
	if !ok {
		m.mu.Unlock()
		return nil, models.NewSwarmError(models.CodeNotFound, "memory entry not found", entryID)
	}
	if source.Metadata.ShareLevel != models.SharePublic {
		m.mu.Unlock()
		return nil, models.NewSwarmError(models.CodePrivateEntry, "only public entries can be broadcast", entryID)
	}

	if len(targets) == 0 {
		for agentID := range m.agentIndex {
			if agentID != source.AgentID {
				targets = append(targets, agentID)
			}
		}
		sort.Strings(targets)
	}

	var created []*models.MemoryEntry
	for _, target := range targets {
		copy, err := m.shareLocked(entryID, target)
		if err != nil {
			m.mu.Unlock()
			return nil, err
		}
		created = append(created, copy)
	}
	m.mu.Unlock()

	ids := make([]string, len(created))
	for i, copy := range created {
		ids[i] = copy.ID
		m.emit(events.Event{Type: events.MemoryShared, EntryID: copy.ID, AgentID: copy.AgentID})
		m.emit(events.Event{
			Type:    events.AgentMessage,
			EntryID: copy.ID,
			AgentID: copy.AgentID,
			Message: "memory from agent " + copy.Metadata.SharedFrom,
		})
		m.enqueuePersist(copy)
	}
	return ids, nil
}

// Snapshot returns copies of all entries, or only one agent's entries
// when agentID is non-empty.
func (m *Manager) Snapshot(agentID string) []*models.MemoryEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*models.MemoryEntry
	m.entries.Range(func(_ string, entry *models.MemoryEntry) bool {
		if agentID == "" || entry.AgentID == agentID {
			result = append(result, entry.Clone())
		}
		return true
	})
	return result
}

// Clear removes all entries, or only one agent's entries when agentID
// is non-empty. Returns the number of entries removed.
func (m *Manager) Clear(agentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var victims []string
	m.entries.Range(func(id string, entry *models.MemoryEntry) bool {
		if agentID == "" || entry.AgentID == agentID {
			victims = append(victims, id)
		}
		return true
	})

	for _, id := range victims {
		if entry, ok := m.entries.Peek(id); ok {
			if set, found := m.agentIndex[entry.AgentID]; found {
				set.Remove(id)
			}
			m.entries.Delete(id)
		}
	}
	if agentID == "" {
		m.agentIndex = make(map[string]*bounded.Set[string])
	} else if set, ok := m.agentIndex[agentID]; ok && set.Len() == 0 {
		delete(m.agentIndex, agentID)
	}

	m.emit(events.Event{Type: events.MemoryCleaned, AgentID: agentID})
	return len(victims)
}

// Stats summarizes the substrate.
type Stats struct {
	// Entries is the number of live entries.
	Entries int
	// Agents is the number of agents with at least one entry.
	Agents int
	// KnowledgeBases is the number of knowledge bases.
	KnowledgeBases int
	// Evictions counts entries evicted by capacity or index overflow.
	Evictions uint64
	// LastPersist is when a persistence batch last flushed.
	LastPersist time.Time
}

// Stats returns current substrate counters.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		Entries:        m.entries.Len(),
		Agents:         len(m.agentIndex),
		KnowledgeBases: len(m.kbs),
		Evictions:      m.evictions,
		LastPersist:    m.lastPersist,
	}
}

/// Cleanup truncates the substrate under memory pressure: the entry map
// shrinks to the high-water fraction of capacity, oldest first, and
// each knowledge base keeps only its newest entries. Caller operations
// never fail because of pressure.
func (m *Manager) Cleanup() {
	m.mu.Lock()

	target := int(float64(m.entries.MaxSize()) * m.cfg.HighWater)
	var removed int
	for m.entries.Len() > target {
		keys := m.entries.Keys()
		if len(keys) == 0 {
			break
		}
		oldest := keys[0]
		if entry, ok := m.entries.Peek(oldest); ok {
			if set, found := m.agentIndex[entry.AgentID]; found {
				set.Remove(oldest)
			}
		}
		m.entries.Delete(oldest)
		removed++
	}

	for _, kb := range m.kbs {
		if len(kb.Entries) > m.cfg.KBEntrySuffix {
			kb.Entries = append([]*models.MemoryEntry(nil), kb.Entries[len(kb.Entries)-m.cfg.KBEntrySuffix:]...)
		}
	}
	m.mu.Unlock()

	if removed > 0 {
		m.emit(events.Event{Type: events.MemoryCleaned, Message: "pressure cleanup"})
		log.Printf("[memory] pressure cleanup removed %d entries", removed)
	}
}

// RegisterPressure hooks Cleanup into a pressure monitor.
func (m *Manager) RegisterPressure(monitor *bounded.PressureMonitor) {
	monitor.OnPressure(m.Cleanup)
}

// CreateKB creates a knowledge base and returns its ID.
func (m *Manager) CreateKB(name, description, domain string, expertise []string) string {
	kb := &models.KnowledgeBase{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		Metadata: models.KnowledgeBaseMetadata{
			Domain:      domain,
			Expertise:   append([]string(nil), expertise...),
			LastUpdated: time.Now(),
		},
	}

	m.mu.Lock()
	m.kbs[kb.ID] = kb
	m.mu.Unlock()
	return kb.ID
}

// UpdateKBWithEntry attaches an entry to a knowledge base when the
// entry's tags overlap the base's expertise (case-insensitive
// substring match in either direction). An expertise-less base accepts
// everything. Returns whether the entry was attached.
func (m *Manager) UpdateKBWithEntry(kbID, entryID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kb, ok := m.kbs[kbID]
	if !ok {
		return false, models.NewSwarmError(models.CodeNotFound, "knowledge base not found", kbID)
	}
	entry, ok := m.entries.Peek(entryID)
	if !ok {
		return false, models.NewSwarmError(models.CodeNotFound, "memory entry not found", entryID)
	}

	if !tagsOverlap(entry.Metadata.Tags, kb.Metadata.Expertise) {
		return false, nil
	}

	kb.Entries = append(kb.Entries, entry.Clone())
	kb.Metadata.LastUpdated = time.Now()
	if !containsString(kb.Metadata.Contributors, entry.AgentID) {
		kb.Metadata.Contributors = append(kb.Metadata.Contributors, entry.AgentID)
	}
	return true, nil
}

// KB returns a copy of the knowledge base, if present.
func (m *Manager) KB(kbID string) (*models.KnowledgeBase, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	kb, ok := m.kbs[kbID]
	if !ok {
		return nil, false
	}
	return cloneKB(kb), true
}

// SearchKnowledge returns entries from matching knowledge bases whose
// content contains text (case-insensitive). Domain and expertise
// filters narrow which bases are searched. Results are newest-first.
func (m *Manager) SearchKnowledge(text, domain string, expertise []string) []*models.MemoryEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	needle := strings.ToLower(text)
	var result []*models.MemoryEntry
	for _, kb := range m.kbs {
		if domain != "" && !strings.EqualFold(kb.Metadata.Domain, domain) {
			continue
		}
		if len(expertise) > 0 && !tagsOverlap(expertise, kb.Metadata.Expertise) {
			continue
		}
		for _, entry := range kb.Entries {
			if needle == "" || strings.Contains(strings.ToLower(entry.Content), needle) {
				result = append(result, entry.Clone())
			}
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.After(result[j].Timestamp)
	})
	return result
}

// tagsOverlap reports whether any tag matches any expertise label,
// case-insensitively, with substring matching in either direction. An
// empty expertise list matches everything.
func tagsOverlap(tags, expertise []string) bool {
	if len(expertise) == 0 {
		return true
	}
	for _, tag := range tags {
		lt := strings.ToLower(tag)
		for _, exp := range expertise {
			le := strings.ToLower(exp)
			if strings.Contains(lt, le) || strings.Contains(le, lt) {
				return true
			}
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func cloneKB(kb *models.KnowledgeBase) *models.KnowledgeBase {
	cp := *kb
	cp.Entries = make([]*models.MemoryEntry, len(kb.Entries))
	for i, entry := range kb.Entries {
		cp.Entries[i] = entry.Clone()
	}
	cp.Metadata.Expertise = append([]string(nil), kb.Metadata.Expertise...)
	cp.Metadata.Contributors = append([]string(nil), kb.Metadata.Contributors...)
	return &cp
}
