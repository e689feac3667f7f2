package models

import "time"

// EntryType classifies a memory entry.
type EntryType string

const (
	// EntryTypeKnowledge is durable knowledge an agent has gathered.
	EntryTypeKnowledge EntryType = "knowledge"
	// EntryTypeResult is the output of a completed task.
	EntryTypeResult EntryType = "result"
	// EntryTypeState is agent-internal working state.
	EntryTypeState EntryType = "state"
	// EntryTypeCommunication is a message passed between agents.
	EntryTypeCommunication EntryType = "communication"
	// EntryTypeError records a failure for later diagnosis.
	EntryTypeError EntryType = "error"
)

// Valid returns true if the entry type is a known value.
func (t EntryType) Valid() bool {
	switch t {
	case EntryTypeKnowledge, EntryTypeResult, EntryTypeState, EntryTypeCommunication, EntryTypeError:
		return true
	default:
		return false
	}
}

// ShareLevel is the visibility class of a memory entry.
type ShareLevel string

const (
	// SharePrivate entries are visible only to the owning agent and must never be shared.
	SharePrivate ShareLevel = "private"
	// ShareTeam entries may be shared with specific agents.
	ShareTeam ShareLevel = "team"
	// SharePublic entries may be broadcast to all agents.
	SharePublic ShareLevel = "public"
)

// Valid returns true if the share level is a known value.
func (l ShareLevel) Valid() bool {
	switch l {
	case SharePrivate, ShareTeam, SharePublic:
		return true
	default:
		return false
	}
}

// EntryMetadata carries the queryable attributes of a memory entry.
type EntryMetadata struct {
	// TaskID links the entry to a task, if any.
	TaskID string `json:"task_id,omitempty"`
	// ObjectiveID links the entry to an objective, if any.
	ObjectiveID string `json:"objective_id,omitempty"`
	// Tags are free-form labels used for knowledge-base attachment.
	Tags []string `json:"tags,omitempty"`
	// Priority orders entries when trimming under pressure.
	Priority int `json:"priority"`
	// ShareLevel is the visibility class.
	ShareLevel ShareLevel `json:"share_level"`
	// OriginalID is set on shared copies and points at the source entry.
	OriginalID string `json:"original_id,omitempty"`
	// SharedFrom is the agent that owned the source entry.
	SharedFrom string `json:"shared_from,omitempty"`
	// SharedTo is the agent the copy was created for.
	SharedTo string `json:"shared_to,omitempty"`
	// SharedAt is when the copy was created.
	SharedAt *time.Time `json:"shared_at,omitempty"`
	// Provenance records where the content came from.
	Provenance string `json:"provenance,omitempty"`
}

// MemoryEntry is a single record in the memory substrate.
type MemoryEntry struct {
	// ID is the unique identifier for this entry.
	ID string `json:"id"`
	// AgentID is the agent that owns this entry.
	AgentID string `json:"agent_id"`
	// Type classifies the entry.
	Type EntryType `json:"type"`
	// Content is the entry payload.
	Content string `json:"content"`
	// Timestamp is when the entry was written.
	Timestamp time.Time `json:"timestamp"`
	// Metadata carries queryable attributes.
	Metadata EntryMetadata `json:"metadata"`
}

// Clone returns a deep copy of the entry.
func (e *MemoryEntry) Clone() *MemoryEntry {
	cp := *e
	cp.Metadata.Tags = append([]string(nil), e.Metadata.Tags...)
	if e.Metadata.SharedAt != nil {
		ts := *e.Metadata.SharedAt
		cp.Metadata.SharedAt = &ts
	}
	return &cp
}

// KnowledgeBaseMetadata describes a knowledge base's domain.
type KnowledgeBaseMetadata struct {
	// Domain is the subject area of the knowledge base.
	Domain string `json:"domain"`
	// Expertise lists topic labels used for entry attachment.
	Expertise []string `json:"expertise,omitempty"`
	// Contributors lists agent IDs that have added entries.
	Contributors []string `json:"contributors,omitempty"`
	// LastUpdated is when an entry was last attached.
	LastUpdated time.Time `json:"last_updated"`
}

// KnowledgeBase is a curated, domain-tagged bundle of memory entries.
type KnowledgeBase struct {
	// ID is the unique identifier for this knowledge base.
	ID string `json:"id"`
	// Name is the human-readable name.
	Name string `json:"name"`
	// Description explains what belongs in this knowledge base.
	Description string `json:"description"`
	// Entries holds attached entries in attachment order.
	Entries []*MemoryEntry `json:"entries,omitempty"`
	// Metadata describes the domain and contributors.
	Metadata KnowledgeBaseMetadata `json:"metadata"`
}
