package memory

import (
	"sort"
	"time"

	"github.com/claude-flow/claude-flow/pkg/models"
)

// Query filters a Recall. Zero-valued fields do not filter.
type Query struct {
	// AgentID restricts results to one agent's entries.
	AgentID string
	// Type restricts results to one entry type.
	Type models.EntryType
	// TaskID restricts results to entries linked to a task.
	TaskID string
	// ObjectiveID restricts results to entries linked to an objective.
	ObjectiveID string
	// Tags restricts results to entries whose tags overlap these.
	Tags []string
	// Since excludes entries written before this time.
	Since time.Time
	// Until excludes entries written after this time.
	Until time.Time
	// ShareLevel restricts results to one visibility class.
	ShareLevel models.ShareLevel
	// Limit caps the number of results; zero means unlimited.
	Limit int
}

func (q Query) matches(entry *models.MemoryEntry) bool {
	if q.AgentID != "" && entry.AgentID != q.AgentID {
		return false
	}
	if q.Type != "" && entry.Type != q.Type {
		return false
	}
	if q.TaskID != "" && entry.Metadata.TaskID != q.TaskID {
		return false
	}
	if q.ObjectiveID != "" && entry.Metadata.ObjectiveID != q.ObjectiveID {
		return false
	}
	if q.ShareLevel != "" && entry.Metadata.ShareLevel != q.ShareLevel {
		return false
	}
	if !q.Since.IsZero() && entry.Timestamp.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && entry.Timestamp.After(q.Until) {
		return false
	}
	if len(q.Tags) > 0 && !rawTagOverlap(entry.Metadata.Tags, q.Tags) {
		return false
	}
	return true
}

// rawTagOverlap is exact-match overlap, unlike the fuzzier
// knowledge-base attachment matching.
func rawTagOverlap(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}

// Recall returns copies of matching entries, newest first, without
// affecting eviction order.
func (m *Manager) Recall(q Query) []*models.MemoryEntry {
	m.mu.RLock()
	var result []*models.MemoryEntry
	m.entries.Range(func(_ string, entry *models.MemoryEntry) bool {
		if q.matches(entry) {
			result = append(result, entry.Clone())
		}
		return true
	})
	m.mu.RUnlock()

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.After(result[j].Timestamp)
	})

	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result
}
