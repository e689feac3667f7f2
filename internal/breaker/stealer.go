package breaker

import (
	"sort"
	"sync"
)

// Load thresholds for work-stealing suggestions.
const (
	donorThreshold     = 0.8
	recipientThreshold = 0.3
)

// Suggestion is an advisory donor-to-recipient pairing.
type Suggestion struct {
	// From is the overloaded worker.
	From string
	// To is the underloaded worker.
	To string
}

// WorkStealer maintains a worker load map and advises rebalancing.
// Suggestions are advisory; the scheduler may act on them or not.
type WorkStealer struct {
	mu    sync.RWMutex
	loads map[string]float64
}

// NewWorkStealer creates an empty work stealer.
func NewWorkStealer() *WorkStealer {
	return &WorkStealer{loads: make(map[string]float64)}
}

// UpdateLoads replaces or merges the load view. Loads are clamped to [0,1].
func (w *WorkStealer) UpdateLoads(loads map[string]float64, merge bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !merge {
		w.loads = make(map[string]float64, len(loads))
	}
	for id, load := range loads {
		if load < 0 {
			load = 0
		}
		if load > 1 {
			load = 1
		}
		w.loads[id] = load
	}
}

// Load returns the recorded load for a worker.
func (w *WorkStealer) Load(id string) (float64, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	l, ok := w.loads[id]
	return l, ok
}

// Suggest pairs the highest-loaded donors (load > 0.8) with the
// lowest-loaded recipients (load < 0.3). Each worker appears in at
// most one suggestion.
func (w *WorkStealer) Suggest() []Suggestion {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var donors, recipients []string
	for id, load := range w.loads {
		switch {
		case load > donorThreshold:
			donors = append(donors, id)
		case load < recipientThreshold:
			recipients = append(recipients, id)
		}
	}

	// Highest-loaded donors first, lowest-loaded recipients first.
	sort.Slice(donors, func(i, j int) bool {
		if w.loads[donors[i]] != w.loads[donors[j]] {
			return w.loads[donors[i]] > w.loads[donors[j]]
		}
		return donors[i] < donors[j]
	})
	sort.Slice(recipients, func(i, j int) bool {
		if w.loads[recipients[i]] != w.loads[recipients[j]] {
			return w.loads[recipients[i]] < w.loads[recipients[j]]
		}
		return recipients[i] < recipients[j]
	})

	n := len(donors)
	if len(recipients) < n {
		n = len(recipients)
	}

	suggestions := make([]Suggestion, 0, n)
	for i := 0; i < n; i++ {
		suggestions = append(suggestions, Suggestion{From: donors[i], To: recipients[i]})
	}
	return suggestions
}
