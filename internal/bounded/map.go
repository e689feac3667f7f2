// Package bounded provides size-capped collections with pluggable
// eviction policies and a memory-pressure monitor. Collections are not
// safe for concurrent use; callers own synchronization.
package bounded

import (
	"errors"
	"fmt"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Policy selects which item is evicted when a collection is full.
type Policy string

const (
	// PolicyLRU evicts the least recently used item. Reads and writes
	// both count as use.
	PolicyLRU Policy = "lru"
	// PolicyLFU evicts the least frequently used item, oldest first on ties.
	PolicyLFU Policy = "lfu"
	// PolicyFIFO evicts the oldest inserted item.
	PolicyFIFO Policy = "fifo"
)

// Valid returns true if the policy is a known value.
func (p Policy) Valid() bool {
	switch p {
	case PolicyLRU, PolicyLFU, PolicyFIFO:
		return true
	default:
		return false
	}
}

// ErrInvalidSize indicates a non-positive max size.
var ErrInvalidSize = errors.New("bounded: max size must be positive")

// EvictFunc is invoked with an item just before it becomes unreachable.
type EvictFunc[K comparable, V any] func(key K, value V)

// Map is a size-capped map. Inserting into a full map evicts exactly
// one item per the configured policy and fires the eviction callback
// exactly once, before the item becomes unreachable.
type Map[K comparable, V any] struct {
	maxSize int
	policy  Policy
	onEvict EvictFunc[K, V]

	// lru backs PolicyLRU via hashicorp's simplelru.
	lru *simplelru.LRU[K, V]
	// suppressEvict silences the LRU callback during explicit deletes.
	suppressEvict bool

	// items/freq/order back PolicyLFU and PolicyFIFO.
	items map[K]V
	freq  map[K]int
	order []K
}

// NewMap creates a bounded map with the given capacity and policy.
// onEvict may be nil.
func NewMap[K comparable, V any](maxSize int, policy Policy, onEvict EvictFunc[K, V]) (*Map[K, V], error) {
	if maxSize <= 0 {
		return nil, ErrInvalidSize
	}
	if !policy.Valid() {
		return nil, fmt.Errorf("bounded: unknown policy %q", policy)
	}

	m := &Map[K, V]{
		maxSize: maxSize,
		policy:  policy,
		onEvict: onEvict,
	}

	if policy == PolicyLRU {
		var cb simplelru.EvictCallback[K, V]
		if onEvict != nil {
			cb = func(k K, v V) {
				if m.suppressEvict {
					return
				}
				onEvict(k, v)
			}
		}
		lru, err := simplelru.NewLRU[K, V](maxSize, cb)
		if err != nil {
			return nil, fmt.Errorf("bounded: %w", err)
		}
		m.lru = lru
		return m, nil
	}

	m.items = make(map[K]V, maxSize)
	m.freq = make(map[K]int, maxSize)
	return m, nil
}

// Set inserts or updates a key. Overflow never fails; it evicts.
func (m *Map[K, V]) Set(key K, value V) {
	if m.lru != nil {
		m.lru.Add(key, value)
		return
	}

	if _, exists := m.items[key]; exists {
		m.items[key] = value
		m.freq[key]++
		return
	}

	if len(m.items) >= m.maxSize {
		m.evictOne()
	}

	m.items[key] = value
	m.freq[key] = 1
	m.order = append(m.order, key)
}

// Get returns the value for key. For LRU and LFU policies the lookup
// counts as a use.
func (m *Map[K, V]) Get(key K) (V, bool) {
	if m.lru != nil {
		return m.lru.Get(key)
	}
	v, ok := m.items[key]
	if ok && m.policy == PolicyLFU {
		m.freq[key]++
	}
	return v, ok
}

// Peek returns the value for key without affecting eviction order.
func (m *Map[K, V]) Peek(key K) (V, bool) {
	if m.lru != nil {
		return m.lru.Peek(key)
	}
	v, ok := m.items[key]
	return v, ok
}

// Contains reports whether key is present without affecting eviction order.
func (m *Map[K, V]) Contains(key K) bool {
	if m.lru != nil {
		return m.lru.Contains(key)
	}
	_, ok := m.items[key]
	return ok
}

// Delete removes a key. The eviction callback is not invoked for
// explicit deletes.
func (m *Map[K, V]) Delete(key K) bool {
	if m.lru != nil {
		m.suppressEvict = true
		removed := m.lru.Remove(key)
		m.suppressEvict = false
		return removed
	}
	if _, ok := m.items[key]; !ok {
		return false
	}
	delete(m.items, key)
	delete(m.freq, key)
	m.removeFromOrder(key)
	return true
}

// Len returns the number of items currently stored.
func (m *Map[K, V]) Len() int {
	if m.lru != nil {
		return m.lru.Len()
	}
	return len(m.items)
}

// MaxSize returns the configured capacity.
func (m *Map[K, V]) MaxSize() int {
	return m.maxSize
}

// Keys returns the stored keys, oldest first.
func (m *Map[K, V]) Keys() []K {
	if m.lru != nil {
		return m.lru.Keys()
	}
	return append([]K(nil), m.order...)
}

// Range calls fn for every item, oldest first, until fn returns false.
func (m *Map[K, V]) Range(fn func(key K, value V) bool) {
	for _, k := range m.Keys() {
		v, ok := m.Peek(k)
		if !ok {
			continue
		}
		if !fn(k, v) {
			return
		}
	}
}

// evictOne removes one item per the configured LFU/FIFO policy.
func (m *Map[K, V]) evictOne() {
	if len(m.order) == 0 {
		return
	}

	victim := m.order[0]
	if m.policy == PolicyLFU {
		lowest := m.freq[victim]
		for _, k := range m.order {
			if m.freq[k] < lowest {
				victim = k
				lowest = m.freq[k]
			}
		}
	}

	value := m.items[victim]
	if m.onEvict != nil {
		m.onEvict(victim, value)
	}
	delete(m.items, victim)
	delete(m.freq, victim)
	m.removeFromOrder(victim)
}

func (m *Map[K, V]) removeFromOrder(key K) {
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}
