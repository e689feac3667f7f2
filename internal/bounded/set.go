package bounded

// Set is a size-capped set. Membership tests count as use for the
// LRU and LFU policies, so frequently checked members survive eviction.
type Set[T comparable] struct {
	m *Map[T, struct{}]
}

// NewSet creates a bounded set with the given capacity and policy.
// onEvict may be nil.
func NewSet[T comparable](maxSize int, policy Policy, onEvict func(item T)) (*Set[T], error) {
	var cb EvictFunc[T, struct{}]
	if onEvict != nil {
		cb = func(k T, _ struct{}) { onEvict(k) }
	}
	m, err := NewMap[T, struct{}](maxSize, policy, cb)
	if err != nil {
		return nil, err
	}
	return &Set[T]{m: m}, nil
}

// Add inserts an item. Overflow never fails; it evicts.
func (s *Set[T]) Add(item T) {
	s.m.Set(item, struct{}{})
}

// Contains reports membership and bumps the item's recency/frequency.
func (s *Set[T]) Contains(item T) bool {
	_, ok := s.m.Get(item)
	return ok
}

// Remove deletes an item without firing the eviction callback.
func (s *Set[T]) Remove(item T) bool {
	return s.m.Delete(item)
}

// Len returns the number of items currently stored.
func (s *Set[T]) Len() int {
	return s.m.Len()
}

// MaxSize returns the configured capacity.
func (s *Set[T]) MaxSize() int {
	return s.m.MaxSize()
}

// Items returns the stored items, oldest first.
func (s *Set[T]) Items() []T {
	return s.m.Keys()
}
