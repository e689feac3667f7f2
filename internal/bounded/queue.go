package bounded

// QueuePolicy selects which end of a full queue is evicted on push.
type QueuePolicy string

const (
	// QueueEvictOldest drops the head (FIFO eviction).
	QueueEvictOldest QueuePolicy = "fifo"
	// QueueEvictNewest drops the tail (LIFO eviction).
	QueueEvictNewest QueuePolicy = "lifo"
)

// Queue is a size-capped FIFO queue. Pushing onto a full queue evicts
// one item per the configured policy and fires the callback before the
// item becomes unreachable.
type Queue[T any] struct {
	maxSize int
	policy  QueuePolicy
	onEvict func(item T)
	items   []T
}

// NewQueue creates a bounded queue with the given capacity and eviction
// policy. onEvict may be nil.
func NewQueue[T any](maxSize int, policy QueuePolicy, onEvict func(item T)) (*Queue[T], error) {
	if maxSize <= 0 {
		return nil, ErrInvalidSize
	}
	if policy != QueueEvictOldest && policy != QueueEvictNewest {
		policy = QueueEvictOldest
	}
	return &Queue[T]{
		maxSize: maxSize,
		policy:  policy,
		onEvict: onEvict,
	}, nil
}

// Push appends an item, evicting per policy when full. It returns the
// evicted item and true when an eviction occurred.
func (q *Queue[T]) Push(item T) (evicted T, didEvict bool) {
	if len(q.items) >= q.maxSize {
		if q.policy == QueueEvictNewest {
			evicted = q.items[len(q.items)-1]
			q.items = q.items[:len(q.items)-1]
		} else {
			evicted = q.items[0]
			q.items = q.items[1:]
		}
		didEvict = true
		if q.onEvict != nil {
			q.onEvict(evicted)
		}
	}
	q.items = append(q.items, item)
	return evicted, didEvict
}

// Pop removes and returns the head of the queue.
func (q *Queue[T]) Pop() (T, bool) {
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	return len(q.items)
}

// MaxSize returns the configured capacity.
func (q *Queue[T]) MaxSize() int {
	return q.maxSize
}

// Items returns a copy of the queued items, head first.
func (q *Queue[T]) Items() []T {
	return append([]T(nil), q.items...)
}
