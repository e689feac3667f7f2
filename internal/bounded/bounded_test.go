package bounded

import (
	"fmt"
	"testing"
	"time"
)

func TestMapLRUEviction(t *testing.T) {
	var evicted []string
	m, err := NewMap[string, int](3, PolicyLRU, func(k string, v int) {
		evicted = append(evicted, k)
	})
	if err != nil {
		t.Fatalf("NewMap: %v", err)
	}

	m.Set("a", 1)
	m.Set("b", 2)
	m.Set("c", 3)

	// Touch "a" so "b" becomes least recently used.
	if _, ok := m.Get("a"); !ok {
		t.Fatal("expected a to be present")
	}

	m.Set("d", 4)

	if m.Len() != 3 {
		t.Errorf("expected len 3, got %d", m.Len())
	}
	if len(evicted) != 1 || evicted[0] != "b" {
		t.Errorf("expected exactly [b] evicted, got %v", evicted)
	}
	if m.Contains("b") {
		t.Error("b should have been evicted")
	}
}

func TestMapLRUWriteBumps(t *testing.T) {
	m, _ := NewMap[string, int](2, PolicyLRU, nil)
	m.Set("a", 1)
	m.Set("b", 2)
	m.Set("a", 10) // write bumps a
	m.Set("c", 3)

	if m.Contains("b") {
		t.Error("b should have been evicted (a was bumped by write)")
	}
	if v, _ := m.Peek("a"); v != 10 {
		t.Errorf("expected a=10, got %d", v)
	}
}

func TestMapLFUEviction(t *testing.T) {
	var evicted []string
	m, err := NewMap[string, int](3, PolicyLFU, func(k string, v int) {
		evicted = append(evicted, k)
	})
	if err != nil {
		t.Fatalf("NewMap: %v", err)
	}

	m.Set("a", 1)
	m.Set("b", 2)
	m.Set("c", 3)
	m.Get("a")
	m.Get("a")
	m.Get("c")

	m.Set("d", 4)

	if len(evicted) != 1 || evicted[0] != "b" {
		t.Errorf("expected [b] evicted (lowest frequency), got %v", evicted)
	}
}

func TestMapFIFOEviction(t *testing.T) {
	var evicted []string
	m, _ := NewMap[string, int](2, PolicyFIFO, func(k string, v int) {
		evicted = append(evicted, k)
	})

	m.Set("a", 1)
	m.Set("b", 2)
	m.Get("a") // reads do not affect FIFO order
	m.Set("c", 3)

	if len(evicted) != 1 || evicted[0] != "a" {
		t.Errorf("expected [a] evicted, got %v", evicted)
	}
}

func TestMapNeverExceedsMaxSize(t *testing.T) {
	for _, policy := range []Policy{PolicyLRU, PolicyLFU, PolicyFIFO} {
		m, _ := NewMap[int, int](5, policy, nil)
		for i := 0; i < 50; i++ {
			m.Set(i, i)
			if m.Len() > 5 {
				t.Fatalf("policy %s: len %d exceeds max size 5", policy, m.Len())
			}
		}
	}
}

func TestMapDeleteDoesNotFireCallback(t *testing.T) {
	for _, policy := range []Policy{PolicyLRU, PolicyFIFO} {
		fired := 0
		m, _ := NewMap[string, int](3, policy, func(string, int) { fired++ })
		m.Set("a", 1)
		if !m.Delete("a") {
			t.Fatalf("policy %s: expected delete to succeed", policy)
		}
		if fired != 0 {
			t.Errorf("policy %s: delete fired eviction callback", policy)
		}
	}
}

func TestMapInvalidConfig(t *testing.T) {
	if _, err := NewMap[string, int](0, PolicyLRU, nil); err == nil {
		t.Error("expected error for zero size")
	}
	if _, err := NewMap[string, int](1, Policy("random"), nil); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestSetContainsBumps(t *testing.T) {
	s, err := NewSet[string](2, PolicyLRU, nil)
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	s.Add("a")
	s.Add("b")
	s.Contains("a") // bump
	s.Add("c")

	if s.Contains("b") {
		t.Error("b should have been evicted")
	}
	if !s.Contains("a") || !s.Contains("c") {
		t.Error("a and c should be present")
	}
}

func TestSetEvictCallback(t *testing.T) {
	var evicted []string
	s, _ := NewSet[string](1, PolicyFIFO, func(item string) {
		evicted = append(evicted, item)
	})
	s.Add("a")
	s.Add("b")
	if len(evicted) != 1 || evicted[0] != "a" {
		t.Errorf("expected [a] evicted, got %v", evicted)
	}
}

func TestQueueOverflowFIFO(t *testing.T) {
	var evicted []int
	q, _ := NewQueue[int](3, QueueEvictOldest, func(item int) {
		evicted = append(evicted, item)
	})

	for i := 1; i <= 5; i++ {
		q.Push(i)
	}

	if q.Len() != 3 {
		t.Errorf("expected len 3, got %d", q.Len())
	}
	if fmt.Sprint(evicted) != "[1 2]" {
		t.Errorf("expected [1 2] evicted in order, got %v", evicted)
	}
	if fmt.Sprint(q.Items()) != "[3 4 5]" {
		t.Errorf("unexpected remaining items: %v", q.Items())
	}
}

func TestQueueOverflowLIFO(t *testing.T) {
	q, _ := NewQueue[int](2, QueueEvictNewest, nil)
	q.Push(1)
	q.Push(2)
	evicted, did := q.Push(3)
	if !did || evicted != 2 {
		t.Errorf("expected newest (2) evicted, got %v did=%v", evicted, did)
	}
	if fmt.Sprint(q.Items()) != "[1 3]" {
		t.Errorf("unexpected items: %v", q.Items())
	}
}

func TestQueuePop(t *testing.T) {
	q, _ := NewQueue[string](2, QueueEvictOldest, nil)
	if _, ok := q.Pop(); ok {
		t.Error("pop on empty queue should report false")
	}
	q.Push("x")
	v, ok := q.Pop()
	if !ok || v != "x" {
		t.Errorf("expected x, got %q ok=%v", v, ok)
	}
}

func TestPressureMonitorRunsCallbacksInOrder(t *testing.T) {
	p := NewPressureMonitor(time.Hour, 100)
	p.SetSampler(func() uint64 { return 200 })

	var order []int
	p.OnPressure(func() { order = append(order, 1) })
	p.OnPressure(func() { order = append(order, 2) })
	p.OnPressure(func() { order = append(order, 3) })

	if !p.CheckNow() {
		t.Fatal("expected pressure check to fire")
	}
	if fmt.Sprint(order) != "[1 2 3]" {
		t.Errorf("callbacks ran out of order: %v", order)
	}
}

func TestPressureMonitorBelowThreshold(t *testing.T) {
	p := NewPressureMonitor(time.Hour, 1<<40)
	fired := false
	p.OnPressure(func() { fired = true })
	if p.CheckNow() || fired {
		t.Error("cleanup must not run below threshold")
	}
}
