package batch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/claude-flow/claude-flow/pkg/models"
)

func upperBatch(items []string) ([]string, error) {
	out := make([]string, len(items))
	for i, s := range items {
		out[i] = strings.ToUpper(s)
	}
	return out, nil
}

func TestSubmitSizeTrigger(t *testing.T) {
	p, err := New(Config{MaxBatchSize: 2, MaxWait: time.Hour, MaxQueueSize: 10}, upperBatch, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	var wg sync.WaitGroup
	results := make([]string, 2)
	for i, in := range []string{"a", "b"} {
		wg.Add(1)
		go func(i int, in string) {
			defer wg.Done()
			out, err := p.Submit(context.Background(), in)
			if err != nil {
				t.Errorf("Submit(%q): %v", in, err)
				return
			}
			results[i] = out
		}(i, in)
	}
	wg.Wait()

	if results[0] != "A" || results[1] != "B" {
		t.Errorf("results do not correspond to inputs: %v", results)
	}
}

func TestSubmitTimeTrigger(t *testing.T) {
	p, err := New(Config{MaxBatchSize: 100, MaxWait: 20 * time.Millisecond, MaxQueueSize: 10}, upperBatch, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	start := time.Now()
	out, err := p.Submit(context.Background(), "solo")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if out != "SOLO" {
		t.Errorf("expected SOLO, got %q", out)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("time trigger took too long: %v", elapsed)
	}
}

func TestBatchOrderLaw(t *testing.T) {
	// Echo the batch index alongside the value so ordering is observable.
	process := func(items []int) ([]string, error) {
		out := make([]string, len(items))
		for i, v := range items {
			out[i] = fmt.Sprintf("%d@%d", v, i)
		}
		return out, nil
	}

	p, err := New(Config{MaxBatchSize: 4, MaxWait: 10 * time.Millisecond, MaxQueueSize: 100}, process, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			out, err := p.Submit(context.Background(), v)
			if err != nil {
				t.Errorf("Submit(%d): %v", v, err)
				return
			}
			// The result must carry our own value back.
			if !strings.HasPrefix(out, fmt.Sprintf("%d@", v)) {
				t.Errorf("result %q does not correspond to input %d", out, v)
			}
		}(i)
	}
	wg.Wait()
}

func TestQueueOverflowRejectsOldest(t *testing.T) {
	block := make(chan struct{})
	process := func(items []string) ([]string, error) {
		<-block
		return items, nil
	}

	var overflowed []string
	var overflowMu sync.Mutex
	p, err := New(Config{MaxBatchSize: 1, MaxWait: time.Hour, MaxQueueSize: 1}, process, func(item string) {
		overflowMu.Lock()
		overflowed = append(overflowed, item)
		overflowMu.Unlock()
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// First submit occupies the worker.
	firstDone := make(chan error, 1)
	go func() {
		_, err := p.Submit(context.Background(), "first")
		firstDone <- err
	}()

	// Wait until the worker picked up "first".
	deadline := time.Now().Add(time.Second)
	for p.Idle() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	// "second" waits in the queue; "third" evicts it.
	secondDone := make(chan error, 1)
	go func() {
		_, err := p.Submit(context.Background(), "second")
		secondDone <- err
	}()
	for {
		p.mu.Lock()
		n := len(p.pending)
		p.mu.Unlock()
		if n >= 1 || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}

	thirdDone := make(chan error, 1)
	go func() {
		_, err := p.Submit(context.Background(), "third")
		thirdDone <- err
	}()

	if err := <-secondDone; models.CodeOf(err) != models.CodeQueueCapacity {
		t.Errorf("expected queue-capacity rejection for second, got %v", err)
	}

	overflowMu.Lock()
	if len(overflowed) != 1 || overflowed[0] != "second" {
		t.Errorf("expected overflow handler called with second, got %v", overflowed)
	}
	overflowMu.Unlock()

	close(block)
	if err := <-firstDone; err != nil {
		t.Errorf("first: %v", err)
	}
	if err := <-thirdDone; err != nil {
		t.Errorf("third: %v", err)
	}
	p.Close()
}

func TestFlushAllDrains(t *testing.T) {
	p, err := New(Config{MaxBatchSize: 100, MaxWait: time.Hour, MaxQueueSize: 100}, upperBatch, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := p.Submit(context.Background(), "x"); err != nil {
			t.Errorf("Submit: %v", err)
		}
	}()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		p.mu.Lock()
		n := len(p.pending)
		p.mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	p.FlushAll()
	if !p.Idle() {
		t.Error("expected processor to be idle after FlushAll")
	}
	<-done
}

func TestProcessErrorPropagates(t *testing.T) {
	process := func(items []string) ([]string, error) {
		return nil, fmt.Errorf("backend unavailable")
	}
	p, err := New(Config{MaxBatchSize: 1, MaxWait: time.Hour, MaxQueueSize: 10}, process, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	if _, err := p.Submit(context.Background(), "x"); err == nil {
		t.Error("expected process error to propagate to submitter")
	}
}

func TestSubmitAfterClose(t *testing.T) {
	p, err := New(Config{MaxBatchSize: 1, MaxWait: time.Millisecond, MaxQueueSize: 1}, upperBatch, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.Close()

	if _, err := p.Submit(context.Background(), "x"); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
