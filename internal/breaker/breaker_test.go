package breaker

import (
	"testing"
	"time"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := New(Config{FailureThreshold: 3, OpenTimeout: time.Minute})

	for i := 0; i < 2; i++ {
		b.RecordFailure("a1")
		if !b.CanExecute("a1") {
			t.Fatalf("circuit opened after %d failures, threshold is 3", i+1)
		}
	}

	b.RecordFailure("a1")
	if b.CanExecute("a1") {
		t.Error("circuit should be open after 3 failures")
	}
	if b.StateOf("a1") != StateOpen {
		t.Errorf("expected open, got %s", b.StateOf("a1"))
	}
}

func TestBreakerSuccessResets(t *testing.T) {
	b := New(Config{FailureThreshold: 3, OpenTimeout: time.Minute})

	b.RecordFailure("a1")
	b.RecordFailure("a1")
	b.RecordSuccess("a1")

	// Counter reset: two more failures must not open the circuit.
	b.RecordFailure("a1")
	b.RecordFailure("a1")
	if !b.CanExecute("a1") {
		t.Error("success should have reset the failure count")
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	now := time.Now()
	b := New(Config{FailureThreshold: 1, OpenTimeout: 30 * time.Second})
	b.SetClock(func() time.Time { return now })

	b.RecordFailure("a1")
	if b.CanExecute("a1") {
		t.Fatal("circuit should be open")
	}

	// Advance past the open timeout: one probe is admitted, a second is not.
	now = now.Add(31 * time.Second)
	if !b.CanExecute("a1") {
		t.Fatal("expected half-open probe to be admitted")
	}
	if b.StateOf("a1") != StateHalfOpen {
		t.Errorf("expected half-open, got %s", b.StateOf("a1"))
	}
	if b.CanExecute("a1") {
		t.Error("only one probe may be outstanding in half-open")
	}

	// Probe success closes the circuit.
	b.RecordSuccess("a1")
	if b.StateOf("a1") != StateClosed {
		t.Errorf("expected closed after probe success, got %s", b.StateOf("a1"))
	}
	if !b.CanExecute("a1") {
		t.Error("closed circuit must admit executions")
	}
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	now := time.Now()
	b := New(Config{FailureThreshold: 1, OpenTimeout: 30 * time.Second})
	b.SetClock(func() time.Time { return now })

	b.RecordFailure("a1")
	now = now.Add(31 * time.Second)
	if !b.CanExecute("a1") {
		t.Fatal("expected probe admitted")
	}

	b.RecordFailure("a1")
	if b.StateOf("a1") != StateOpen {
		t.Errorf("expected reopened circuit, got %s", b.StateOf("a1"))
	}
	// Timer restarted: still open before another full timeout.
	now = now.Add(15 * time.Second)
	if b.CanExecute("a1") {
		t.Error("circuit should still be open before the restarted timeout elapses")
	}
}

func TestBreakerPerAgentIsolation(t *testing.T) {
	b := New(Config{FailureThreshold: 1, OpenTimeout: time.Minute})
	b.RecordFailure("a1")

	if b.CanExecute("a1") {
		t.Error("a1 should be open")
	}
	if !b.CanExecute("a2") {
		t.Error("a2 must be unaffected by a1's failures")
	}
	if b.OpenCount() != 1 {
		t.Errorf("expected 1 open circuit, got %d", b.OpenCount())
	}
}

func TestStealerSuggestScenarios(t *testing.T) {
	w := NewWorkStealer()

	// Loads {a1:0.9, a2:0.1} -> exactly one suggestion a1 -> a2.
	w.UpdateLoads(map[string]float64{"a1": 0.9, "a2": 0.1}, false)
	got := w.Suggest()
	if len(got) != 1 || got[0].From != "a1" || got[0].To != "a2" {
		t.Errorf("expected [{a1 a2}], got %v", got)
	}

	// Loads {a1:0.9, a2:0.5} -> no recipient below 0.3, no suggestions.
	w.UpdateLoads(map[string]float64{"a1": 0.9, "a2": 0.5}, false)
	if got := w.Suggest(); len(got) != 0 {
		t.Errorf("expected no suggestions, got %v", got)
	}
}

func TestStealerPairsExtremes(t *testing.T) {
	w := NewWorkStealer()
	w.UpdateLoads(map[string]float64{
		"hot1":  0.95,
		"hot2":  0.85,
		"cold1": 0.05,
		"cold2": 0.25,
		"warm":  0.5,
	}, false)

	got := w.Suggest()
	if len(got) != 2 {
		t.Fatalf("expected 2 suggestions, got %v", got)
	}
	if got[0].From != "hot1" || got[0].To != "cold1" {
		t.Errorf("hottest donor should pair with coldest recipient, got %v", got[0])
	}
	if got[1].From != "hot2" || got[1].To != "cold2" {
		t.Errorf("unexpected second pairing: %v", got[1])
	}
}

func TestStealerMergeAndClamp(t *testing.T) {
	w := NewWorkStealer()
	w.UpdateLoads(map[string]float64{"a1": 0.9}, false)
	w.UpdateLoads(map[string]float64{"a2": -0.5}, true)

	if l, _ := w.Load("a1"); l != 0.9 {
		t.Errorf("merge dropped a1, load=%v", l)
	}
	if l, _ := w.Load("a2"); l != 0 {
		t.Errorf("negative load should clamp to 0, got %v", l)
	}

	w.UpdateLoads(map[string]float64{"a3": 1.5}, false)
	if _, ok := w.Load("a1"); ok {
		t.Error("replace should drop previous workers")
	}
	if l, _ := w.Load("a3"); l != 1 {
		t.Errorf("load above 1 should clamp to 1, got %v", l)
	}
}
