// Package breaker provides the per-agent circuit breaker and the
// load-imbalance advisor used by the dispatcher.
package breaker

import (
	"log"
	"sync"
	"time"
)

// State is the circuit state for one agent.
type State string

const (
	// StateClosed admits executions normally.
	StateClosed State = "closed"
	// StateOpen rejects executions until the open timeout elapses.
	StateOpen State = "open"
	// StateHalfOpen admits a single probe execution.
	StateHalfOpen State = "half-open"
)

// Config controls breaker behaviour.
type Config struct {
	// FailureThreshold is the consecutive-failure count that opens the circuit.
	FailureThreshold int
	// OpenTimeout is how long an open circuit waits before admitting a probe.
	OpenTimeout time.Duration
}

// DefaultConfig returns the default breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		OpenTimeout:      30 * time.Second,
	}
}

type circuit struct {
	state    State
	failures int
	openedAt time.Time
	// probing is true while the single half-open probe is outstanding.
	probing bool
}

// CircuitBreaker tracks a failure state machine per agent.
//
// Probe policy: after OpenTimeout in the open state the circuit moves
// to half-open and admits exactly one probe execution. Success closes
// the circuit; failure reopens it and restarts the timer.
type CircuitBreaker struct {
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	circuits map[string]*circuit
}

// New creates a circuit breaker with the given configuration.
func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultConfig().OpenTimeout
	}
	return &CircuitBreaker{
		cfg:      cfg,
		now:      time.Now,
		circuits: make(map[string]*circuit),
	}
}

// SetClock replaces the time source. Intended for tests.
func (b *CircuitBreaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if now != nil {
		b.now = now
	}
}

func (b *CircuitBreaker) get(agentID string) *circuit {
	c, ok := b.circuits[agentID]
	if !ok {
		c = &circuit{state: StateClosed}
		b.circuits[agentID] = c
	}
	return c
}

// CanExecute reports whether the agent may receive work. An open
// circuit whose timeout has elapsed transitions to half-open and
// admits one probe.
func (b *CircuitBreaker) CanExecute(agentID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.get(agentID)
	switch c.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(c.openedAt) >= b.cfg.OpenTimeout {
			c.state = StateHalfOpen
			c.probing = false
			log.Printf("[breaker] agent %s: open timeout elapsed, moving to half-open", agentID)
			return b.admitProbe(agentID, c)
		}
		return false
	case StateHalfOpen:
		return b.admitProbe(agentID, c)
	default:
		return false
	}
}

// admitProbe allows one outstanding probe in half-open. Caller holds b.mu.
func (b *CircuitBreaker) admitProbe(agentID string, c *circuit) bool {
	if c.probing {
		return false
	}
	c.probing = true
	log.Printf("[breaker] agent %s: admitting half-open probe", agentID)
	return true
}

// RecordSuccess resets the agent's circuit to closed.
func (b *CircuitBreaker) RecordSuccess(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.get(agentID)
	if c.state != StateClosed {
		log.Printf("[breaker] agent %s: success, closing circuit", agentID)
	}
	c.state = StateClosed
	c.failures = 0
	c.probing = false
}

// RecordFailure increments the agent's failure count. Reaching the
// threshold, or failing a half-open probe, opens the circuit.
func (b *CircuitBreaker) RecordFailure(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.get(agentID)
	c.failures++

	if c.state == StateHalfOpen {
		c.state = StateOpen
		c.openedAt = b.now()
		c.probing = false
		log.Printf("[breaker] agent %s: half-open probe failed, reopening circuit", agentID)
		return
	}

	if c.failures >= b.cfg.FailureThreshold && c.state != StateOpen {
		c.state = StateOpen
		c.openedAt = b.now()
		log.Printf("[breaker] agent %s: %d consecutive failures, opening circuit", agentID, c.failures)
	}
}

// StateOf returns the agent's current circuit state without side effects.
func (b *CircuitBreaker) StateOf(agentID string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.get(agentID).state
}

// OpenCount returns the number of agents with an open circuit.
func (b *CircuitBreaker) OpenCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.circuits {
		if c.state == StateOpen {
			n++
		}
	}
	return n
}

// Reset clears the circuit for an agent.
func (b *CircuitBreaker) Reset(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.circuits, agentID)
}
