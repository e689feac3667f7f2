package bounded

import (
	"context"
	"log"
	"runtime"
	"sync"
	"time"
)

// PressureMonitor samples resident memory at a fixed interval and runs
// registered cleanup callbacks, in registration order, whenever the
// sampled value exceeds the configured threshold.
type PressureMonitor struct {
	interval  time.Duration
	threshold uint64

	// sample returns the current heap usage in bytes. Replaceable in tests.
	sample func() uint64

	mu        sync.Mutex
	callbacks []func()
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewPressureMonitor creates a monitor that fires cleanups when heap
// allocation exceeds thresholdBytes.
func NewPressureMonitor(interval time.Duration, thresholdBytes uint64) *PressureMonitor {
	return &PressureMonitor{
		interval:  interval,
		threshold: thresholdBytes,
		sample:    heapAlloc,
	}
}

func heapAlloc() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}

// SetSampler replaces the memory sampler. Intended for tests.
func (p *PressureMonitor) SetSampler(fn func() uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if fn != nil {
		p.sample = fn
	}
}

// OnPressure registers a cleanup callback. Callbacks run in
// registration order on the monitor goroutine.
func (p *PressureMonitor) OnPressure(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callbacks = append(p.callbacks, fn)
}

// Start begins sampling. It is a no-op if already started.
func (p *PressureMonitor) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.CheckNow()
			}
		}
	}()
}

// Stop halts sampling and waits for the monitor goroutine to exit.
func (p *PressureMonitor) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.cancel = nil
	p.done = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// CheckNow samples once and runs cleanups if the threshold is exceeded.
// Returns true when cleanups ran.
func (p *PressureMonitor) CheckNow() bool {
	p.mu.Lock()
	sample := p.sample
	callbacks := append([]func(){}, p.callbacks...)
	p.mu.Unlock()

	used := sample()
	if used <= p.threshold {
		return false
	}

	log.Printf("[pressure] heap %d bytes exceeds threshold %d, running %d cleanups", used, p.threshold, len(callbacks))
	for _, fn := range callbacks {
		fn()
	}
	return true
}
