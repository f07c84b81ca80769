package core

// writer_gate.go serializes writes to staging and production.
//
// Staging is a single shared table, so only one stage, apply or clear may
// run at a time. The gate is a one-slot semaphore: a second writer waits up
// to maxWait and then fails with ErrWriterBusy. WaitForDrain lets shutdown
// block until the active writer finishes.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrWriterBusy is returned when another write holds the gate past the wait.
var ErrWriterBusy = errors.New("another import is writing to staging, please try again later")

// DefaultWriterWait is how long a writer waits for the gate.
const DefaultWriterWait = 30 * time.Second

// WriterGate admits one writer at a time.
type WriterGate struct {
	slot    chan struct{}
	maxWait time.Duration

	mu     sync.RWMutex
	holder string
	since  time.Time
}

// NewWriterGate creates a gate whose Acquire waits at most maxWait.
func NewWriterGate(maxWait time.Duration) *WriterGate {
	if maxWait <= 0 {
		maxWait = DefaultWriterWait
	}
	return &WriterGate{
		slot:    make(chan struct{}, 1),
		maxWait: maxWait,
	}
}

// Acquire takes the gate for op. The caller must Release it (use defer).
func (g *WriterGate) Acquire(ctx context.Context, op string) error {
	waitCtx, cancel := context.WithTimeout(ctx, g.maxWait)
	defer cancel()

	select {
	case g.slot <- struct{}{}:
		g.hold(op)
		return nil
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrWriterBusy
	}
}

// TryAcquire takes the gate without waiting.
func (g *WriterGate) TryAcquire(op string) bool {
	select {
	case g.slot <- struct{}{}:
		g.hold(op)
		return true
	default:
		return false
	}
}

func (g *WriterGate) hold(op string) {
	g.mu.Lock()
	g.holder = op
	g.since = time.Now()
	g.mu.Unlock()
}

// Release frees the gate. Call exactly once per successful acquire.
func (g *WriterGate) Release() {
	g.mu.Lock()
	g.holder = ""
	g.since = time.Time{}
	g.mu.Unlock()

	<-g.slot
}

// Busy reports whether a writer holds the gate.
func (g *WriterGate) Busy() bool {
	return len(g.slot) > 0
}

// WaitForDrain blocks until no writer holds the gate or ctx is done.
func (g *WriterGate) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if !g.Busy() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// WriterGateStatus is a snapshot of the gate.
type WriterGateStatus struct {
	Busy   bool      `json:"busy"`
	Holder string    `json:"holder,omitempty"`
	Since  time.Time `json:"since,omitzero"`
}

// Status returns the current gate state for monitoring.
func (g *WriterGate) Status() WriterGateStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return WriterGateStatus{
		Busy:   g.holder != "",
		Holder: g.holder,
		Since:  g.since,
	}
}
