package jobqueue

import (
	"context"
	"sync"
	"time"
)

// gate is the control channel between Pause/Resume and the worker slots.
// A slot must acquire the gate before each claim and release it once the
// claimed job's callback has returned, so a pause lands between claims and
// never in the middle of an execution.
type gate struct {
	mu      sync.Mutex
	paused  bool
	resumed chan struct{} // closed while running
	busy    int
	idle    chan struct{} // closed when busy drops to zero during a pause
}

func newGate() *gate {
	resumed := make(chan struct{})
	close(resumed)
	return &gate{resumed: resumed}
}

// acquire blocks while the gate is paused.
func (g *gate) acquire(ctx context.Context) error {
	for {
		g.mu.Lock()
		if !g.paused {
			g.busy++
			g.mu.Unlock()
			return nil
		}
		resumed := g.resumed
		g.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-resumed:
		}
	}
}

func (g *gate) release() {
	g.mu.Lock()
	g.busy--
	if g.busy == 0 && g.idle != nil {
		close(g.idle)
		g.idle = nil
	}
	g.mu.Unlock()
}

// pause stops further acquisitions and waits up to timeout for the slots
// holding the gate to release it. It reports whether all slots went idle.
func (g *gate) pause(timeout time.Duration) bool {
	g.mu.Lock()
	if !g.paused {
		g.paused = true
		g.resumed = make(chan struct{})
	}
	if g.busy == 0 {
		g.mu.Unlock()
		return true
	}
	if g.idle == nil {
		g.idle = make(chan struct{})
	}
	idle := g.idle
	g.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-idle:
		return true
	case <-timer.C:
		return false
	}
}

func (g *gate) resume() {
	g.mu.Lock()
	if g.paused {
		g.paused = false
		close(g.resumed)
	}
	g.mu.Unlock()
}

func (g *gate) isPaused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}
