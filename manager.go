package jobqueue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
)

// Metrics tracks a processing loop's operational counters.
type Metrics struct {
	Claimed    atomic.Int64
	Completed  atomic.Int64
	Failed     atomic.Int64
	Suppressed atomic.Int64
	Retried    atomic.Int64
	Active     atomic.Int64
}

func (m *Metrics) snapshot() map[string]int64 {
	return map[string]int64{
		"claimed":    m.Claimed.Load(),
		"completed":  m.Completed.Load(),
		"failed":     m.Failed.Load(),
		"suppressed": m.Suppressed.Load(),
		"retried":    m.Retried.Load(),
		"active":     m.Active.Load(),
	}
}

// Manager runs the processing loop of one queue: a fixed number of worker
// slots sharing a processor, a control gate and a store breaker.
type Manager struct {
	cfg         *Config
	queue       string
	processor   Processor
	concurrency int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	workers []*Worker
	gate    *gate
	wakeup  chan struct{}
	breaker *gobreaker.CircuitBreaker
	metrics *Metrics

	startOnce sync.Once
	stopOnce  sync.Once
}

func newManager(cfg *Config, queue string, fn Processor, concurrency int) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:         cfg,
		queue:       queue,
		processor:   fn,
		concurrency: concurrency,
		ctx:         ctx,
		cancel:      cancel,
		gate:        newGate(),
		wakeup:      make(chan struct{}, concurrency),
		breaker:     cfg.newBreaker("claim:" + queue),
		metrics:     &Metrics{},
	}

	prefix := uuid.NewString()
	m.workers = make([]*Worker, concurrency)
	for i := range m.workers {
		m.workers[i] = &Worker{
			id:      fmt.Sprintf("%s:%s-%d", queue, prefix, i),
			cfg:     cfg,
			manager: m,
		}
	}
	return m
}

// start spawns the worker slots. It returns immediately.
func (m *Manager) start() {
	m.startOnce.Do(func() {
		m.cfg.logInfo(LogEvent{
			Message: fmt.Sprintf("Starting %d workers...", m.concurrency),
			Queue:   m.queue,
		})

		if n, ok := m.cfg.Store.(Notifier); ok {
			m.subscribe(n)
		}

		for _, w := range m.workers {
			m.wg.Add(1)
			go func(worker *Worker) {
				defer m.wg.Done()
				worker.Run(m.ctx)
			}(w)
		}
	})
}

func (m *Manager) subscribe(n Notifier) {
	ch, err := n.Subscribe(m.ctx, m.queue)
	if err != nil {
		m.cfg.logError(LogEvent{
			Message: "Could not subscribe to new job notifications, falling back to polling",
			Queue:   m.queue,
			Err:     err,
		})
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-m.ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				m.notify()
			}
		}
	}()
}

// notify wakes one idle slot, if any.
func (m *Manager) notify() {
	select {
	case m.wakeup <- struct{}{}:
	default:
		// channel is full; slots will look anyway
	}
}

// Workers returns a snapshot of every execution slot.
func (m *Manager) Workers() []WorkerInfo {
	out := make([]WorkerInfo, 0, len(m.workers))
	for _, w := range m.workers {
		out = append(out, w.info())
	}
	return out
}

func (m *Manager) busyJobs() []int64 {
	var ids []int64
	for _, wi := range m.Workers() {
		if wi.Status == WorkerBusy {
			ids = append(ids, wi.JobID)
		}
	}
	return ids
}

// Pause stops claiming and waits up to timeout for in-flight jobs.
func (m *Manager) Pause(timeout time.Duration) bool {
	m.cfg.logInfo(LogEvent{Message: "Pause requested.", Queue: m.queue})
	drained := m.gate.pause(timeout)
	if !drained {
		m.cfg.logError(LogEvent{
			Message: fmt.Sprintf("Pause timed out after %v. Jobs %v are still running.", timeout, m.busyJobs()),
			Queue:   m.queue,
		})
	}
	return drained
}

// Resume re-enables claiming.
func (m *Manager) Resume() {
	m.gate.resume()
	m.cfg.logInfo(LogEvent{Message: "Processing resumed.", Queue: m.queue})
	for i := 0; i < m.concurrency; i++ {
		m.notify()
	}
}

// Shutdown attempts a graceful shutdown: cancel context, wait for workers up
// to timeout. It reports whether every worker exited in time.
func (m *Manager) Shutdown(timeout time.Duration) bool {
	m.stopOnce.Do(func() {
		m.cfg.logInfo(LogEvent{Message: "Shutdown requested. Stopping workers...", Queue: m.queue})
		m.cancel()
	})

	doneCh := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		m.cfg.logInfo(LogEvent{Message: "All workers exited cleanly.", Queue: m.queue})
		return true
	case <-time.After(timeout):
		m.cfg.logError(LogEvent{
			Message: fmt.Sprintf("Shutdown timed out after %v. Jobs %v are still running.", timeout, m.busyJobs()),
			Queue:   m.queue,
		})
		return false
	}
}
