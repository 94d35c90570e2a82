package jobqueue

import (
	"context"
	"sync"
	"time"
)

// watchdog periodically expires jobs past their ttl and recovers jobs left
// active for longer than stuckAfter, for every queue known to the registry.
type watchdog struct {
	client     *Client
	interval   time.Duration
	stuckAfter time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func newWatchdog(c *Client, interval, stuckAfter time.Duration) *watchdog {
	ctx, cancel := context.WithCancel(context.Background())
	return &watchdog{
		client:     c,
		interval:   interval,
		stuckAfter: stuckAfter,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (w *watchdog) start() {
	w.wg.Add(1)
	go w.run()
}

func (w *watchdog) stop() {
	w.once.Do(w.cancel)
	w.wg.Wait()
}

func (w *watchdog) run() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

func (w *watchdog) sweep() {
	cfg := w.client.cfg
	for _, name := range cfg.Registry.Names() {
		if w.ctx.Err() != nil {
			return
		}
		q := w.client.Queue(name)
		if err := q.expire(w.ctx); err != nil {
			cfg.logError(LogEvent{Message: "Watchdog could not expire jobs", Queue: name, Err: err})
		}
		if err := q.Cleanup(w.ctx, w.stuckAfter); err != nil {
			cfg.logError(LogEvent{Message: "Watchdog could not recover stuck jobs", Queue: name, Err: err})
		}
	}
}
