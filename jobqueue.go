package jobqueue

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Client is the process-wide entry point: it owns the store handle, the
// queue registry and the optional watchdog.
type Client struct {
	cfg      *Config
	watchdog *watchdog
}

// New validates cfg, fills in defaults and starts the watchdog when
// cfg.WatchdogInterval is positive.
func New(cfg Config) (*Client, error) {
	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}
	c := &Client{cfg: &cfg}
	if cfg.WatchdogInterval > 0 {
		c.watchdog = newWatchdog(c, cfg.WatchdogInterval, cfg.StuckAfter)
		c.watchdog.start()
	}
	return c, nil
}

// Queue returns a handle on the named queue. Handles carry their own
// submission defaults; the processor registration is shared by name.
func (c *Client) Queue(name string) *Queue {
	c.cfg.Registry.ensure(name)
	return &Queue{name: name, client: c, attempts: 1}
}

// Registry returns the queue registry used by c.
func (c *Client) Registry() *Registry { return c.cfg.Registry }

// Store returns the job store used by c.
func (c *Client) Store() Store { return c.cfg.Store }

// Status returns the detail of job id.
func (c *Client) Status(ctx context.Context, id int64) (*JobDetail, error) {
	job, err := c.cfg.Store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("status of job %d: %w", id, err)
	}
	return job.Detail(), nil
}

// ProcessJobByID manually runs fn on job id, ignoring its queue's
// concurrency and attempts limit.
func (c *Client) ProcessJobByID(ctx context.Context, id int64, fn Processor) (*JobDetail, error) {
	return c.processByID(ctx, id, fn)
}

// Exit stops every processing loop and the watchdog, waiting up to timeout
// for in-flight jobs. It always returns true; jobs still running when the
// timeout lapses are left to finish on their own.
func (c *Client) Exit(timeout time.Duration) bool {
	if c.watchdog != nil {
		c.watchdog.stop()
	}

	managers := c.cfg.Registry.managers()
	if len(managers) == 0 {
		return true
	}

	var g errgroup.Group
	for _, m := range managers {
		g.Go(func() error {
			m.Shutdown(timeout)
			return nil
		})
	}
	_ = g.Wait()

	c.cfg.logInfo(LogEvent{Message: "jobqueue shutdown complete."})
	return true
}

// wake nudges the local processing loop of queue, if any.
func (c *Client) wake(queue string) {
	if m := c.cfg.Registry.manager(queue); m != nil {
		m.notify()
	}
}
