package jobqueue

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// LogEvent captures information about a logging event.
type LogEvent struct {
	// A human-readable message about the event.
	Message string

	// The ID of the worker slot that triggered the log (if any).
	WorkerID string

	// The queue name, if available.
	Queue string

	// The Job ID, if available.
	JobID *int64

	// Any error associated with the event.
	Err error

	// How long the job or operation took, if relevant.
	Duration *time.Duration
}

// BreakerSettings configures the circuit breaker guarding store claims.
type BreakerSettings struct {
	// MaxRequests allowed through while half-open.
	MaxRequests uint32

	// Interval clears the closed-state counts. Zero never clears.
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration

	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
}

// Config holds the settings and resources needed by the queue system.
type Config struct {
	// Store is the shared job store. Required.
	Store Store

	// Registry records which queues have a processor attached. When nil the
	// client owns a fresh one.
	Registry *Registry

	// PollInterval is how frequently idle slots check for new jobs when no
	// notification arrives.
	PollInterval time.Duration

	// WatchdogInterval enables the stuck job watchdog when positive.
	WatchdogInterval time.Duration

	// StuckAfter is how long a job may stay active before the watchdog
	// moves it back to inactive.
	StuckAfter time.Duration

	// Breaker guards ClaimNext calls of each processing loop.
	Breaker BreakerSettings

	// Logger receives events when InfoLog / ErrorLog are nil.
	// Defaults to logrus.StandardLogger().
	Logger *logrus.Logger

	// InfoLog is called for informational or success logs.
	InfoLog func(ev LogEvent)

	// ErrorLog is called for error logs.
	ErrorLog func(ev LogEvent)
}

const (
	defaultPollInterval = time.Second
	defaultStuckAfter   = 5 * time.Minute
)

func (c *Config) setDefaults() error {
	if c.Store == nil {
		return errors.New("jobqueue: config store is required")
	}
	if c.Registry == nil {
		c.Registry = NewRegistry()
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.StuckAfter <= 0 {
		c.StuckAfter = defaultStuckAfter
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	if c.Breaker.ConsecutiveFailures == 0 {
		c.Breaker.ConsecutiveFailures = 5
	}
	if c.Breaker.Timeout <= 0 {
		c.Breaker.Timeout = 5 * time.Second
	}
	if c.Breaker.MaxRequests == 0 {
		c.Breaker.MaxRequests = 1
	}
	return nil
}

func (c *Config) newBreaker(name string) *gobreaker.CircuitBreaker {
	threshold := c.Breaker.ConsecutiveFailures
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: c.Breaker.MaxRequests,
		Interval:    c.Breaker.Interval,
		Timeout:     c.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logError(LogEvent{
				Message: "store breaker " + name + " changed from " + from.String() + " to " + to.String(),
			})
		},
	})
}
