package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Queue is a handle on one named queue.
type Queue struct {
	name   string
	client *Client

	mu               sync.RWMutex
	attempts         int
	delay            time.Duration
	ttl              time.Duration
	removeOnComplete bool
	noFailure        bool
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// SetAttempts sets the number of attempts (default 1) for jobs added after
// the call. Values below 1 restore the default.
func (q *Queue) SetAttempts(attempts int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if attempts < 1 {
		attempts = 1
	}
	q.attempts = attempts
}

// SetDelay sets the delay before new jobs become eligible. A positive delay
// also spaces out retries of failed attempts by the same amount.
func (q *Queue) SetDelay(delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.delay = delay
}

// SetTTL bounds how long new jobs may stay active. Zero means unbounded.
func (q *Queue) SetTTL(ttl time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ttl = ttl
}

// SetRemoveOnCompletion purges new jobs as soon as they complete.
func (q *Queue) SetRemoveOnCompletion(removeOnComplete bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removeOnComplete = removeOnComplete
}

// SetNoFailure marks new jobs complete even when their processor fails.
func (q *Queue) SetNoFailure(noFailure bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.noFailure = noFailure
}

// AddJob submits input to the queue and returns the new job id.
func (q *Queue) AddJob(ctx context.Context, input any, priority int) (int64, error) {
	raw, err := encodeInput(input)
	if err != nil {
		return 0, fmt.Errorf("%w: encode input: %w", ErrSubmission, err)
	}

	now := time.Now()
	q.mu.RLock()
	job := &Job{
		Queue:            q.name,
		Input:            raw,
		Options:          Options{NoFailure: q.noFailure},
		Priority:         priority,
		State:            StateInactive,
		Attempts:         Attempts{Max: q.attempts},
		TTL:              q.ttl,
		RemoveOnComplete: q.removeOnComplete,
		RunAt:            now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if q.delay > 0 {
		job.Delay = q.delay
		job.Backoff = true
		job.State = StateDelayed
		job.RunAt = now.Add(q.delay)
	}
	q.mu.RUnlock()

	id, err := q.client.cfg.Store.Create(ctx, job)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSubmission, err)
	}
	if job.State == StateInactive {
		q.client.wake(q.name)
	}
	return id, nil
}

func encodeInput(input any) (json.RawMessage, error) {
	switch v := input.(type) {
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, errors.New("invalid json input")
		}
		return v, nil
	case []byte:
		return json.Marshal(string(v))
	}
	return json.Marshal(input)
}

// AddProcessor attaches fn to the queue with the given number of execution
// slots. Only one processor may be attached per queue name.
func (q *Queue) AddProcessor(fn Processor, concurrency int) error {
	if concurrency < 1 {
		return ErrInvalidConcurrency
	}
	m := newManager(q.client.cfg, q.name, fn, concurrency)
	if err := q.client.cfg.Registry.attach(q.name, m); err != nil {
		return err
	}
	m.start()
	return nil
}

// PauseProcessor stops claiming new jobs and gives in-flight jobs up to
// timeout to finish. It reports whether every slot went idle in time.
func (q *Queue) PauseProcessor(timeout time.Duration) (bool, error) {
	m := q.client.cfg.Registry.manager(q.name)
	if m == nil {
		return false, fmt.Errorf("pause %s: %w", q.name, ErrNoProcessor)
	}
	return m.Pause(timeout), nil
}

// ResumeProcessor re-enables claiming without waiting.
func (q *Queue) ResumeProcessor() {
	if m := q.client.cfg.Registry.manager(q.name); m != nil {
		m.Resume()
	}
}

// Metrics returns the processing counters of the attached processor.
func (q *Queue) Metrics() map[string]int64 {
	m := q.client.cfg.Registry.manager(q.name)
	if m == nil {
		return (&Metrics{}).snapshot()
	}
	return m.metrics.snapshot()
}

// Workers returns the slot snapshots of the attached processor, or nil when
// none is attached.
func (q *Queue) Workers() []WorkerInfo {
	if m := q.client.cfg.Registry.manager(q.name); m != nil {
		return m.Workers()
	}
	return nil
}

// Count returns the number of jobs of the queue in state.
func (q *Queue) Count(ctx context.Context, state State) (int64, error) {
	n, err := q.client.cfg.Store.Count(ctx, q.name, state)
	if err != nil {
		return 0, fmt.Errorf("could not get total %s jobs: %w", state, err)
	}
	return n, nil
}

func (q *Queue) InactiveJobs(ctx context.Context) (int64, error) {
	return q.Count(ctx, StateInactive)
}

// PendingJobs is an alias for InactiveJobs.
func (q *Queue) PendingJobs(ctx context.Context) (int64, error) {
	return q.InactiveJobs(ctx)
}

func (q *Queue) ActiveJobs(ctx context.Context) (int64, error) {
	return q.Count(ctx, StateActive)
}

// CompletedJobs might return 0 when jobs were removed on completion.
func (q *Queue) CompletedJobs(ctx context.Context) (int64, error) {
	return q.Count(ctx, StateComplete)
}

func (q *Queue) FailedJobs(ctx context.Context) (int64, error) {
	return q.Count(ctx, StateFailed)
}

func (q *Queue) DelayedJobs(ctx context.Context) (int64, error) {
	return q.Count(ctx, StateDelayed)
}

// ProcessJob manually runs fn on the next inactive job of the queue. A job
// taken by a processing loop in the meantime is skipped.
func (q *Queue) ProcessJob(ctx context.Context, fn Processor) (*JobDetail, error) {
	for {
		jobs, err := q.client.cfg.Store.Range(ctx, q.name, StateInactive, 0, 1, OrderAsc)
		if err != nil {
			return nil, fmt.Errorf("could not fetch jobs: %w", err)
		}
		if len(jobs) == 0 {
			return nil, fmt.Errorf("%s: %w", q.name, ErrQueueEmpty)
		}
		job, err := q.client.claimManual(ctx, jobs[0].ID, StateInactive)
		if errors.Is(err, ErrStateConflict) || errors.Is(err, ErrActiveJob) || errors.Is(err, ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return q.client.runManual(ctx, job, fn)
	}
}
