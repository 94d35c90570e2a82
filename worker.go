package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

type WorkerStatus int

const (
	WorkerIdle WorkerStatus = iota
	WorkerBusy
	WorkerFailing
	WorkerExecFailed
)

func (s WorkerStatus) String() string {
	switch s {
	case WorkerIdle:
		return "idle"
	case WorkerBusy:
		return "busy"
	case WorkerFailing:
		return "failing"
	case WorkerExecFailed:
		return "exec_failed"
	}
	return fmt.Sprintf("WorkerStatus(%d)", int(s))
}

func (s WorkerStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// WorkerInfo is a snapshot of one execution slot. JobID is zero unless the
// slot holds a job.
type WorkerInfo struct {
	ID     string       `json:"id"`
	Status WorkerStatus `json:"status"`
	JobID  int64        `json:"job_id,omitempty"`
}

// Worker is one execution slot of a Manager.
type Worker struct {
	id      string
	cfg     *Config
	manager *Manager

	mu         sync.Mutex
	status     WorkerStatus
	currentJob *Job
}

func (w *Worker) setStatus(status WorkerStatus, job *Job) {
	w.mu.Lock()
	w.status = status
	w.currentJob = job
	w.mu.Unlock()
}

func (w *Worker) info() WorkerInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	wi := WorkerInfo{ID: w.id, Status: w.status}
	if w.currentJob != nil {
		wi.JobID = w.currentJob.ID
	}
	return wi
}

// Run keeps claiming jobs until ctx is canceled. Between claims it waits for
// a wakeup or the poll interval.
func (w *Worker) Run(ctx context.Context) {
	m := w.manager
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.cfg.logDebug(LogEvent{
		Message:  fmt.Sprintf("Worker %s started.", w.id),
		WorkerID: w.id,
		Queue:    m.queue,
	})

	for {
		if ctx.Err() != nil {
			w.stopped()
			return
		}
		if err := m.gate.acquire(ctx); err != nil {
			w.stopped()
			return
		}
		claimed := w.fetchAndProcess(ctx)
		m.gate.release()
		if claimed {
			continue
		}

		select {
		case <-ctx.Done():
			w.stopped()
			return
		case <-m.wakeup:
		case <-ticker.C:
		}
	}
}

func (w *Worker) stopped() {
	w.cfg.logDebug(LogEvent{
		Message:  fmt.Sprintf("Worker %s context canceled, stopping.", w.id),
		WorkerID: w.id,
		Queue:    w.manager.queue,
	})
}

// fetchAndProcess claims at most one job and resolves it. It reports whether
// a job was claimed.
func (w *Worker) fetchAndProcess(ctx context.Context) bool {
	m := w.manager

	res, err := m.breaker.Execute(func() (any, error) {
		return w.cfg.Store.ClaimNext(ctx, m.queue, w.id)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) || ctx.Err() != nil {
			return false
		}
		w.setStatus(WorkerFailing, nil)
		w.cfg.logError(LogEvent{
			Message:  fmt.Sprintf("Error fetching job for worker %s", w.id),
			WorkerID: w.id,
			Queue:    m.queue,
			Err:      err,
		})
		return false
	}
	job, _ := res.(*Job)
	if job == nil {
		w.setStatus(WorkerIdle, nil)
		return false
	}

	w.setStatus(WorkerBusy, job)
	m.metrics.Claimed.Add(1)
	m.metrics.Active.Add(1)
	defer m.metrics.Active.Add(-1)

	start := time.Now()
	w.cfg.logDebug(LogEvent{
		Message:  fmt.Sprintf("Processing job %d (attempt %d of %d)", job.ID, job.Attempts.Made, job.Attempts.Max),
		WorkerID: w.id,
		Queue:    m.queue,
		JobID:    &job.ID,
	})

	// In-flight callbacks outlive a shutdown; only the ttl bounds them.
	runCtx := context.WithoutCancel(ctx)
	out, finished := execute(runCtx, m.processor, job)

	// The slot stays taken until the callback has returned, even when the
	// job was already resolved as expired.
	next := WorkerIdle
	defer func() {
		select {
		case <-finished:
		default:
			w.cfg.logDebug(LogEvent{
				Message:  fmt.Sprintf("Job %d resolved, waiting for its callback to return", job.ID),
				WorkerID: w.id,
				Queue:    m.queue,
				JobID:    &job.ID,
			})
			<-finished
		}
		w.setStatus(next, nil)
	}()

	done, err := finishJob(runCtx, w.cfg, job, out, true)
	elapsed := time.Since(start)
	if err != nil {
		next = WorkerFailing
		w.cfg.logError(LogEvent{
			Message:  fmt.Sprintf("Error finishing job %d", job.ID),
			WorkerID: w.id,
			Queue:    m.queue,
			JobID:    &job.ID,
			Err:      err,
		})
		return true
	}

	switch {
	case out.err == nil:
		m.metrics.Completed.Add(1)
		w.cfg.logInfo(LogEvent{
			Message:  fmt.Sprintf("Job %d COMPLETED in %v", job.ID, elapsed),
			WorkerID: w.id,
			Queue:    m.queue,
			JobID:    &job.ID,
			Duration: &elapsed,
		})
	case done.State == StateComplete:
		m.metrics.Suppressed.Add(1)
		w.cfg.logInfo(LogEvent{
			Message:  fmt.Sprintf("Job %d COMPLETED with suppressed failure in %v", job.ID, elapsed),
			WorkerID: w.id,
			Queue:    m.queue,
			JobID:    &job.ID,
			Duration: &elapsed,
			Err:      fmt.Errorf("%w: %w", ErrSuppressedFailure, out.err),
		})
	case done.State == StateFailed:
		m.metrics.Failed.Add(1)
		next = WorkerExecFailed
		w.cfg.logError(LogEvent{
			Message:  fmt.Sprintf("%s Job %d FAILED in %v", m.queue, job.ID, elapsed),
			WorkerID: w.id,
			Queue:    m.queue,
			JobID:    &job.ID,
			Duration: &elapsed,
			Err:      fmt.Errorf("%w: %w", ErrProcessingFailure, out.err),
		})
	default:
		m.metrics.Retried.Add(1)
		next = WorkerExecFailed
		w.cfg.logError(LogEvent{
			Message:  fmt.Sprintf("Job %d errored in %v, %d attempts left", job.ID, elapsed, job.Attempts.Remaining()),
			WorkerID: w.id,
			Queue:    m.queue,
			JobID:    &job.ID,
			Duration: &elapsed,
			Err:      out.err,
		})
	}
	return true
}

// finishJob applies the transition that follows out and returns the job as
// it now stands. Completed jobs flagged removeOnComplete are purged.
func finishJob(ctx context.Context, cfg *Config, job *Job, out outcome, retry bool) (*Job, error) {
	now := time.Now()
	t := resolution(job, out, retry, now)
	if err := cfg.Store.UpdateState(ctx, job.ID, t); err != nil {
		return nil, err
	}

	done := job.Clone()
	done.State = t.To
	done.Result = t.Result
	if t.Error != "" {
		done.Error = t.Error
	}
	if t.To == StateDelayed {
		done.RunAt = t.RunAt
	}
	if t.To != StateActive {
		done.LockedBy = ""
	}
	done.UpdatedAt = now

	if t.To == StateComplete && job.RemoveOnComplete {
		if err := cfg.Store.Remove(ctx, job.ID); err != nil && !errors.Is(err, ErrJobNotFound) {
			return done, fmt.Errorf("remove completed job: %w", err)
		}
	}
	return done, nil
}
