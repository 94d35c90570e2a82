package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// iterateOverJobs applies action to every job of the queue in state whose
// age, measured by stamp, exceeds olderThan.
func (q *Queue) iterateOverJobs(ctx context.Context, state State, olderThan time.Duration, stamp func(*Job) time.Time, action func(*Job) error) error {
	st := q.client.cfg.Store
	n, err := st.Count(ctx, q.name, state)
	if err != nil {
		return fmt.Errorf("could not count %s jobs: %w", state, err)
	}
	if n == 0 {
		return nil
	}
	jobs, err := st.Range(ctx, q.name, state, 0, int(n), OrderAsc)
	if err != nil {
		return fmt.Errorf("could not fetch %s jobs: %w", state, err)
	}

	now := time.Now()
	var errs []error
	for _, job := range jobs {
		if now.Sub(stamp(job)) <= olderThan {
			continue
		}
		if err := action(job); err != nil {
			// Lost a race with a worker or another sweeper; nothing to do.
			if errors.Is(err, ErrStateConflict) || errors.Is(err, ErrJobNotFound) {
				continue
			}
			errs = append(errs, fmt.Errorf("job %d: %w", job.ID, err))
		}
	}
	return errors.Join(errs...)
}

func claimedAt(j *Job) time.Time { return j.UpdatedAt }
func createdAt(j *Job) time.Time { return j.CreatedAt }

// Cleanup moves jobs that have been active for longer than olderThan back to
// inactive so they can be claimed again. Meant to run at startup, after a
// crash left jobs claimed but never resolved.
func (q *Queue) Cleanup(ctx context.Context, olderThan time.Duration) error {
	st := q.client.cfg.Store
	recovered := 0
	err := q.iterateOverJobs(ctx, StateActive, olderThan, claimedAt, func(job *Job) error {
		err := st.UpdateState(ctx, job.ID, Transition{From: StateActive, To: StateInactive, Owner: job.LockedBy})
		if err == nil {
			recovered++
		}
		return err
	})
	if recovered > 0 {
		q.client.cfg.logInfo(LogEvent{
			Message: fmt.Sprintf("Recovered %d stuck jobs", recovered),
			Queue:   q.name,
		})
		q.client.wake(q.name)
	}
	if err != nil {
		return fmt.Errorf("cleanup %s: %w", q.name, err)
	}
	return nil
}

// Delete removes jobs of every state created more than olderThan ago. The
// per-state sweeps run concurrently and a failing sweep does not stop the
// others; their errors are joined.
func (q *Queue) Delete(ctx context.Context, olderThan time.Duration) error {
	st := q.client.cfg.Store
	errs := make([]error, len(States))

	var g errgroup.Group
	for i, state := range States {
		g.Go(func() error {
			err := q.iterateOverJobs(ctx, state, olderThan, createdAt, func(job *Job) error {
				return st.Remove(ctx, job.ID)
			})
			if err != nil {
				errs[i] = fmt.Errorf("delete %s jobs of %s: %w", state, q.name, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// expire fails active jobs that outlived their ttl. Attempts left are
// honored like any other failure.
func (q *Queue) expire(ctx context.Context) error {
	cfg := q.client.cfg
	return q.iterateOverJobs(ctx, StateActive, 0, claimedAt, func(job *Job) error {
		if job.TTL <= 0 || time.Since(job.UpdatedAt) <= job.TTL {
			return nil
		}
		out := outcome{err: fmt.Errorf("%w after %s", ErrTTLExceeded, job.TTL)}
		done, err := finishJob(ctx, cfg, job, out, true)
		if err != nil {
			return err
		}
		cfg.logError(LogEvent{
			Message: fmt.Sprintf("Job %d expired, now %s", job.ID, done.State),
			Queue:   q.name,
			JobID:   &job.ID,
			Err:     out.err,
		})
		return nil
	})
}
