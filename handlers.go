package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Processor is called with the input saved at submission time. A non-nil
// return value is JSON encoded and stored as the job result.
type Processor func(ctx context.Context, input json.RawMessage) (any, error)

// outcome is what one processor invocation produced.
type outcome struct {
	result json.RawMessage
	err    error
}

// returned is handed out when fn ran on the caller's goroutine.
var returned = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// execute calls fn for job, enforcing the job's ttl when one is set. Once
// the ttl lapses execute returns ErrTTLExceeded without waiting for fn; the
// channel it also returns is closed when fn has actually returned.
func execute(ctx context.Context, fn Processor, job *Job) (outcome, <-chan struct{}) {
	if job.TTL <= 0 {
		return invoke(ctx, fn, job.Input), returned
	}

	jobCtx, cancel := context.WithTimeout(ctx, job.TTL)
	doneCh := make(chan outcome, 1)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		defer cancel()
		doneCh <- invoke(jobCtx, fn, job.Input)
	}()

	select {
	case <-jobCtx.Done():
		select {
		case out := <-doneCh:
			return out, finished
		default:
		}
		return outcome{err: fmt.Errorf("%w after %s", ErrTTLExceeded, job.TTL)}, finished
	case out := <-doneCh:
		return out, finished
	}
}

func invoke(ctx context.Context, fn Processor, input json.RawMessage) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = outcome{err: fmt.Errorf("processor panic: %v", r)}
		}
	}()

	res, err := fn(ctx, input)
	if err != nil {
		return outcome{err: err}
	}
	if res == nil {
		return outcome{}
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return outcome{err: fmt.Errorf("encode result: %w", err)}
	}
	return outcome{result: raw}
}

// resolution decides the transition that follows an execution of job.
// Manual runs never retry.
func resolution(job *Job, out outcome, retry bool, now time.Time) Transition {
	t := Transition{From: StateActive, Owner: job.LockedBy}
	switch {
	case out.err == nil:
		t.To = StateComplete
		t.Result = out.result
	case job.Options.NoFailure:
		t.To = StateComplete
		t.Error = out.err.Error()
	case retry && job.Attempts.Remaining() > 0:
		t.Error = out.err.Error()
		if job.Backoff && job.Delay > 0 {
			t.To = StateDelayed
			t.RunAt = now.Add(job.Delay)
		} else {
			t.To = StateInactive
		}
	default:
		t.To = StateFailed
		t.Error = out.err.Error()
	}
	return t
}
