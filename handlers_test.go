package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResolution(t *testing.T) {
	now := time.Now()
	boom := errors.New("boom")

	tests := []struct {
		name  string
		job   Job
		out   outcome
		retry bool
		want  Transition
	}{
		{
			name: "success",
			job:  Job{LockedBy: "w", Attempts: Attempts{Made: 1, Max: 1}},
			out:  outcome{result: json.RawMessage(`2`)},
			want: Transition{From: StateActive, To: StateComplete, Owner: "w", Result: json.RawMessage(`2`)},
		},
		{
			name:  "suppressed",
			job:   Job{LockedBy: "w", Options: Options{NoFailure: true}, Attempts: Attempts{Made: 1, Max: 3}},
			out:   outcome{err: boom},
			retry: true,
			want:  Transition{From: StateActive, To: StateComplete, Owner: "w", Error: "boom"},
		},
		{
			name:  "retry immediately",
			job:   Job{LockedBy: "w", Attempts: Attempts{Made: 1, Max: 3}},
			out:   outcome{err: boom},
			retry: true,
			want:  Transition{From: StateActive, To: StateInactive, Owner: "w", Error: "boom"},
		},
		{
			name:  "retry with backoff",
			job:   Job{LockedBy: "w", Attempts: Attempts{Made: 1, Max: 3}, Delay: time.Second, Backoff: true},
			out:   outcome{err: boom},
			retry: true,
			want:  Transition{From: StateActive, To: StateDelayed, Owner: "w", Error: "boom", RunAt: now.Add(time.Second)},
		},
		{
			name:  "attempts exhausted",
			job:   Job{LockedBy: "w", Attempts: Attempts{Made: 3, Max: 3}},
			out:   outcome{err: boom},
			retry: true,
			want:  Transition{From: StateActive, To: StateFailed, Owner: "w", Error: "boom"},
		},
		{
			name: "manual never retries",
			job:  Job{LockedBy: "m", Attempts: Attempts{Made: 1, Max: 3}},
			out:  outcome{err: boom},
			want: Transition{From: StateActive, To: StateFailed, Owner: "m", Error: "boom"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolution(&tt.job, tt.out, tt.retry, now))
		})
	}
}

func TestExecute(t *testing.T) {
	ctx := context.Background()

	t.Run("encodes result", func(t *testing.T) {
		out, _ := execute(ctx, func(context.Context, json.RawMessage) (any, error) {
			return map[string]int{"y": 2}, nil
		}, &Job{})
		assert.NoError(t, out.err)
		assert.JSONEq(t, `{"y":2}`, string(out.result))
	})

	t.Run("nil result", func(t *testing.T) {
		out, _ := execute(ctx, func(context.Context, json.RawMessage) (any, error) {
			return nil, nil
		}, &Job{})
		assert.NoError(t, out.err)
		assert.Nil(t, out.result)
	})

	t.Run("recovers panic", func(t *testing.T) {
		out, _ := execute(ctx, func(context.Context, json.RawMessage) (any, error) {
			panic("kaboom")
		}, &Job{})
		assert.ErrorContains(t, out.err, "kaboom")
	})

	t.Run("unencodable result", func(t *testing.T) {
		out, _ := execute(ctx, func(context.Context, json.RawMessage) (any, error) {
			return make(chan int), nil
		}, &Job{})
		assert.Error(t, out.err)
	})

	t.Run("ttl", func(t *testing.T) {
		release := make(chan struct{})
		start := time.Now()
		out, finished := execute(ctx, func(context.Context, json.RawMessage) (any, error) {
			<-release
			return nil, nil
		}, &Job{TTL: 20 * time.Millisecond})
		assert.ErrorIs(t, out.err, ErrTTLExceeded)
		assert.Less(t, time.Since(start), 500*time.Millisecond)

		// the callback ignores its context and is still running
		select {
		case <-finished:
			t.Fatal("finished closed before the callback returned")
		case <-time.After(30 * time.Millisecond):
		}
		close(release)
		select {
		case <-finished:
		case <-time.After(time.Second):
			t.Fatal("finished not closed after the callback returned")
		}
	})

	t.Run("finished without ttl", func(t *testing.T) {
		_, finished := execute(ctx, func(context.Context, json.RawMessage) (any, error) {
			return nil, nil
		}, &Job{})
		select {
		case <-finished:
		default:
			t.Fatal("finished should already be closed")
		}
	})

	t.Run("within ttl", func(t *testing.T) {
		out, _ := execute(ctx, func(_ context.Context, input json.RawMessage) (any, error) {
			return input, nil
		}, &Job{TTL: time.Second, Input: json.RawMessage(`"in"`)})
		assert.NoError(t, out.err)
		assert.JSONEq(t, `"in"`, string(out.result))
	})
}
