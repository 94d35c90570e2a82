package jobqueue

import (
	"context"
	"encoding/json"
	"time"
)

// Order selects the direction of Store.Range.
type Order string

const (
	// OrderAsc returns jobs in claim order: priority descending, then id ascending.
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// Transition describes a state change applied atomically by the store.
type Transition struct {
	// From, when set, must equal the current state or the store returns
	// ErrStateConflict.
	From State
	To   State

	// Owner, when set, must equal the job's current LockedBy or the store
	// returns ErrStateConflict.
	Owner string

	Result json.RawMessage
	Error  string

	// RunAt is the eligibility time when To is StateDelayed.
	RunAt time.Time
}

// Store is the shared job store. Every mutation must be atomic at the store
// layer since many workers, possibly in many processes, share one store.
type Store interface {
	// Create persists a new job and returns its id. The job enters
	// StateDelayed when RunAt is in the future, StateInactive otherwise.
	Create(ctx context.Context, job *Job) (int64, error)

	// ClaimNext promotes elapsed delayed jobs of queue to inactive, then
	// atomically moves the highest priority, oldest inactive job to active,
	// increments its attempts and records owner. Returns (nil, nil) when
	// nothing is eligible.
	ClaimNext(ctx context.Context, queue, owner string) (*Job, error)

	// Claim moves one job to active regardless of its queue or attempts,
	// incrementing attempts and recording owner. A non-empty from restricts
	// the claim to jobs currently in that state. Returns ErrJobNotFound,
	// ErrActiveJob, or ErrStateConflict when the job is not in from.
	Claim(ctx context.Context, id int64, owner string, from State) (*Job, error)

	Get(ctx context.Context, id int64) (*Job, error)
	UpdateState(ctx context.Context, id int64, t Transition) error
	Count(ctx context.Context, queue string, state State) (int64, error)
	Range(ctx context.Context, queue string, state State, offset, limit int, order Order) ([]*Job, error)
	Remove(ctx context.Context, id int64) error
	Close() error
}

// Notifier is implemented by stores able to push new-job notifications.
// Stores without it are polled.
type Notifier interface {
	Subscribe(ctx context.Context, queue string) (<-chan struct{}, error)
}
