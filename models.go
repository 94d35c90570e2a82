package jobqueue

import (
	"encoding/json"
	"time"
)

// State enumerates the possible states of a job.
type State string

const (
	StateInactive State = "inactive"
	StateDelayed  State = "delayed"
	StateActive   State = "active"
	StateComplete State = "complete"
	StateFailed   State = "failed"
)

// States lists every job state in sweep order.
var States = []State{StateComplete, StateFailed, StateInactive, StateDelayed, StateActive}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StateInactive, StateDelayed, StateActive, StateComplete, StateFailed:
		return true
	}
	return false
}

// Terminal reports whether s is complete or failed.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// Options are per-job policies carried with the input.
type Options struct {
	NoFailure bool `json:"noFailure"`
}

// Attempts tracks how often a job was executed.
type Attempts struct {
	Made int `json:"made"`
	Max  int `json:"max"`
}

// Remaining returns how many executions are left before the job fails for good.
func (a Attempts) Remaining() int {
	if r := a.Max - a.Made; r > 0 {
		return r
	}
	return 0
}

// Job corresponds to one record in the job store.
type Job struct {
	ID               int64
	Queue            string
	Input            json.RawMessage
	Options          Options
	Priority         int
	State            State
	Attempts         Attempts
	Delay            time.Duration
	Backoff          bool
	TTL              time.Duration
	RemoveOnComplete bool
	Result           json.RawMessage
	Error            string
	LockedBy         string
	RunAt            time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Clone returns a deep copy of j.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	if j.Input != nil {
		cp.Input = append(json.RawMessage(nil), j.Input...)
	}
	if j.Result != nil {
		cp.Result = append(json.RawMessage(nil), j.Result...)
	}
	return &cp
}

// JobData is the internal data object saved with a job.
type JobData struct {
	Input   json.RawMessage `json:"input"`
	Options Options         `json:"options"`
}

// AttemptsDetail is the attempts projection returned to callers.
type AttemptsDetail struct {
	Made      int `json:"made"`
	Remaining int `json:"remaining"`
	Max       int `json:"max"`
}

// JobDetail is the status projection of a job.
type JobDetail struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	Data      JobData         `json:"data"`
	Result    json.RawMessage `json:"result,omitempty"`
	State     State           `json:"state"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Attempts  AttemptsDetail  `json:"attempts"`
}

// Detail projects j into a JobDetail.
func (j *Job) Detail() *JobDetail {
	return &JobDetail{
		ID:   j.ID,
		Type: j.Queue,
		Data: JobData{
			Input:   j.Input,
			Options: j.Options,
		},
		Result:    j.Result,
		State:     j.State,
		Error:     j.Error,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
		Attempts: AttemptsDetail{
			Made:      j.Attempts.Made,
			Remaining: j.Attempts.Remaining(),
			Max:       j.Attempts.Max,
		},
	}
}
