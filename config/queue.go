package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

// Queue holds the defaults applied to queues opened by the command.
type Queue struct {
	Concurrency      int
	Attempts         int
	Delay            time.Duration
	TTL              time.Duration
	RemoveOnComplete bool
	NoFailure        bool
	PollInterval     time.Duration
}

func getQueueConfig(v *viper.Viper) *Queue {
	return &Queue{
		Concurrency:      v.GetInt("queue.concurrency"),
		Attempts:         v.GetInt("queue.attempts"),
		Delay:            v.GetDuration("queue.delay"),
		TTL:              v.GetDuration("queue.ttl"),
		RemoveOnComplete: v.GetBool("queue.remove_on_complete"),
		NoFailure:        v.GetBool("queue.no_failure"),
		PollInterval:     v.GetDuration("queue.poll_interval"),
	}
}

func (q *Queue) validate() error {
	var errs []error
	if q.Concurrency < 1 {
		errs = append(errs, errors.New("queue.concurrency must be at least 1"))
	}
	if q.Attempts < 1 {
		errs = append(errs, errors.New("queue.attempts must be at least 1"))
	}
	if q.Delay < 0 || q.TTL < 0 || q.PollInterval < 0 {
		errs = append(errs, errors.New("queue durations must not be negative"))
	}
	return errors.Join(errs...)
}
