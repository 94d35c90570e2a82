package redis

import (
	"fmt"

	"github.com/sky93/jobqueue"
)

// Key layout, all under the store prefix (default "jq:"):
//
//	{p}ids                       job id counter
//	{p}job:{member}              job hash
//	{p}q:{queue}:{state}         sorted set per state, score = -priority
//	{p}q:{queue}:schedule        sorted set of delayed jobs, score = run_at
//	{p}q:{queue}:new             pub/sub channel for newly inactive jobs
//
// Members are zero padded ids so equal scores sort in submission order.

const defaultPrefix = "jq:"

func member(id int64) string { return fmt.Sprintf("%020d", id) }

func (s *Store) idsKey() string            { return s.prefix + "ids" }
func (s *Store) jobPrefix() string         { return s.prefix + "job:" }
func (s *Store) jobKey(id int64) string    { return s.jobPrefix() + member(id) }
func (s *Store) queuePrefix() string       { return s.prefix + "q:" }
func (s *Store) queueBase(q string) string { return s.queuePrefix() + q + ":" }

func (s *Store) stateKey(queue string, state jobqueue.State) string {
	return s.queueBase(queue) + string(state)
}

func (s *Store) scheduleKey(queue string) string { return s.queueBase(queue) + "schedule" }
func (s *Store) channel(queue string) string     { return s.queueBase(queue) + "new" }
