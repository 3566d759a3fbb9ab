// Package sched defines the deferred-execution seam between a swrcache
// orchestrator and whatever actually runs regenerations later: the
// in-process Local scheduler by default, or an external job/cron system
// that persists jobs across process boundaries.
package sched

import (
	"context"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Job is one deferred regeneration: the producer's registered name, its
// serialized arguments, and the lock token minted when the work was
// scheduled. Jobs round-trip through msgpack so distributed schedulers can
// persist them and re-deliver after a process boundary.
type Job struct {
	Key      string        `msgpack:"key"`
	Group    string        `msgpack:"group"`
	Producer string        `msgpack:"producer"`
	Args     []byte        `msgpack:"args"`
	Token    string        `msgpack:"token"`
	TTL      time.Duration `msgpack:"ttl"`
}

func (j Job) MarshalBinary() ([]byte, error) {
	return msgpack.Marshal(j)
}

func (j *Job) UnmarshalBinary(b []byte) error {
	return msgpack.Unmarshal(b, j)
}

// Scheduler enqueues a job to run once, at or after runAt. Implementations
// must tolerate duplicate enqueues for the same logical work without
// erroring: the cache schedules redundantly on every cold or stale read and
// relies on lock verification to collapse the duplicates.
type Scheduler interface {
	Enqueue(ctx context.Context, job Job, runAt time.Time) error
}
