package domain

import (
	"context"
	"time"
)

// LockManager provides distributed locking keyed under "lock:*" (spec.md
// §4.5). All operations are tokenised so a holder can never release a lock
// it does not own.
type LockManager interface {
	// Acquire attempts a single immediate acquisition. Returns ErrLockHeld if
	// another holder currently owns the key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	// Release deletes the key iff its current value equals token.
	Release(ctx context.Context, key, token string) (bool, error)
	// Extend resets the TTL iff the key's current value equals token.
	Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	// WaitFor polls Acquire at a fixed interval until it succeeds or maxWait
	// elapses, in which case it returns ErrLockHeld.
	WaitFor(ctx context.Context, key string, maxWait, ttl time.Duration) (token string, err error)
	// ExecuteWithLock acquires key, runs fn, and guarantees release even if
	// fn panics or returns an error.
	ExecuteWithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error
}

// JobState is the broker-observed lifecycle state of an enqueued job.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// Job is a unit of work read back from the queue broker.
type Job struct {
	ID         string
	Queue      string
	Payload    []byte
	State      JobState
	Attempts   int
	EnqueuedAt time.Time
}

// QueueClient is the distributed job queue broker contract (spec.md §6):
// at-least-once delivery, per-queue concurrency, job state introspection,
// delayed/retried jobs with exponential backoff, and a size-bounded
// completed ring.
type QueueClient interface {
	// Enqueue adds a job to queue, ready immediately.
	Enqueue(ctx context.Context, queue string, payload []byte) (jobID string, err error)
	// EnqueueDelayed adds a job that becomes ready after delay.
	EnqueueDelayed(ctx context.Context, queue string, payload []byte, delay time.Duration) (jobID string, err error)
	// Dequeue blocks (up to wait) for the next ready job on queue and marks
	// it active. Returns (nil, nil) on timeout with no job available.
	Dequeue(ctx context.Context, queue string, wait time.Duration) (*Job, error)
	// Ack marks a job completed and moves it into the bounded completed ring.
	Ack(ctx context.Context, job *Job) error
	// Fail marks a job failed. If attempts remain, it is rescheduled with
	// exponential backoff; otherwise it is moved to the failed set.
	Fail(ctx context.Context, job *Job, cause error, maxAttempts int, baseBackoff time.Duration) error
	// ActiveJobsFor returns the IDs of jobs currently in the active state on
	// queue whose payload, when unmarshalled as {"strategyId": N}, matches
	// strategyID. Used by the Evaluator's active-duplicate guard (spec.md
	// §4.3 step 1).
	ActiveJobsFor(ctx context.Context, queue string, strategyID int64) ([]string, error)
}

// Known queue names (spec.md §6).
const (
	QueueStrategy    = "strategy-queue"
	QueueTransaction = "transaction-queue"
	QueueDefault     = "default"
)
