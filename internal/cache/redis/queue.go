package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/chainstrategy/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// promoteDueLua moves delayed jobs whose due time has passed from the
// delayed zset into the ready list, atomically, so concurrent Dequeue
// callers never double-promote the same job.
const promoteDueLua = `
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, id in ipairs(due) do
    redis.call('ZREM', KEYS[1], id)
    redis.call('RPUSH', KEYS[2], id)
end
return #due
`

const (
	completedRingSize = 1000
	jobHashTTL        = 24 * time.Hour
	promoteBatchSize  = 100
)

// Queue implements domain.QueueClient atop Redis lists (ready), a sorted set
// (delayed, scored by due time), a set (active, for introspection) and a
// bounded sorted set (completed ring), generalising the executor's own
// signal-bus Redis conventions to a full at-least-once job broker
// (spec.md §6).
type Queue struct {
	rdb       *redis.Client
	promoteSc *redis.Script
}

// NewQueue creates a Queue backed by the given Client.
func NewQueue(c *Client) *Queue {
	return &Queue{
		rdb:       c.Underlying(),
		promoteSc: redis.NewScript(promoteDueLua),
	}
}

func readyKey(queue string) string     { return "queue:ready:" + queue }
func delayedKey(queue string) string   { return "queue:delayed:" + queue }
func activeKey(queue string) string    { return "queue:active:" + queue }
func completedKey(queue string) string { return "queue:completed:" + queue }
func failedKey(queue string) string    { return "queue:failed:" + queue }
func jobKey(jobID string) string       { return "queue:job:" + jobID }

// Enqueue adds a job to queue, ready immediately.
func (q *Queue) Enqueue(ctx context.Context, queue string, payload []byte) (string, error) {
	jobID := uuid.New().String()
	now := time.Now()

	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, jobKey(jobID), map[string]any{
		"queue":      queue,
		"payload":    payload,
		"state":      string(domain.JobQueued),
		"attempts":   0,
		"enqueuedAt": now.Format(time.RFC3339Nano),
	})
	pipe.RPush(ctx, readyKey(queue), jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("redis: enqueue %s: %w", queue, err)
	}
	return jobID, nil
}

// EnqueueDelayed adds a job that becomes ready after delay.
func (q *Queue) EnqueueDelayed(ctx context.Context, queue string, payload []byte, delay time.Duration) (string, error) {
	if delay <= 0 {
		return q.Enqueue(ctx, queue, payload)
	}

	jobID := uuid.New().String()
	now := time.Now()
	due := now.Add(delay)

	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, jobKey(jobID), map[string]any{
		"queue":      queue,
		"payload":    payload,
		"state":      string(domain.JobQueued),
		"attempts":   0,
		"enqueuedAt": now.Format(time.RFC3339Nano),
	})
	pipe.ZAdd(ctx, delayedKey(queue), redis.Z{Score: float64(due.UnixMilli()), Member: jobID})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("redis: enqueue delayed %s: %w", queue, err)
	}
	return jobID, nil
}

// Dequeue promotes any due delayed jobs, then blocks (up to wait) for the
// next ready job and marks it active.
func (q *Queue) Dequeue(ctx context.Context, queue string, wait time.Duration) (*domain.Job, error) {
	nowMs := time.Now().UnixMilli()
	if err := q.promoteSc.Run(ctx, q.rdb, []string{delayedKey(queue), readyKey(queue)}, nowMs, promoteBatchSize).Err(); err != nil {
		return nil, fmt.Errorf("redis: promote delayed %s: %w", queue, err)
	}

	res, err := q.rdb.BLPop(ctx, wait, readyKey(queue)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: dequeue %s: %w", queue, err)
	}
	// res is [listKey, jobID]
	jobID := res[1]

	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, jobKey(jobID), "state", string(domain.JobActive))
	attemptsCmd := pipe.HIncrBy(ctx, jobKey(jobID), "attempts", 1)
	pipe.SAdd(ctx, activeKey(queue), jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis: activate job %s: %w", jobID, err)
	}

	data, err := q.rdb.HGetAll(ctx, jobKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: load job %s: %w", jobID, err)
	}

	enqueuedAt, _ := time.Parse(time.RFC3339Nano, data["enqueuedAt"])
	return &domain.Job{
		ID:         jobID,
		Queue:      queue,
		Payload:    []byte(data["payload"]),
		State:      domain.JobActive,
		Attempts:   int(attemptsCmd.Val()),
		EnqueuedAt: enqueuedAt,
	}, nil
}

// Ack marks a job completed and moves it into the bounded completed ring.
func (q *Queue) Ack(ctx context.Context, job *domain.Job) error {
	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, jobKey(job.ID), "state", string(domain.JobCompleted))
	pipe.Expire(ctx, jobKey(job.ID), jobHashTTL)
	pipe.SRem(ctx, activeKey(job.Queue), job.ID)
	pipe.ZAdd(ctx, completedKey(job.Queue), redis.Z{Score: float64(time.Now().UnixMilli()), Member: job.ID})
	pipe.ZRemRangeByRank(ctx, completedKey(job.Queue), 0, -(completedRingSize + 1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: ack job %s: %w", job.ID, err)
	}
	return nil
}

// Fail marks a job failed. If attempts remain, it is rescheduled with
// exponential backoff; otherwise it is moved to the failed set.
func (q *Queue) Fail(ctx context.Context, job *domain.Job, cause error, maxAttempts int, baseBackoff time.Duration) error {
	pipe := q.rdb.TxPipeline()
	pipe.SRem(ctx, activeKey(job.Queue), job.ID)

	if job.Attempts < maxAttempts {
		backoff := baseBackoff << uint(job.Attempts-1)
		due := time.Now().Add(backoff)
		pipe.HSet(ctx, jobKey(job.ID), map[string]any{
			"state":     string(domain.JobQueued),
			"lastError": cause.Error(),
		})
		pipe.ZAdd(ctx, delayedKey(job.Queue), redis.Z{Score: float64(due.UnixMilli()), Member: job.ID})
	} else {
		pipe.HSet(ctx, jobKey(job.ID), map[string]any{
			"state":     string(domain.JobFailed),
			"lastError": cause.Error(),
		})
		pipe.Expire(ctx, jobKey(job.ID), jobHashTTL)
		pipe.SAdd(ctx, failedKey(job.Queue), job.ID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: fail job %s: %w", job.ID, err)
	}
	return nil
}

// ActiveJobsFor returns the IDs of active jobs on queue whose payload
// decodes to the given strategyID (spec.md §4.3 step 1, P2).
func (q *Queue) ActiveJobsFor(ctx context.Context, queue string, strategyID int64) ([]string, error) {
	ids, err := q.rdb.SMembers(ctx, activeKey(queue)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list active %s: %w", queue, err)
	}

	var matches []string
	for _, id := range ids {
		payload, err := q.rdb.HGet(ctx, jobKey(id), "payload").Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis: load active job %s: %w", id, err)
		}

		var body struct {
			StrategyID int64 `json:"strategyId"`
		}
		if err := json.Unmarshal([]byte(payload), &body); err != nil {
			continue
		}
		if body.StrategyID == strategyID {
			matches = append(matches, id)
		}
	}
	return matches, nil
}

// Compile-time interface check.
var _ domain.QueueClient = (*Queue)(nil)
