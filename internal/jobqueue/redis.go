package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// keyPrefix namespaces every Redis key this package touches.
const keyPrefix = "scriptforge:jobqueue:"

func listKey(p Priority) string   { return keyPrefix + "queue:" + p.String() }
func inFlightKey(id string) string { return keyPrefix + "inflight:" + id }
func deadLetterKey() string        { return keyPrefix + "deadletter" }

// RedisQueue is the production Queue backend: one Redis list per
// priority (LPUSH to enqueue, RPOP to dequeue), an inflight marker key per job ID for dedupe,
// and a dead-letter list. Constructed the same way
// caswriter.NewRedisIdempotencyCache is: dial, ping, wrap.
type RedisQueue struct {
	client *redis.Client
}

func NewRedis(addr string) (*RedisQueue, error) {
	c := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisQueue{client: c}, nil
}

var _ Queue = (*RedisQueue)(nil)

type wireJob struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	Priority   Priority  `json:"priority"`
	Payload    []byte    `json:"payload"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func toWire(j Job) wireJob {
	return wireJob{ID: j.ID, Kind: j.Kind, Priority: j.Priority, Payload: j.Payload, Attempts: j.Attempts, EnqueuedAt: j.EnqueuedAt}
}

func (w wireJob) toJob() Job {
	return Job{ID: w.ID, Kind: w.Kind, Priority: w.Priority, Payload: w.Payload, Attempts: w.Attempts, EnqueuedAt: w.EnqueuedAt}
}

// Enqueue sets an inflight marker with SETNX so a duplicate deterministic
// ID arriving while the original is pending or running is rejected
// without touching the list.
func (q *RedisQueue) Enqueue(ctx context.Context, job Job) (bool, error) {
	set, err := q.client.SetNX(ctx, inFlightKey(job.ID), "pending", 24*time.Hour).Result()
	if err != nil {
		return false, fmt.Errorf("jobqueue: check inflight marker: %w", err)
	}
	if !set {
		return false, nil
	}
	job.EnqueuedAt = time.Now().UTC()
	b, err := json.Marshal(toWire(job))
	if err != nil {
		return false, fmt.Errorf("jobqueue: marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, listKey(job.Priority), b).Err(); err != nil {
		return false, fmt.Errorf("jobqueue: push job: %w", err)
	}
	return true, nil
}

// Dequeue drains Urgent, then Normal, then Low with non-blocking RPOPs;
// when all three lists are empty it sleeps up to 200ms and tries again
// until wait has elapsed, so a job that arrives mid-wait is picked up on
// the next pass, highest priority first.
func (q *RedisQueue) Dequeue(ctx context.Context, wait time.Duration) (Job, bool, error) {
	deadline := time.Now().Add(wait)
	for {
		for _, p := range Priorities {
			res, err := q.client.RPop(ctx, listKey(p)).Result()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return Job{}, false, fmt.Errorf("jobqueue: rpop %s: %w", p, err)
			}
			var w wireJob
			if err := json.Unmarshal([]byte(res), &w); err != nil {
				return Job{}, false, fmt.Errorf("jobqueue: unmarshal job: %w", err)
			}
			job := w.toJob()
			q.client.Set(ctx, inFlightKey(job.ID), "running", 24*time.Hour)
			return job, true, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Job{}, false, nil
		}
		select {
		case <-ctx.Done():
			return Job{}, false, ctx.Err()
		case <-time.After(minDuration(remaining, 200*time.Millisecond)):
		}
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func (q *RedisQueue) Complete(ctx context.Context, job Job) error {
	return q.client.Del(ctx, inFlightKey(job.ID)).Err()
}

func (q *RedisQueue) Fail(ctx context.Context, job Job, cause error, stack string) (bool, error) {
	job.Attempts++
	if job.Attempts >= maxAttempts {
		rec := FailureRecord{
			JobID:      job.ID,
			Kind:       job.Kind,
			Attempts:   job.Attempts,
			LastError:  errString(cause),
			StackTrace: stack,
			FailedAt:   time.Now().UTC(),
		}
		b, err := json.Marshal(rec)
		if err != nil {
			return false, fmt.Errorf("jobqueue: marshal failure record: %w", err)
		}
		if err := q.client.LPush(ctx, deadLetterKey(), b).Err(); err != nil {
			return false, fmt.Errorf("jobqueue: push dead letter: %w", err)
		}
		if err := q.client.Del(ctx, inFlightKey(job.ID)).Err(); err != nil {
			return true, fmt.Errorf("jobqueue: clear inflight marker: %w", err)
		}
		return true, nil
	}
	b, err := json.Marshal(toWire(job))
	if err != nil {
		return false, fmt.Errorf("jobqueue: marshal retried job: %w", err)
	}
	if err := q.client.LPush(ctx, listKey(job.Priority), b).Err(); err != nil {
		return false, fmt.Errorf("jobqueue: requeue job: %w", err)
	}
	q.client.Set(ctx, inFlightKey(job.ID), "pending", 24*time.Hour)
	return false, nil
}

func (q *RedisQueue) DeadLetters(ctx context.Context) ([]FailureRecord, error) {
	raw, err := q.client.LRange(ctx, deadLetterKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("jobqueue: list dead letters: %w", err)
	}
	out := make([]FailureRecord, 0, len(raw))
	for _, r := range raw {
		var rec FailureRecord
		if err := json.Unmarshal([]byte(r), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
