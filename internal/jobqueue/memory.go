package jobqueue

import (
	"context"
	"sync"
	"time"
)

// memState is the lifecycle of a deduped job ID.
type memState int

const (
	statePending memState = iota
	stateRunning
)

// MemoryQueue is an in-process Queue, used by component tests that don't
// need a real Redis instance, the way script/memory.Store backs store
// tests.
type MemoryQueue struct {
	mu sync.Mutex

	queues      map[Priority][]Job
	inFlight    map[string]memState
	deadLetters []FailureRecord
	ready       chan struct{}
}

func NewMemory() *MemoryQueue {
	return &MemoryQueue{
		queues:   map[Priority][]Job{Urgent: nil, Normal: nil, Low: nil},
		inFlight: map[string]memState{},
		ready:    make(chan struct{}, 1),
	}
}

var _ Queue = (*MemoryQueue)(nil)

func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, inFlight := q.inFlight[job.ID]; inFlight {
		return false, nil
	}
	job.EnqueuedAt = time.Now().UTC()
	q.inFlight[job.ID] = statePending
	q.queues[job.Priority] = append(q.queues[job.Priority], job)
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true, nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, wait time.Duration) (Job, bool, error) {
	deadline := time.Now().Add(wait)
	for {
		if job, ok := q.popNext(); ok {
			return job, true, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Job{}, false, nil
		}
		select {
		case <-ctx.Done():
			return Job{}, false, ctx.Err()
		case <-q.ready:
		case <-time.After(remaining):
			return Job{}, false, nil
		}
	}
}

func (q *MemoryQueue) popNext() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range Priorities {
		bucket := q.queues[p]
		if len(bucket) == 0 {
			continue
		}
		job := bucket[0]
		q.queues[p] = bucket[1:]
		q.inFlight[job.ID] = stateRunning
		return job, true
	}
	return Job{}, false
}

func (q *MemoryQueue) Complete(ctx context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, job.ID)
	return nil
}

func (q *MemoryQueue) Fail(ctx context.Context, job Job, cause error, stack string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job.Attempts++
	if job.Attempts >= maxAttempts {
		delete(q.inFlight, job.ID)
		q.deadLetters = append(q.deadLetters, FailureRecord{
			JobID:      job.ID,
			Kind:       job.Kind,
			Attempts:   job.Attempts,
			LastError:  errString(cause),
			StackTrace: stack,
			FailedAt:   time.Now().UTC(),
		})
		return true, nil
	}
	q.inFlight[job.ID] = statePending
	q.queues[job.Priority] = append(q.queues[job.Priority], job)
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return false, nil
}

func (q *MemoryQueue) DeadLetters(ctx context.Context) ([]FailureRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]FailureRecord, len(q.deadLetters))
	copy(out, q.deadLetters)
	return out, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
