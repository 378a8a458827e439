// Package queue provides the durable FIFO list of pending transcode jobs.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"vodforge/internal/models"
)

// ErrUnavailable indicates the backing queue store could not be reached. The
// caller logs it and retries on its next poll tick instead of crashing.
var ErrUnavailable = errors.New("job queue unavailable")

// Queue is a durable, ordered list of pending transcode jobs. Push appends;
// PopBlocking waits up to timeout for a job and returns ok=false when none
// arrived. At most one worker consumes a queue; a job is never delivered to
// two consumers. Pending reads the queued jobs without consuming them; the
// startup recovery scan uses it to avoid re-enqueueing assets whose job
// survived a crash.
type Queue interface {
	Push(ctx context.Context, job models.TranscodeJob) error
	PopBlocking(ctx context.Context, timeout time.Duration) (models.TranscodeJob, bool, error)
	Pending(ctx context.Context) ([]models.TranscodeJob, error)
	Length(ctx context.Context) (int64, error)
	Close() error
}

// NewMemoryQueue initialises an in-process queue for tests and single-node
// development. It does not survive restarts; production deployments use the
// Redis-backed queue.
func NewMemoryQueue() Queue {
	q := &memoryQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

type memoryQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	jobs   []models.TranscodeJob
	closed bool
}

func (q *memoryQueue) Push(ctx context.Context, job models.TranscodeJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrUnavailable
	}
	q.jobs = append(q.jobs, job)
	q.cond.Broadcast()
	return nil
}

func (q *memoryQueue) PopBlocking(ctx context.Context, timeout time.Duration) (models.TranscodeJob, bool, error) {
	if timeout <= 0 {
		timeout = time.Second
	}
	deadline := time.Now().Add(timeout)
	wake := time.AfterFunc(timeout, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer wake.Stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if len(q.jobs) > 0 {
			job := q.jobs[0]
			q.jobs = q.jobs[1:]
			return job, true, nil
		}
		if q.closed {
			return models.TranscodeJob{}, false, ErrUnavailable
		}
		if err := ctx.Err(); err != nil {
			return models.TranscodeJob{}, false, err
		}
		if !time.Now().Before(deadline) {
			return models.TranscodeJob{}, false, nil
		}
		q.cond.Wait()
	}
}

func (q *memoryQueue) Pending(ctx context.Context) ([]models.TranscodeJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrUnavailable
	}
	return append([]models.TranscodeJob(nil), q.jobs...), nil
}

func (q *memoryQueue) Length(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrUnavailable
	}
	return int64(len(q.jobs)), nil
}

func (q *memoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.cond.Broadcast()
	}
	return nil
}
