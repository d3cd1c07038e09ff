package async

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	queueChunkSize = 16
	queueFanOut    = 8
)

// Queue is an unbounded FIFO of low-priority background jobs. Jobs never run
// synchronously with Push; a single drain loop takes them in chunks of 16,
// runs each chunk through RunLimited with fan-out 8, and yields between
// chunks so a large backlog cannot monopolize the scheduler.
type Queue struct {
	mu      sync.Mutex
	pending []func(ctx context.Context) error
	running bool

	ctx    context.Context
	yield  func()
	logger *zap.Logger
	idle   sync.WaitGroup
}

func NewQueue(ctx context.Context, logger *zap.Logger) *Queue {
	return &Queue{
		ctx:    ctx,
		yield:  func() { time.Sleep(time.Millisecond) },
		logger: logger,
	}
}

// Push appends a job and starts the drain loop if it is not already active.
// Pushing while a drain is in progress just appends.
func (q *Queue) Push(task func(ctx context.Context) error) {
	q.mu.Lock()
	q.pending = append(q.pending, task)
	start := !q.running
	if start {
		q.running = true
		q.idle.Add(1)
	}
	q.mu.Unlock()

	if start {
		go q.drain()
	}
}

// Wait blocks until every job pushed so far has finished and the drain loop
// has gone idle.
func (q *Queue) Wait() {
	q.idle.Wait()
}

func (q *Queue) drain() {
	defer q.idle.Done()
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		n := queueChunkSize
		if n > len(q.pending) {
			n = len(q.pending)
		}
		chunk := q.pending[:n]
		q.pending = q.pending[n:]
		q.mu.Unlock()

		tasks := make([]Task[struct{}], len(chunk))
		for i, job := range chunk {
			job := job
			tasks[i] = func(ctx context.Context) (struct{}, error) {
				if err := job(ctx); err != nil {
					q.logger.Debug("Background job failed", zap.Error(err))
					return struct{}{}, err
				}
				return struct{}{}, nil
			}
		}
		RunLimited(q.ctx, tasks, queueFanOut)

		q.yield()
	}
}
