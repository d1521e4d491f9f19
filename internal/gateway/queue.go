package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/rarehotdog/pjt.mayhem/internal/types"
)

const laneBuffer = 100

// ErrQueueStopped is returned when enqueueing after Stop.
var ErrQueueStopped = errors.New("queue stopped")

// ProcessFunc handles one dequeued Run.
type ProcessFunc func(ctx context.Context, run *Run) (*types.ProcessResult, error)

// Queue manages per-lane FIFO channels with a global concurrency semaphore.
// Runs within a lane are processed sequentially, while the semaphore limits
// the total number of concurrent processors across all lanes.
type Queue struct {
	lanes     map[LaneKey]chan *Run
	semaphore *semaphore.Weighted
	processor ProcessFunc
	active    atomic.Int64
	stopped   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewQueue creates a Queue that allows up to maxConcurrent runs to execute
// simultaneously across all lanes.
func NewQueue(maxConcurrent int64) *Queue {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Queue{
		lanes:     make(map[LaneKey]chan *Run),
		semaphore: semaphore.NewWeighted(maxConcurrent),
	}
}

// Start initialises the queue's context. Must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop cancels the queue context, closes all lanes, and waits for in-flight
// processors to finish.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Lock()
	if !q.stopped {
		q.stopped = true
		for _, lane := range q.lanes {
			close(lane)
		}
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// Enqueue adds a Run to its lane, creating the lane (and its goroutine) on
// first use. Returns an error if the lane's buffer is full.
func (q *Queue) Enqueue(run *Run) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped || q.ctx == nil {
		return ErrQueueStopped
	}

	lane, exists := q.lanes[run.Lane]
	if !exists {
		lane = make(chan *Run, laneBuffer)
		q.lanes[run.Lane] = lane
		q.wg.Add(1)
		go q.processLane(lane)
	}

	select {
	case lane <- run:
		return nil
	default:
		return fmt.Errorf("queue full for lane %s", run.Lane)
	}
}

// processLane drains a single lane, acquiring a semaphore slot before
// running the processor synchronously.
func (q *Queue) processLane(lane chan *Run) {
	defer q.wg.Done()
	for {
		select {
		case run, ok := <-lane:
			if !ok {
				return
			}
			if err := q.semaphore.Acquire(q.ctx, 1); err != nil {
				run.finish(nil, fmt.Errorf("acquire slot: %w", err))
				return
			}
			q.process(run)
			q.semaphore.Release(1)
		case <-q.ctx.Done():
			return
		}
	}
}

func (q *Queue) process(run *Run) {
	if q.processor == nil {
		run.finish(nil, errors.New("no processor configured"))
		return
	}
	q.active.Add(1)
	defer q.active.Add(-1)

	now := time.Now()
	run.StartedAt = &now
	run.Status = RunStatusRunning

	res, err := q.processor(q.ctx, run)
	if err != nil {
		slog.Error("run failed",
			"persona", string(run.Persona),
			"lane", run.Lane.String(),
			"source", run.Source,
			"error", err,
		)
	}
	run.finish(res, err)
}

// WaitIdle blocks until no runs are actively being processed, or the timeout
// expires. Returns true if idle, false if timed out.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.active.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// SetProcessor sets the function invoked for each dequeued Run.
func (q *Queue) SetProcessor(fn ProcessFunc) {
	q.processor = fn
}
