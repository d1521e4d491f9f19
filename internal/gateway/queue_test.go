package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rarehotdog/pjt.mayhem/internal/persona"
	"github.com/rarehotdog/pjt.mayhem/internal/types"
)

func laneRun(chatID int64) *Run {
	return &Run{
		Lane:    LaneKey{Persona: persona.Tyler, ChatID: chatID},
		Persona: persona.Tyler,
		Status:  RunStatusQueued,
	}
}

func TestQueueConcurrency(t *testing.T) {
	queue := NewQueue(2)
	queue.Start(context.Background())
	defer queue.Stop()

	var running int32
	var maxSeen int32
	var wg sync.WaitGroup

	queue.SetProcessor(func(ctx context.Context, run *Run) (*types.ProcessResult, error) {
		defer wg.Done()
		current := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&maxSeen)
			if current <= old || atomic.CompareAndSwapInt32(&maxSeen, old, current) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil, nil
	})

	for i := 0; i < 5; i++ {
		wg.Add(1)
		if err := queue.Enqueue(laneRun(int64(i))); err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()

	if m := atomic.LoadInt32(&maxSeen); m > 2 {
		t.Errorf("expected max 2 concurrent, saw %d", m)
	}
}

func TestQueueLaneFIFO(t *testing.T) {
	queue := NewQueue(4)
	queue.Start(context.Background())
	defer queue.Stop()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	queue.SetProcessor(func(ctx context.Context, run *Run) (*types.ProcessResult, error) {
		defer wg.Done()
		mu.Lock()
		order = append(order, run.Update.UpdateID)
		mu.Unlock()
		return nil, nil
	})

	for i := 1; i <= 10; i++ {
		wg.Add(1)
		run := NewRun(persona.Tyler, textUpdate(i, 42, "hi"), "test")
		if err := queue.Enqueue(run); err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()

	for i, id := range order {
		if id != i+1 {
			t.Fatalf("lane order broken: %v", order)
		}
	}
}

func TestQueueLaneFull(t *testing.T) {
	queue := NewQueue(1)
	queue.Start(context.Background())
	defer queue.Stop()

	release := make(chan struct{})
	queue.SetProcessor(func(ctx context.Context, run *Run) (*types.ProcessResult, error) {
		<-release
		return nil, nil
	})

	var failed bool
	for i := 0; i < laneBuffer+2; i++ {
		if err := queue.Enqueue(laneRun(1)); err != nil {
			failed = true
			break
		}
	}
	close(release)
	if !failed {
		t.Error("expected a full-lane error")
	}
}

func TestQueueEnqueueAfterStop(t *testing.T) {
	queue := NewQueue(1)
	queue.Start(context.Background())
	queue.Stop()

	if err := queue.Enqueue(laneRun(1)); err != ErrQueueStopped {
		t.Errorf("expected ErrQueueStopped, got %v", err)
	}
}

func TestQueueWaitIdle(t *testing.T) {
	queue := NewQueue(1)
	queue.Start(context.Background())
	defer queue.Stop()

	queue.SetProcessor(func(ctx context.Context, run *Run) (*types.ProcessResult, error) {
		time.Sleep(20 * time.Millisecond)
		return nil, nil
	})
	queue.Enqueue(laneRun(1))

	if !queue.WaitIdle(2 * time.Second) {
		t.Error("expected queue to become idle")
	}
}
