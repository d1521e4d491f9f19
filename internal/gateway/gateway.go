// Package gateway serialises inbound updates per (persona, chat) lane and
// bounds how many are processed at once.
package gateway

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rarehotdog/pjt.mayhem/internal/persona"
	"github.com/rarehotdog/pjt.mayhem/internal/types"
)

// Processor handles one inbound update for one persona.
type Processor interface {
	ProcessUpdate(ctx context.Context, id persona.ID, update *tgbotapi.Update, source string) (*types.ProcessResult, error)
}

// Gateway feeds updates from webhooks and pollers into the lane queue.
type Gateway struct {
	Queue *Queue
	proc  Processor

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Gateway around proc with the given concurrency limit.
func New(proc Processor, maxConcurrent int64) *Gateway {
	g := &Gateway{
		Queue: NewQueue(maxConcurrent),
		proc:  proc,
	}
	g.Queue.SetProcessor(func(ctx context.Context, run *Run) (*types.ProcessResult, error) {
		return g.proc.ProcessUpdate(ctx, run.Persona, run.Update, run.Source)
	})
	return g
}

// Start initialises the gateway's context and starts the internal queue.
func (g *Gateway) Start(ctx context.Context) {
	g.ctx, g.cancel = context.WithCancel(ctx)
	g.Queue.Start(g.ctx)
}

// Stop cancels the gateway context, stops the queue, and waits for any
// outstanding work to finish.
func (g *Gateway) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.Queue.Stop()
}

// Dispatch enqueues the update and waits for its result.
func (g *Gateway) Dispatch(ctx context.Context, id persona.ID, update *tgbotapi.Update, source string) (*types.ProcessResult, error) {
	run := NewRun(id, update, source)
	run.done = make(chan Outcome, 1)
	if err := g.Queue.Enqueue(run); err != nil {
		return nil, fmt.Errorf("enqueue update: %w", err)
	}
	select {
	case out := <-run.done:
		return out.Result, out.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Submit enqueues the update without waiting.
func (g *Gateway) Submit(id persona.ID, update *tgbotapi.Update, source string) error {
	if err := g.Queue.Enqueue(NewRun(id, update, source)); err != nil {
		return fmt.Errorf("enqueue update: %w", err)
	}
	return nil
}
