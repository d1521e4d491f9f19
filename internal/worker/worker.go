package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/rarehotdog/pjt.mayhem/internal/redact"
	"github.com/rarehotdog/pjt.mayhem/internal/types"
)

const DefaultPollInterval = 15 * time.Second

// Claimer is the server side of the worker protocol.
type Claimer interface {
	Claim(ctx context.Context, workerID, flowID string) (*types.LocalJob, error)
	Complete(ctx context.Context, in Completion) (*types.LocalJob, error)
}

// Options configures a Worker.
type Options struct {
	ID           string
	FlowID       string
	PollInterval time.Duration
}

// Worker polls for jobs and processes them one at a time.
type Worker struct {
	client   Claimer
	runner   Runner
	id       string
	flowID   string
	interval time.Duration
}

// DefaultID is "<hostname>-worker".
func DefaultID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "local"
	}
	return host + "-worker"
}

func New(client Claimer, runner Runner, opts Options) *Worker {
	id := opts.ID
	if id == "" {
		id = DefaultID()
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Worker{client: client, runner: runner, id: id, flowID: opts.FlowID, interval: interval}
}

// ID returns the worker id sent with every claim.
func (w *Worker) ID() string { return w.id }

// RunOnce claims and processes at most one job. It reports whether a job
// was handled.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.client.Claim(ctx, w.id, w.flowID)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	if job == nil {
		return false, nil
	}
	slog.Info("local job started", "job_id", string(job.ID), "persona", string(job.BotID), "flow", job.FlowID)

	start := time.Now()
	out := Completion{JobID: job.ID, WorkerID: w.id}
	output, runErr := w.runner.Run(ctx, BuildPrompt(job.Payload))
	if runErr != nil {
		out.Status = string(types.JobFailed)
		out.Error = redact.Error(runErr)
		slog.Warn("local job failed", "job_id", string(job.ID), "error", out.Error)
	} else {
		out.Status = string(types.JobDone)
		out.OutputText = output
		out.Metadata = map[string]any{"worker": w.id, "durationMs": time.Since(start).Milliseconds()}
	}

	// Report even when ctx is already cancelled.
	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if _, err := w.client.Complete(reportCtx, out); err != nil {
		return true, fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	slog.Info("local job reported", "job_id", string(job.ID), "status", out.Status, "duration", time.Since(start))
	return true, nil
}

// Run polls until ctx is cancelled. A handled job triggers an immediate
// re-poll; an empty queue or an error waits one interval.
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("local worker started", "worker", w.id, "interval", w.interval)
	for {
		handled, err := w.RunOnce(ctx)
		if err != nil {
			slog.Error("local worker iteration failed", "worker", w.id, "error", redact.Error(err))
		}
		if handled && err == nil {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		select {
		case <-ctx.Done():
			slog.Info("local worker stopped", "worker", w.id)
			return nil
		case <-time.After(w.interval):
		}
	}
}
