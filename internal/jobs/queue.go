// Package jobs coordinates heavy tasks handed off to an external local
// worker.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rarehotdog/pjt.mayhem/internal/persona"
	"github.com/rarehotdog/pjt.mayhem/internal/redact"
	"github.com/rarehotdog/pjt.mayhem/internal/state"
	"github.com/rarehotdog/pjt.mayhem/internal/types"
)

var (
	ErrJobNotFound   = errors.New("local job not found")
	ErrClaimMismatch = errors.New("job is claimed by another worker")
)

// Queue is the job lifecycle on top of a JobStore.
type Queue struct {
	store types.JobStore
	now   func() time.Time
}

func NewQueue(store types.JobStore) *Queue {
	return &Queue{store: store, now: time.Now}
}

type EnqueueInput struct {
	FlowID   string
	Persona  persona.ID
	ChatID   int64
	UserID   int64
	ThreadID types.ThreadID
	Mode     types.JobMode
	Payload  types.JobPayload
}

// Enqueue stores a new queued job.
func (q *Queue) Enqueue(ctx context.Context, in EnqueueInput) (*types.LocalJob, error) {
	mode := in.Mode
	if mode == "" {
		mode = types.ModeLocalHeavy
	}
	now := q.now().UTC()
	job := &types.LocalJob{
		ID:        types.NewJobID(),
		FlowID:    in.FlowID,
		BotID:     persona.Normalize(string(in.Persona)),
		ChatID:    in.ChatID,
		UserID:    in.UserID,
		ThreadID:  in.ThreadID,
		Mode:      mode,
		Payload:   in.Payload,
		Status:    types.JobQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := q.store.InsertJob(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	slog.Info("local job queued", "job_id", string(job.ID), "persona", string(job.BotID), "flow", job.FlowID)
	return job, nil
}

// Claim hands the oldest queued job to workerID. It returns nil when the
// queue is empty or another claimant won.
func (q *Queue) Claim(ctx context.Context, workerID, flowID string) (*types.LocalJob, error) {
	job, err := q.store.ClaimJob(ctx, workerID, flowID, q.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if job != nil {
		slog.Info("local job claimed", "job_id", string(job.ID), "worker", workerID, "attempt", job.AttemptCount)
	}
	return job, nil
}

type CompleteInput struct {
	// WorkerID, when set, must match the claimant.
	WorkerID string
	Error    string
}

// Complete marks a job done, or failed when in.Error is set.
func (q *Queue) Complete(ctx context.Context, id types.JobID, in CompleteInput) (*types.LocalJob, error) {
	current, err := q.store.GetJob(ctx, id)
	if errors.Is(err, state.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	if in.WorkerID != "" && current.ClaimedBy != in.WorkerID {
		return nil, ErrClaimMismatch
	}

	status := types.JobDone
	errText := ""
	if in.Error != "" {
		status = types.JobFailed
		errText = redact.String(in.Error)
	}
	job, err := q.store.FinishJob(ctx, id, status, errText, q.now().UTC())
	if errors.Is(err, state.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("complete job: %w", err)
	}
	return job, nil
}
