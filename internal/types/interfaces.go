// internal/types/interfaces.go
package types

import (
	"context"
	"time"

	"github.com/rarehotdog/pjt.mayhem/internal/persona"
)

type UserStore interface {
	UpsertUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, userID int64) (*User, error)
	SetRemindersPaused(ctx context.Context, userID int64, paused bool) error
	ListUsers(ctx context.Context) ([]*User, error)
}

type ThreadStore interface {
	TouchThread(ctx context.Context, t *Thread) error
	UpdateThreadSummary(ctx context.Context, bot persona.ID, id ThreadID, summary string) error
}

type MessageStore interface {
	AppendMessage(ctx context.Context, m *Message) error
	// RecentMessages returns up to limit messages, oldest first.
	RecentMessages(ctx context.Context, bot persona.ID, id ThreadID, limit int) ([]*Message, error)
}

type ReminderStore interface {
	// CreateReminderJob inserts the job unless one exists for the same
	// (bot, user, kind, date). It returns the stored job and whether it was
	// created by this call.
	CreateReminderJob(ctx context.Context, job *ReminderJob) (*ReminderJob, bool, error)
	UpdateReminderJob(ctx context.Context, id ReminderJobID, status ReminderStatus, lastError string, sentAt *time.Time, incrementAttempt bool) error
}

type JobStore interface {
	InsertJob(ctx context.Context, job *LocalJob) error
	GetJob(ctx context.Context, id JobID) (*LocalJob, error)
	// ClaimJob atomically moves the oldest queued job to claimed. It
	// returns nil when nothing is available.
	ClaimJob(ctx context.Context, workerID, flowID string, now time.Time) (*LocalJob, error)
	FinishJob(ctx context.Context, id JobID, status JobStatus, errText string, now time.Time) (*LocalJob, error)
}

type ApprovalStore interface {
	CreateApproval(ctx context.Context, a *ActionApproval) error
	GetApproval(ctx context.Context, id ActionID) (*ActionApproval, error)
	UpdateApproval(ctx context.Context, id ActionID, status ApprovalStatus, approvedBy string, evidence map[string]any, now time.Time) (*ActionApproval, error)
}

type CostStore interface {
	AppendCost(ctx context.Context, e *CostEntry) error
	CostSummary(ctx context.Context, since time.Time) (*CostSummary, error)
}
