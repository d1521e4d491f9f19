// internal/types/models.go
package types

import (
	"time"

	"github.com/rarehotdog/pjt.mayhem/internal/persona"
)

// UpdateStatus is the lifecycle state of an inbound update in the ledger.
type UpdateStatus string

const (
	StatusReceived    UpdateStatus = "received"
	StatusProcessed   UpdateStatus = "processed"
	StatusIgnored     UpdateStatus = "ignored"
	StatusBlocked     UpdateStatus = "blocked"
	StatusRateLimited UpdateStatus = "rate_limited"
	StatusFailed      UpdateStatus = "failed"
	StatusDuplicate   UpdateStatus = "duplicate"
	StatusQueuedLocal UpdateStatus = "queued_local"
	StatusPaused      UpdateStatus = "paused"
	StatusResumed     UpdateStatus = "resumed"
	StatusApproved    UpdateStatus = "approved"
	StatusRejected    UpdateStatus = "rejected"
)

type InboundRecord struct {
	BotID       persona.ID   `json:"bot_id"`
	UpdateID    int64        `json:"update_id"`
	Source      string       `json:"source"`
	UserID      int64        `json:"user_id,omitempty"`
	ChatID      int64        `json:"chat_id,omitempty"`
	Status      UpdateStatus `json:"status"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	ProcessedAt *time.Time   `json:"processed_at,omitempty"`
}

type User struct {
	UserID          int64     `json:"user_id"`
	ChatID          int64     `json:"chat_id"`
	Username        string    `json:"username,omitempty"`
	FirstName       string    `json:"first_name,omitempty"`
	LanguageCode    string    `json:"language_code,omitempty"`
	Timezone        string    `json:"timezone"`
	RemindersPaused bool      `json:"reminders_paused"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type Thread struct {
	BotID         persona.ID `json:"bot_id"`
	ThreadID      ThreadID   `json:"thread_id"`
	UserID        int64      `json:"user_id"`
	ChatID        int64      `json:"chat_id"`
	Summary       string     `json:"summary,omitempty"`
	Locale        string     `json:"locale,omitempty"`
	LastMessageAt time.Time  `json:"last_message_at"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	ID        MessageID      `json:"id"`
	BotID     persona.ID     `json:"bot_id"`
	ThreadID  ThreadID       `json:"thread_id"`
	UpdateID  int64          `json:"update_id,omitempty"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Provider  string         `json:"provider,omitempty"`
	Model     string         `json:"model,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// HistoryMessage is the prompt-facing view of a stored message.
type HistoryMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// History converts stored messages into prompt history, preserving order.
func History(msgs []*Message) []HistoryMessage {
	out := make([]HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, HistoryMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

type JobMode string

const (
	ModeCloudShort JobMode = "cloud_short"
	ModeLocalHeavy JobMode = "local_heavy"
)

type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobClaimed JobStatus = "claimed"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

const (
	TaskChatReply = "chat_reply"
	TaskOpsFlow   = "ops_flow"
)

// JobPayload carries what a worker needs to finish a local job and what the
// server needs to deliver or fall back afterwards.
type JobPayload struct {
	TaskType         string           `json:"taskType,omitempty"`
	Timezone         string           `json:"timezone,omitempty"`
	UserText         string           `json:"userText,omitempty"`
	History          []HistoryMessage `json:"history,omitempty"`
	FocusContext     string           `json:"focusContext,omitempty"`
	RequestedBotID   persona.ID       `json:"requestedBotId,omitempty"`
	EffectiveBotID   persona.ID       `json:"effectiveBotId,omitempty"`
	OriginUpdateID   int64            `json:"originUpdateId,omitempty"`
	ReplyToMessageID int              `json:"replyToMessageId,omitempty"`
	Prompt           string           `json:"prompt,omitempty"`
	Header           string           `json:"header,omitempty"`
	FallbackMode     string           `json:"fallbackMode,omitempty"`
}

type LocalJob struct {
	ID           JobID      `json:"job_id"`
	FlowID       string     `json:"flow_id,omitempty"`
	BotID        persona.ID `json:"bot_id"`
	ChatID       int64      `json:"chat_id"`
	UserID       int64      `json:"user_id,omitempty"`
	ThreadID     ThreadID   `json:"thread_id,omitempty"`
	Mode         JobMode    `json:"mode"`
	Payload      JobPayload `json:"payload"`
	Status       JobStatus  `json:"status"`
	ClaimedBy    string     `json:"claimed_by,omitempty"`
	AttemptCount int        `json:"attempt_count"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

type ReminderKind string

const (
	MorningPlan   ReminderKind = "morning_plan"
	EveningReview ReminderKind = "evening_review"
)

// ParseReminderKind accepts only the two known kinds.
func ParseReminderKind(s string) (ReminderKind, bool) {
	switch ReminderKind(s) {
	case MorningPlan, EveningReview:
		return ReminderKind(s), true
	}
	return "", false
}

type ReminderStatus string

const (
	ReminderPending ReminderStatus = "pending"
	ReminderSent    ReminderStatus = "sent"
	ReminderSkipped ReminderStatus = "skipped"
	ReminderFailed  ReminderStatus = "failed"
)

type ReminderJob struct {
	ID           ReminderJobID  `json:"job_id"`
	BotID        persona.ID     `json:"bot_id"`
	UserID       int64          `json:"user_id"`
	ChatID       int64          `json:"chat_id"`
	Kind         ReminderKind   `json:"kind"`
	ScheduleDate string         `json:"schedule_date"`
	ScheduledFor time.Time      `json:"scheduled_for"`
	Timezone     string         `json:"timezone"`
	Status       ReminderStatus `json:"status"`
	AttemptCount int            `json:"attempt_count"`
	LastError    string         `json:"last_error,omitempty"`
	SentAt       *time.Time     `json:"sent_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalExecuted ApprovalStatus = "executed"
)

type ActionApproval struct {
	ID          ActionID       `json:"action_id"`
	RequestedBy persona.ID     `json:"requested_by_bot"`
	ActionType  string         `json:"action_type"`
	Payload     map[string]any `json:"payload,omitempty"`
	Status      ApprovalStatus `json:"status"`
	ApprovedBy  string         `json:"approved_by,omitempty"`
	ApprovedAt  *time.Time     `json:"approved_at,omitempty"`
	Evidence    map[string]any `json:"evidence,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

type CostEntry struct {
	BotID            persona.ID `json:"bot_id"`
	Provider         string     `json:"provider"`
	Model            string     `json:"model"`
	TokensIn         int        `json:"tokens_in"`
	TokensOut        int        `json:"tokens_out"`
	EstimatedCostUSD float64    `json:"estimated_cost_usd"`
	Path             string     `json:"path"`
	CreatedAt        time.Time  `json:"created_at"`
}

type BotCost struct {
	BotID   persona.ID `json:"bot_id"`
	CostUSD float64    `json:"cost_usd"`
	Tokens  int        `json:"tokens"`
	Calls   int        `json:"calls"`
}

type CostSummary struct {
	From         time.Time `json:"from"`
	TotalTokens  int       `json:"total_tokens"`
	TotalCostUSD float64   `json:"total_cost_usd"`
	Calls        int       `json:"calls"`
	ByBot        []BotCost `json:"by_bot"`
}

// ProcessResult reports how one inbound update was handled.
type ProcessResult struct {
	Status         UpdateStatus `json:"status"`
	Reason         string       `json:"reason,omitempty"`
	Duplicate      bool         `json:"duplicate,omitempty"`
	Command        string       `json:"command,omitempty"`
	RequestedBotID persona.ID   `json:"requestedBotId,omitempty"`
	EffectiveBotID persona.ID   `json:"effectiveBotId,omitempty"`
	RoutedByTag    bool         `json:"routedByTag,omitempty"`
	Provider       string       `json:"provider,omitempty"`
	Model          string       `json:"model,omitempty"`
	JobID          JobID        `json:"jobId,omitempty"`
	ActionID       ActionID     `json:"actionId,omitempty"`
}
