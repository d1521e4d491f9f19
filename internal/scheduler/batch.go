// Package scheduler runs the scheduled batches: per-persona reminder
// broadcasts and ops flows, both on demand and from cron entries.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rarehotdog/pjt.mayhem/internal/assistant"
	"github.com/rarehotdog/pjt.mayhem/internal/config"
	promptctx "github.com/rarehotdog/pjt.mayhem/internal/context"
	"github.com/rarehotdog/pjt.mayhem/internal/delivery"
	"github.com/rarehotdog/pjt.mayhem/internal/format"
	"github.com/rarehotdog/pjt.mayhem/internal/jobs"
	"github.com/rarehotdog/pjt.mayhem/internal/ledger"
	"github.com/rarehotdog/pjt.mayhem/internal/persona"
	"github.com/rarehotdog/pjt.mayhem/internal/redact"
	"github.com/rarehotdog/pjt.mayhem/internal/telegram"
	"github.com/rarehotdog/pjt.mayhem/internal/types"
)

const (
	SourceAPI      = "api"
	SourceSchedule = "schedule"
	SourceOps      = "ops_endpoint"

	ModeCloud      = "cloud"
	ModeLocalQueue = "local_queue"

	reminderMaxTokens   = 900
	reminderTemperature = 0.2
	opsMaxTokens        = 360
	opsTemperature      = 0.3
)

// ErrNoTargetChat is returned when an ops flow has nowhere to post.
var ErrNoTargetChat = errors.New("no target chat found: set TELEGRAM_MAYHEM_CHAT_ID or TELEGRAM_ALLOWED_CHAT_IDS")

// ErrUnknownFlow is returned for flow ids outside the catalogue.
var ErrUnknownFlow = errors.New("unknown ops flow")

// Composer generates replies and records their cost.
type Composer interface {
	Compose(ctx context.Context, in promptctx.Input) (assistant.Reply, error)
	LogCost(ctx context.Context, id persona.ID, r assistant.Reply, path string)
}

// Store is the persistence reminder batches need.
type Store interface {
	types.UserStore
	types.ReminderStore
}

// Deps are the collaborators of a Coordinator.
type Deps struct {
	Config    *config.Holder
	Store     Store
	Composer  Composer
	Messenger telegram.Messenger
	Ledger    *ledger.Ledger
	Jobs      *jobs.Queue
	Router    *delivery.Router
}

// Coordinator runs reminder batches and ops flows.
type Coordinator struct {
	cfg      *config.Holder
	store    Store
	composer Composer
	out      telegram.Messenger
	ledger   *ledger.Ledger
	jobs     *jobs.Queue
	router   *delivery.Router
}

func NewCoordinator(d Deps) *Coordinator {
	router := d.Router
	if router == nil {
		router = delivery.NewRouter(d.Messenger)
	}
	return &Coordinator{
		cfg:      d.Config,
		store:    d.Store,
		composer: d.Composer,
		out:      d.Messenger,
		ledger:   d.Ledger,
		jobs:     d.Jobs,
		router:   router,
	}
}

// ReminderOptions select a reminder batch. Zero values mean: orchestrator
// persona, kind by local hour, current time, source "api".
type ReminderOptions struct {
	Persona persona.ID
	Kind    types.ReminderKind
	Now     time.Time
	Source  string
}

// ReminderResult summarises a reminder batch.
type ReminderResult struct {
	Persona      persona.ID         `json:"botId"`
	Kind         types.ReminderKind `json:"kind"`
	ScheduleDate string             `json:"scheduleDate"`
	Timezone     string             `json:"timezone"`
	Source       string             `json:"source"`
	TotalTargets int                `json:"totalTargets"`
	Sent         int                `json:"sent"`
	Skipped      int                `json:"skipped"`
	Failed       int                `json:"failed"`
}

// RunReminders sends one reminder per user for (persona, kind, local date).
// Users already sent or skipped for that key are not messaged again.
func (c *Coordinator) RunReminders(ctx context.Context, opts ReminderOptions) (*ReminderResult, error) {
	cfg := c.cfg.Get()
	loc := cfg.Location()
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	id := persona.Normalize(string(opts.Persona))
	local := format.Local(now, loc)
	kind := opts.Kind
	if kind == "" {
		kind = format.KindByHour(local.Hour)
	}
	source := opts.Source
	if source == "" {
		source = SourceAPI
	}

	users, err := c.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list reminder targets: %w", err)
	}

	shared := ""
	reply, err := c.composer.Compose(ctx, promptctx.Input{
		Persona:     id,
		Timezone:    cfg.Assistant.Timezone,
		UserText:    format.BriefingPrompt(kind, now, cfg.Assistant.Timezone, format.NewsCount(cfg.Assistant.NewsDefaultCount)),
		MaxTokens:   reminderMaxTokens,
		Temperature: reminderTemperature,
	})
	if err != nil {
		slog.Warn("shared reminder briefing failed", "persona", string(id), "kind", string(kind), "error", redact.Error(err))
	} else {
		shared = reply.Text
		c.composer.LogCost(ctx, id, reply, "reminder:"+string(kind))
	}

	res := &ReminderResult{
		Persona:      id,
		Kind:         kind,
		ScheduleDate: local.DateKey,
		Timezone:     cfg.Assistant.Timezone,
		Source:       source,
		TotalTargets: len(users),
	}
	for _, u := range users {
		switch c.remind(ctx, cfg, id, kind, local.DateKey, now, u, shared) {
		case types.ReminderSent:
			res.Sent++
		case types.ReminderFailed:
			res.Failed++
		default:
			res.Skipped++
		}
	}
	slog.Info("reminder batch finished", "persona", string(id), "kind", string(kind), "date", local.DateKey,
		"targets", res.TotalTargets, "sent", res.Sent, "skipped", res.Skipped, "failed", res.Failed)
	return res, nil
}

// remind handles one user and returns the resulting reminder status.
func (c *Coordinator) remind(ctx context.Context, cfg *config.Config, id persona.ID, kind types.ReminderKind, dateKey string, now time.Time, u *types.User, shared string) types.ReminderStatus {
	tz := u.Timezone
	if tz == "" {
		tz = cfg.Assistant.Timezone
	}
	job, created, err := c.store.CreateReminderJob(ctx, &types.ReminderJob{
		ID:           types.NewReminderJobID(),
		BotID:        id,
		UserID:       u.UserID,
		ChatID:       u.ChatID,
		Kind:         kind,
		ScheduleDate: dateKey,
		ScheduledFor: now,
		Timezone:     tz,
		Status:       types.ReminderPending,
		CreatedAt:    now,
	})
	if err != nil {
		slog.Error("create reminder job failed", "persona", string(id), "user_id", u.UserID, "error", err)
		return types.ReminderFailed
	}
	if !created && (job.Status == types.ReminderSent || job.Status == types.ReminderSkipped) {
		return types.ReminderSkipped
	}

	mark := func(status types.ReminderStatus, lastError string, sentAt *time.Time, attempt bool) {
		if err := c.store.UpdateReminderJob(ctx, job.ID, status, lastError, sentAt, attempt); err != nil {
			slog.Error("update reminder job failed", "job_id", string(job.ID), "status", string(status), "error", err)
		}
	}

	if !cfg.IsAllowlisted(u.UserID, u.ChatID) {
		mark(types.ReminderSkipped, "allowlist_blocked", nil, false)
		return types.ReminderSkipped
	}
	if u.RemindersPaused {
		mark(types.ReminderSkipped, "user_paused", nil, false)
		return types.ReminderSkipped
	}

	text := shared
	if text == "" {
		text = format.ReminderMessage(kind, u.FirstName)
	}
	if _, err := c.out.Send(ctx, telegram.Outbound{
		Persona: id,
		ChatID:  u.ChatID,
		Text:    text,
		Silent:  kind == types.MorningPlan,
	}); err != nil {
		mark(types.ReminderFailed, redact.Error(err), nil, true)
		return types.ReminderFailed
	}
	sentAt := time.Now().UTC()
	mark(types.ReminderSent, "", &sentAt, true)
	return types.ReminderSent
}

// OpsOptions select an ops flow run. Zero values mean: configured group
// chat, current time, source "ops_endpoint", cloud mode.
type OpsOptions struct {
	Flow   string
	ChatID int64
	Now    time.Time
	Source string
	Mode   string
}

// OpsResult reports an ops flow run.
type OpsResult struct {
	OK           bool               `json:"ok"`
	Flow         string             `json:"flow"`
	OwnerBotID   persona.ID         `json:"ownerBotId"`
	ChatID       int64              `json:"chatId"`
	Source       string             `json:"source"`
	DispatchMode string             `json:"dispatchMode"`
	JobID        types.JobID        `json:"jobId,omitempty"`
	Provider     string             `json:"provider,omitempty"`
	Model        string             `json:"model,omitempty"`
	Skipped      bool               `json:"skipped,omitempty"`
	Reason       string             `json:"reason,omitempty"`
	Delivery     *delivery.Delivery `json:"delivery,omitempty"`
	SentAt       *time.Time         `json:"sentAt,omitempty"`
}

// RunOpsFlow runs one flow from the catalogue. Gated flows run at most
// once per local date and only inside their window.
func (c *Coordinator) RunOpsFlow(ctx context.Context, opts OpsOptions) (*OpsResult, error) {
	flow, ok := format.LookupFlow(opts.Flow)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFlow, opts.Flow)
	}
	cfg := c.cfg.Get()
	loc := cfg.Location()
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	mode := opts.Mode
	if mode == "" {
		mode = ModeCloud
	}
	if mode != ModeCloud && mode != ModeLocalQueue {
		return nil, fmt.Errorf("unknown dispatch mode %q", mode)
	}
	source := opts.Source
	if source == "" {
		source = SourceOps
	}

	chatID := opts.ChatID
	if chatID == 0 {
		chatID = cfg.MayhemChatID()
	}
	if chatID == 0 {
		return nil, ErrNoTargetChat
	}

	res := &OpsResult{
		OK:           true,
		Flow:         flow.ID,
		OwnerBotID:   flow.Owner,
		ChatID:       chatID,
		Source:       source,
		DispatchMode: mode,
	}

	if flow.Gate != format.GateNone {
		if open, reason := gateOpen(flow, now, loc); !open {
			res.Skipped, res.Reason = true, reason
			return res, nil
		}
		key, reserved, err := c.reserveSlot(ctx, flow, format.Local(now, loc).DateKey)
		if err != nil {
			return nil, err
		}
		if !reserved {
			res.Skipped, res.Reason = true, "slot_taken"
			return res, nil
		}
		runErr := c.dispatch(ctx, cfg, flow, now, mode, res)
		status, errText := types.StatusProcessed, ""
		if runErr != nil {
			status, errText = types.StatusFailed, redact.Error(runErr)
		}
		if err := c.ledger.MarkStatus(ctx, key, status, errText); err != nil {
			slog.Error("mark flow slot failed", "flow", flow.ID, "error", err)
		}
		if runErr != nil {
			return nil, runErr
		}
		return res, nil
	}

	if err := c.dispatch(ctx, cfg, flow, now, mode, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Coordinator) reserveSlot(ctx context.Context, flow format.Flow, dateKey string) (ledger.Key, bool, error) {
	slot, err := ledger.SlotKey(dateKey, flow.Code)
	if err != nil {
		return ledger.Key{}, false, err
	}
	key := ledger.Key{Bot: flow.Owner, UpdateID: slot}
	r, err := c.ledger.Reserve(ctx, key, ledger.Meta{Source: SourceSchedule})
	if err != nil {
		return key, false, fmt.Errorf("reserve flow slot: %w", err)
	}
	return key, r.Reserved, nil
}

func (c *Coordinator) dispatch(ctx context.Context, cfg *config.Config, flow format.Flow, now time.Time, mode string, res *OpsResult) error {
	loc := cfg.Location()
	prompt := format.OpsPrompt(flow, now, loc)
	header := format.OpsHeader(flow, now, loc)

	if mode == ModeLocalQueue {
		job, err := c.jobs.Enqueue(ctx, jobs.EnqueueInput{
			FlowID:  flow.ID,
			Persona: flow.Owner,
			ChatID:  res.ChatID,
			Mode:    types.ModeLocalHeavy,
			Payload: types.JobPayload{
				TaskType:     types.TaskOpsFlow,
				Prompt:       prompt,
				Header:       header,
				Timezone:     cfg.Assistant.Timezone,
				FallbackMode: ModeCloud,
			},
		})
		if err != nil {
			return err
		}
		res.JobID = job.ID
		sentAt := time.Now().UTC()
		res.SentAt = &sentAt
		return nil
	}

	reply, err := c.composer.Compose(ctx, promptctx.Input{
		Persona:     flow.Owner,
		Timezone:    cfg.Assistant.Timezone,
		UserText:    prompt,
		MaxTokens:   opsMaxTokens,
		Temperature: opsTemperature,
	})
	if err != nil {
		return fmt.Errorf("generate %s: %w", flow.ID, err)
	}
	text := header + "\n\n" + reply.Text

	if flow.DirectMessage {
		d, err := c.router.DeliverWithFallback(ctx, delivery.Target{
			Persona:     flow.Owner,
			DMChatID:    cfg.Telegram.TylerDMChatID,
			GroupChatID: res.ChatID,
			Text:        text,
			Silent:      true,
		})
		if err != nil {
			return fmt.Errorf("deliver %s: %w", flow.ID, err)
		}
		res.Delivery = d
	} else if _, err := c.out.Send(ctx, telegram.Outbound{Persona: flow.Owner, ChatID: res.ChatID, Text: text, Silent: true}); err != nil {
		return fmt.Errorf("send %s: %w", flow.ID, err)
	}

	c.composer.LogCost(ctx, flow.Owner, reply, "ops:"+flow.ID)
	res.Provider = reply.Provider
	res.Model = reply.Model
	sentAt := time.Now().UTC()
	res.SentAt = &sentAt
	return nil
}
