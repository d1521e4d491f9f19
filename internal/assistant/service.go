// Package assistant turns inbound Telegram messages into persona replies:
// command handling, persona routing, the local heavy-task gate, approval
// gating and group panel banners.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rarehotdog/pjt.mayhem/internal/config"
	promptctx "github.com/rarehotdog/pjt.mayhem/internal/context"
	"github.com/rarehotdog/pjt.mayhem/internal/fallback"
	"github.com/rarehotdog/pjt.mayhem/internal/jobs"
	"github.com/rarehotdog/pjt.mayhem/internal/ledger"
	"github.com/rarehotdog/pjt.mayhem/internal/persona"
	"github.com/rarehotdog/pjt.mayhem/internal/ratelimit"
	"github.com/rarehotdog/pjt.mayhem/internal/redact"
	"github.com/rarehotdog/pjt.mayhem/internal/state"
	"github.com/rarehotdog/pjt.mayhem/internal/telegram"
	"github.com/rarehotdog/pjt.mayhem/internal/ttlcache"
	"github.com/rarehotdog/pjt.mayhem/internal/types"
)

const (
	// ProviderNone marks replies that no language model produced.
	ProviderNone = "none"

	panelCooldown = 90 * time.Second
	roundKeyTTL   = 24 * time.Hour
	focusTTL      = 7 * 24 * time.Hour
	summaryWindow = 20
)

// Store is the persistence the service needs.
type Store interface {
	types.UserStore
	types.ThreadStore
	types.MessageStore
	types.ApprovalStore
	types.CostStore
}

// Reply is a response ready to send, with its provenance.
type Reply struct {
	Text      string
	Provider  string
	Model     string
	TokensIn  int
	TokensOut int
	CostUSD   float64
	Metadata  map[string]any
}

func replyFromResult(r *fallback.Result) Reply {
	meta := map[string]any{
		"tokensIn":         r.TokensIn,
		"tokensOut":        r.TokensOut,
		"estimatedCostUsd": r.EstimatedCostUSD,
		"attemptedModels":  r.AttemptedModels,
	}
	if r.FallbackFrom != "" {
		meta["fallbackFrom"] = r.FallbackFrom
		meta["providerError"] = r.Error
	}
	return Reply{
		Text:      r.Text,
		Provider:  r.Provider,
		Model:     r.Model,
		TokensIn:  r.TokensIn,
		TokensOut: r.TokensOut,
		CostUSD:   r.EstimatedCostUSD,
		Metadata:  meta,
	}
}

func commandReply(text string) Reply {
	return Reply{Text: text, Provider: ProviderNone, Model: "command"}
}

// Deps are the collaborators of a Service.
type Deps struct {
	Config    *config.Holder
	Store     Store
	Ledger    *ledger.Ledger
	Jobs      *jobs.Queue
	Generator fallback.Generator
	Messenger telegram.Messenger
	Limiter   *ratelimit.Limiter
}

// Service processes inbound updates for every persona.
type Service struct {
	cfg     *config.Holder
	store   Store
	ledger  *ledger.Ledger
	jobs    *jobs.Queue
	gen     fallback.Generator
	out     telegram.Messenger
	limiter *ratelimit.Limiter

	focus    *ttlcache.Cache[types.ThreadID, Weights]
	cooldown *ttlcache.Cache[int64, bool]
	rounds   *ttlcache.Cache[int64, string]

	now func() time.Time
}

// New builds a Service. Call Start to run the cache janitors.
func New(d Deps) *Service {
	return &Service{
		cfg:      d.Config,
		store:    d.Store,
		ledger:   d.Ledger,
		jobs:     d.Jobs,
		gen:      d.Generator,
		out:      d.Messenger,
		limiter:  d.Limiter,
		focus:    ttlcache.New[types.ThreadID, Weights](focusTTL),
		cooldown: ttlcache.New[int64, bool](panelCooldown),
		rounds:   ttlcache.New[int64, string](roundKeyTTL),
		now:      time.Now,
	}
}

// Start runs background eviction for the in-process caches.
func (s *Service) Start(ctx context.Context) {
	s.focus.Start(ctx, time.Hour)
	s.cooldown.Start(ctx, time.Minute)
	s.rounds.Start(ctx, time.Hour)
}

// Stop ends background eviction.
func (s *Service) Stop() {
	s.focus.Stop()
	s.cooldown.Stop()
	s.rounds.Stop()
}

// inbound is the subset of a Telegram update the pipeline reads.
type inbound struct {
	updateID  int64
	messageID int
	text      string
	userID    int64
	chatID    int64
	chatType  string
	from      *tgbotapi.User
}

func parseInbound(update *tgbotapi.Update) (inbound, bool) {
	in := inbound{updateID: int64(update.UpdateID)}
	msg := update.Message
	if msg == nil {
		msg = update.EditedMessage
	}
	if msg == nil {
		return in, false
	}
	in.messageID = msg.MessageID
	in.text = strings.TrimSpace(msg.Text)
	in.from = msg.From
	if msg.From != nil {
		in.userID = msg.From.ID
	}
	if msg.Chat != nil {
		in.chatID = msg.Chat.ID
		in.chatType = msg.Chat.Type
	}
	return in, in.text != "" && in.userID != 0 && in.chatID != 0
}

// ProcessUpdate handles one update addressed to the persona id. Each
// (persona, update id) pair has side effects at most once.
func (s *Service) ProcessUpdate(ctx context.Context, id persona.ID, update *tgbotapi.Update, source string) (*types.ProcessResult, error) {
	cfg := s.cfg.Get()
	in, supported := parseInbound(update)
	route := Resolve(id, in.text)
	requested := route.Requested
	key := ledger.Key{Bot: requested, UpdateID: in.updateID}

	res := &types.ProcessResult{
		RequestedBotID: requested,
		EffectiveBotID: route.Effective,
		RoutedByTag:    route.RoutedByTag,
	}

	reservation, err := s.ledger.Reserve(ctx, key, ledger.Meta{Source: source, UserID: in.userID, ChatID: in.chatID})
	if err != nil {
		return nil, fmt.Errorf("reserve update: %w", err)
	}
	if !reservation.Reserved {
		res.Status = types.StatusDuplicate
		res.Duplicate = true
		return res, nil
	}

	finish := func(status types.UpdateStatus, reason string) (*types.ProcessResult, error) {
		res.Status = status
		res.Reason = reason
		if err := s.ledger.MarkStatus(ctx, key, status, reason); err != nil {
			slog.Error("mark update status failed", "persona", string(requested), "update_id", in.updateID, "error", err)
		}
		return res, nil
	}

	if !supported {
		return finish(types.StatusIgnored, "unsupported_update")
	}

	internal := isInternalBot(in.from, cfg)
	if internal && requested == persona.Tyler {
		return finish(types.StatusIgnored, "internal_bot_source")
	}
	isCommand := strings.HasPrefix(in.text, "/")
	if in.chatType != "private" && requested != persona.Tyler && !isCommand && !IsMentioned(in.text, cfg.Bot(requested).Username) {
		return finish(types.StatusIgnored, "group_not_mentioned")
	}
	if !cfg.IsAllowlisted(in.userID, in.chatID) && !(internal && cfg.ChatAllowed(in.chatID)) {
		return finish(types.StatusBlocked, "allowlist_blocked")
	}
	if !internal && s.limiter.Limited(in.userID, cfg.Assistant.RateLimitPerMin) {
		if _, err := s.out.Send(ctx, telegram.Outbound{Persona: requested, ChatID: in.chatID, Text: RateLimitReply, ReplyTo: in.messageID}); err != nil {
			slog.Warn("send rate limit notice failed", "persona", string(requested), "error", redact.Error(err))
		}
		return finish(types.StatusRateLimited, "")
	}

	thread := types.NewThreadID(requested, in.chatID)
	status, reply, err := s.respond(ctx, cfg, in, route, thread, source, res)
	if err != nil {
		errText := redact.Error(err)
		slog.Error("process update failed", "persona", string(requested), "update_id", in.updateID, "error", errText)
		s.appendMessage(ctx, &types.Message{
			BotID: requested, ThreadID: thread, UpdateID: in.updateID,
			Role: types.RoleAssistant, Content: FallbackReply,
			Provider: ProviderNone, Model: "error-fallback",
			Metadata: routeMeta(route, map[string]any{"error": errText}),
		})
		if _, err := s.out.Send(ctx, telegram.Outbound{Persona: requested, ChatID: in.chatID, Text: FallbackReply, ReplyTo: in.messageID}); err != nil {
			slog.Warn("send fallback reply failed", "persona", string(requested), "error", redact.Error(err))
		}
		return finish(types.StatusFailed, errText)
	}

	res.Provider = reply.Provider
	res.Model = reply.Model
	return finish(status, "")
}

// respond runs everything after admission: persistence, the command or
// free-text path, delivery and cost logging.
func (s *Service) respond(ctx context.Context, cfg *config.Config, in inbound, route Route, thread types.ThreadID, source string, res *types.ProcessResult) (types.UpdateStatus, Reply, error) {
	requested := route.Requested

	user := &types.User{
		UserID:   in.userID,
		ChatID:   in.chatID,
		Timezone: cfg.Assistant.Timezone,
	}
	if in.from != nil {
		user.Username = in.from.UserName
		user.FirstName = in.from.FirstName
		user.LanguageCode = in.from.LanguageCode
	}
	if err := s.store.UpsertUser(ctx, user); err != nil {
		return "", Reply{}, fmt.Errorf("upsert user: %w", err)
	}
	if err := s.store.TouchThread(ctx, &types.Thread{
		BotID:         requested,
		ThreadID:      thread,
		UserID:        in.userID,
		ChatID:        in.chatID,
		Locale:        user.LanguageCode,
		LastMessageAt: s.now(),
	}); err != nil {
		return "", Reply{}, fmt.Errorf("touch thread: %w", err)
	}

	history, err := s.store.RecentMessages(ctx, requested, thread, cfg.Assistant.HistoryWindowLocal)
	if err != nil {
		return "", Reply{}, fmt.Errorf("load history: %w", err)
	}
	if err := s.store.AppendMessage(ctx, &types.Message{
		BotID:    requested,
		ThreadID: thread,
		UpdateID: in.updateID,
		Role:     types.RoleUser,
		Content:  in.text,
		Provider: ProviderNone,
		Model:    "telegram",
		Metadata: routeMeta(route, map[string]any{"source": source}),
	}); err != nil {
		return "", Reply{}, fmt.Errorf("append user message: %w", err)
	}

	var (
		status = types.StatusProcessed
		reply  Reply
	)
	if strings.HasPrefix(in.text, "/") {
		cmd := NormalizeCommand(in.text)
		res.Command = cmd
		reply, err = s.command(ctx, cfg, commandInput{
			persona:  requested,
			command:  cmd,
			raw:      in.text,
			userID:   in.userID,
			thread:   thread,
			user:     user,
			now:      s.now(),
			timezone: user.Timezone,
		})
		if err != nil {
			return "", Reply{}, err
		}
		status = commandStatus(cmd)
	} else {
		status, reply, err = s.freeText(ctx, cfg, in, route, thread, source, user, history, res)
		if err != nil {
			return "", Reply{}, err
		}
	}

	if _, err := s.out.Send(ctx, telegram.Outbound{Persona: requested, ChatID: in.chatID, Text: reply.Text, ReplyTo: in.messageID}); err != nil {
		return "", Reply{}, fmt.Errorf("send reply: %w", err)
	}

	if err := s.store.AppendMessage(ctx, &types.Message{
		BotID:    requested,
		ThreadID: thread,
		UpdateID: in.updateID,
		Role:     types.RoleAssistant,
		Content:  reply.Text,
		Provider: reply.Provider,
		Model:    reply.Model,
		Metadata: routeMeta(route, reply.Metadata),
	}); err != nil {
		return "", Reply{}, fmt.Errorf("append assistant message: %w", err)
	}

	if reply.Provider != ProviderNone {
		s.logCost(ctx, route.Effective, reply, "chat")
	}
	return status, reply, nil
}

func (s *Service) freeText(ctx context.Context, cfg *config.Config, in inbound, route Route, thread types.ThreadID, source string, user *types.User, history []*types.Message, res *types.ProcessResult) (types.UpdateStatus, Reply, error) {
	requested, effective := route.Requested, route.Effective

	focusContext := ""
	if effective == persona.Tyler {
		focusContext = s.threadWeights(thread, history).Context()
	}
	structured := RequestsStructuredOutput(in.text)

	gate := jobs.GateConfig{
		WorkerSecret:   cfg.WorkerSecret(),
		CharsThreshold: cfg.LocalHeavy.CharsThreshold,
		TokenThreshold: cfg.LocalHeavy.TokenThreshold,
		EnabledBots:    cfg.LocalHeavy.EnableBots,
	}
	if jobs.ShouldQueueLocalHeavy(gate, effective, in.text, structured, in.chatType) {
		job, err := s.jobs.Enqueue(ctx, jobs.EnqueueInput{
			Persona:  effective,
			ChatID:   in.chatID,
			UserID:   in.userID,
			ThreadID: thread,
			Mode:     types.ModeLocalHeavy,
			Payload: types.JobPayload{
				TaskType:         types.TaskChatReply,
				Timezone:         user.Timezone,
				UserText:         in.text,
				History:          types.History(history),
				FocusContext:     focusContext,
				RequestedBotID:   requested,
				EffectiveBotID:   effective,
				OriginUpdateID:   in.updateID,
				ReplyToMessageID: in.messageID,
			},
		})
		switch {
		case err == nil:
			res.JobID = job.ID
			return types.StatusQueuedLocal, Reply{
				Text:     LocalQueueNotice + "\njob_id: " + string(job.ID),
				Provider: ProviderNone,
				Model:    "local-queued",
				Metadata: map[string]any{"localJobId": string(job.ID)},
			}, nil
		case !state.IsFeatureMissing(err):
			return "", Reply{}, fmt.Errorf("enqueue local job: %w", err)
		}
	}

	actionID, err := s.gateAction(ctx, in, effective, source)
	if err != nil {
		return "", Reply{}, err
	}

	prompt := in.text
	if focusContext != "" {
		prompt = focusContext + "\n\n" + prompt
	}
	if actionID != "" {
		prompt += "\n\n[시스템] 외부행동은 승인 전 실행 금지. action_id=" + string(actionID)
	}

	window := cfg.Assistant.HistoryWindowCloud
	cloudHistory := history[max(len(history)-window, 0):]
	result, err := s.gen.Generate(ctx, promptctx.Input{
		Persona:  effective,
		Timezone: user.Timezone,
		History:  types.History(cloudHistory),
		UserText: prompt,
	})
	if err != nil {
		return "", Reply{}, err
	}
	reply := replyFromResult(result)

	if effective == persona.Zhuge && !structured {
		reply.Text = FormatLens(reply.Text)
	}
	if actionID != "" {
		res.ActionID = actionID
		reply.Text += fmt.Sprintf("\n\n승인 필요: /approve %s\n거절: /reject %s", actionID, actionID)
		reply.Metadata["pendingActionId"] = string(actionID)
	}

	if in.chatType != "private" && requested == persona.Tyler {
		if roundKey, ok := s.armPanel(in.chatID, in.text); ok {
			reply.Text = PanelMessage(user.LanguageCode) + "\n\n" + reply.Text
			reply.Metadata["panelTriggered"] = true
			reply.Metadata["panelRoundKey"] = roundKey
			reply.Metadata["originUpdateId"] = in.updateID
		}
	}
	return types.StatusProcessed, reply, nil
}

// gateAction records a pending approval when text asks for an external
// action. A missing approvals table disables the gate.
func (s *Service) gateAction(ctx context.Context, in inbound, effective persona.ID, source string) (types.ActionID, error) {
	kind := DetectExternalAction(in.text)
	if kind == "" {
		return "", nil
	}
	now := s.now()
	a := &types.ActionApproval{
		ID:          types.NewActionID(),
		RequestedBy: effective,
		ActionType:  kind,
		Payload: map[string]any{
			"chatId":         in.chatID,
			"userId":         in.userID,
			"text":           in.text,
			"source":         source,
			"originUpdateId": in.updateID,
		},
		Status:    types.ApprovalPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateApproval(ctx, a); err != nil {
		if state.IsFeatureMissing(err) {
			return "", nil
		}
		return "", fmt.Errorf("create approval: %w", err)
	}
	return a.ID, nil
}

// armPanel decides whether a group message opens a panel round and, if
// so, arms the chat's cooldown and remembers the round key.
func (s *Service) armPanel(chatID int64, text string) (string, bool) {
	if !ShouldTriggerPanel(text) {
		return "", false
	}
	if _, active := s.cooldown.Get(chatID); active {
		return "", false
	}
	key := RoundKey(text)
	if prev, ok := s.rounds.Get(chatID); ok && prev == key {
		return "", false
	}
	s.cooldown.Set(chatID, true)
	s.rounds.Set(chatID, key)
	return key, true
}

func (s *Service) logCost(ctx context.Context, id persona.ID, r Reply, path string) {
	err := s.store.AppendCost(ctx, &types.CostEntry{
		BotID:            id,
		Provider:         r.Provider,
		Model:            r.Model,
		TokensIn:         r.TokensIn,
		TokensOut:        r.TokensOut,
		EstimatedCostUSD: r.CostUSD,
		Path:             path,
		CreatedAt:        s.now(),
	})
	if err != nil {
		slog.Warn("append cost log failed", "persona", string(id), "path", path, "error", redact.Error(err))
	}
}

func (s *Service) appendMessage(ctx context.Context, m *types.Message) {
	if err := s.store.AppendMessage(ctx, m); err != nil {
		slog.Warn("append message failed", "persona", string(m.BotID), "error", redact.Error(err))
	}
}

func routeMeta(r Route, extra map[string]any) map[string]any {
	meta := make(map[string]any, len(extra)+3)
	for k, v := range extra {
		meta[k] = v
	}
	meta["requestedBotId"] = string(r.Requested)
	meta["effectiveBotId"] = string(r.Effective)
	meta["routedByTag"] = r.RoutedByTag
	return meta
}

// isInternalBot reports whether from is one of the configured persona bots.
func isInternalBot(from *tgbotapi.User, cfg *config.Config) bool {
	if from == nil || !from.IsBot || from.UserName == "" {
		return false
	}
	for _, id := range persona.All() {
		if u := cfg.Bot(id).Username; u != "" && strings.EqualFold(strings.TrimPrefix(u, "@"), from.UserName) {
			return true
		}
	}
	return false
}
