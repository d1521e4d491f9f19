package assistant

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rarehotdog/pjt.mayhem/internal/config"
	promptctx "github.com/rarehotdog/pjt.mayhem/internal/context"
	"github.com/rarehotdog/pjt.mayhem/internal/format"
	"github.com/rarehotdog/pjt.mayhem/internal/persona"
	"github.com/rarehotdog/pjt.mayhem/internal/redact"
	"github.com/rarehotdog/pjt.mayhem/internal/state"
	"github.com/rarehotdog/pjt.mayhem/internal/types"
)

const (
	briefingMaxTokens   = 900
	briefingTemperature = 0.2
)

type commandInput struct {
	persona  persona.ID
	command  string
	raw      string
	userID   int64
	thread   types.ThreadID
	user     *types.User
	now      time.Time
	timezone string
}

// commandStatus maps a command to the ledger status it finishes with.
func commandStatus(cmd string) types.UpdateStatus {
	switch cmd {
	case "/pause":
		return types.StatusPaused
	case "/resume":
		return types.StatusResumed
	case "/approve":
		return types.StatusApproved
	case "/reject":
		return types.StatusRejected
	}
	return types.StatusProcessed
}

func (s *Service) command(ctx context.Context, cfg *config.Config, in commandInput) (Reply, error) {
	lang := in.user.LanguageCode
	switch in.command {
	case "/start":
		if err := s.store.SetRemindersPaused(ctx, in.userID, false); err != nil {
			return Reply{}, fmt.Errorf("resume reminders: %w", err)
		}
		return commandReply(StartMessage(in.persona, in.user.FirstName, lang)), nil

	case "/help":
		return commandReply(HelpMessage(lang)), nil

	case "/pause":
		if err := s.store.SetRemindersPaused(ctx, in.userID, true); err != nil {
			return Reply{}, fmt.Errorf("pause reminders: %w", err)
		}
		return commandReply("자동 리마인드를 중지했습니다. 계속 대화는 가능해요. 다시 켜려면 /resume 을 입력하세요."), nil

	case "/resume":
		if err := s.store.SetRemindersPaused(ctx, in.userID, false); err != nil {
			return Reply{}, fmt.Errorf("resume reminders: %w", err)
		}
		return commandReply("자동 리마인드를 다시 시작했습니다. 아침/저녁 리마인드를 보내드릴게요."), nil

	case "/summary":
		return s.summary(ctx, in)

	case "/daily":
		return s.Briefing(ctx, in.persona, types.MorningPlan, in.timezone), nil

	case "/review":
		return s.Briefing(ctx, in.persona, types.EveningReview, in.timezone), nil

	case "/focus":
		return s.focusCommand(in), nil

	case "/panel":
		return commandReply(PanelMessage(lang)), nil

	case "/check":
		return commandReply(CheckMessage(lang)), nil

	case "/cost":
		summary, err := s.store.CostSummary(ctx, in.now.Add(-24*time.Hour))
		if err != nil {
			summary = nil
		}
		caps := CostCaps{CostUSD: cfg.Assistant.DailyCostCapUSD, Tokens: cfg.Assistant.DailyTokenCap}
		return commandReply(CostMessage(summary, caps, lang)), nil

	case "/approve":
		return s.decide(ctx, in, types.ApprovalApproved)

	case "/reject":
		return s.decide(ctx, in, types.ApprovalRejected)

	case "/ops":
		return commandReply(format.OpsStatusMessage(lang)), nil

	case "/mayhem":
		loc := cfg.Location()
		mention := func(id persona.ID) string {
			if u := strings.TrimPrefix(cfg.Bot(id).Username, "@"); u != "" {
				return "@" + u
			}
			return persona.DisplayName(id, lang)
		}
		return commandReply(format.KickoffMessage(in.now, loc, mention)), nil
	}
	return commandReply("알 수 없는 명령어입니다.\n\n" + HelpMessage(lang)), nil
}

func (s *Service) summary(ctx context.Context, in commandInput) (Reply, error) {
	history, err := s.store.RecentMessages(ctx, in.persona, in.thread, summaryWindow)
	if err != nil {
		return Reply{}, fmt.Errorf("load summary history: %w", err)
	}
	if len(history) == 0 {
		return commandReply("아직 요약할 대화가 없습니다. 먼저 메시지를 보내주세요."), nil
	}

	result, err := s.gen.Summarize(ctx, types.History(history), in.timezone)
	if err != nil {
		return Reply{
			Text:     summaryFallback(history),
			Provider: ProviderNone,
			Model:    "fallback-summary",
			Metadata: map[string]any{"error": redact.Error(err)},
		}, nil
	}
	if err := s.store.UpdateThreadSummary(ctx, in.persona, in.thread, result.Text); err != nil {
		return Reply{}, fmt.Errorf("update thread summary: %w", err)
	}
	return replyFromResult(result), nil
}

func (s *Service) focusCommand(in commandInput) Reply {
	arg := CommandArgument(in.raw)
	if arg == "" {
		return commandReply(strings.Join([]string{
			"현재 Focus Weights",
			s.threadWeights(in.thread, nil).String(),
			"",
			"사용법: /focus M1:35 M2:15 M4:15 Mx:15 M3:10 M5:10",
			"입력 값은 합계 100으로 자동 정규화됩니다.",
		}, "\n"))
	}
	w, ok := ParseWeights(arg)
	if !ok {
		return commandReply("형식 오류입니다. 예: /focus M1:50 M2:20 M4:15 Mx:10 M3:3 M5:2")
	}
	s.focus.Set(in.thread, w)
	return commandReply(strings.Join([]string{
		"Focus Weights 업데이트 완료",
		w.String(),
		"이 스레드의 다음 응답부터 해당 가중치를 컨텍스트에 반영합니다.",
	}, "\n"))
}

// decide approves or rejects a pending external action.
func (s *Service) decide(ctx context.Context, in commandInput, status types.ApprovalStatus) (Reply, error) {
	id := types.ActionID(CommandArgument(in.raw))
	if id == "" {
		return commandReply("사용법: " + in.command + " <action_id>"), nil
	}

	if _, err := s.store.GetApproval(ctx, id); err != nil {
		switch {
		case state.IsFeatureMissing(err):
			return commandReply("승인 게이트 테이블이 아직 준비되지 않았습니다. 마이그레이션 후 다시 시도해 주세요."), nil
		case errors.Is(err, state.ErrNotFound):
			return commandReply("해당 action_id를 찾지 못했습니다: " + string(id)), nil
		}
		return Reply{}, fmt.Errorf("get approval: %w", err)
	}

	if _, err := s.store.UpdateApproval(ctx, id, status, strconv.FormatInt(in.userID, 10), nil, in.now); err != nil {
		return Reply{}, fmt.Errorf("update approval: %w", err)
	}
	if status == types.ApprovalApproved {
		return commandReply(fmt.Sprintf("승인 완료: %s\n이제 실행 단계로 진행할 수 있습니다.", id)), nil
	}
	return commandReply(fmt.Sprintf("거절 완료: %s\n승인 대기열에서 제외했습니다.", id)), nil
}

// Briefing generates a compact morning or evening briefing for persona id.
// Generation failures yield the static fallback template with provider
// "none".
func (s *Service) Briefing(ctx context.Context, id persona.ID, kind types.ReminderKind, timezone string) Reply {
	count := format.NewsCount(s.cfg.Get().Assistant.NewsDefaultCount)
	result, err := s.gen.Generate(ctx, promptctx.Input{
		Persona:     id,
		Timezone:    timezone,
		UserText:    format.BriefingPrompt(kind, s.now(), timezone, count),
		MaxTokens:   briefingMaxTokens,
		Temperature: briefingTemperature,
	})
	if err != nil {
		return Reply{
			Text:     format.BriefingFallback(kind, count),
			Provider: ProviderNone,
			Model:    "briefing-fallback",
			Metadata: map[string]any{"error": redact.Error(err)},
		}
	}
	return replyFromResult(result)
}

// LogCost records a generation under an explicit cost path. Replies that
// no provider produced are skipped.
func (s *Service) LogCost(ctx context.Context, id persona.ID, r Reply, path string) {
	if r.Provider == "" || r.Provider == ProviderNone {
		return
	}
	s.logCost(ctx, id, r, path)
}

// Compose generates a reply outside the update pipeline, for batch flows
// and worker fallbacks.
func (s *Service) Compose(ctx context.Context, in promptctx.Input) (Reply, error) {
	result, err := s.gen.Generate(ctx, in)
	if err != nil {
		return Reply{}, err
	}
	return replyFromResult(result), nil
}
