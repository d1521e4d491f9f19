package assistant

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rarehotdog/pjt.mayhem/internal/format"
	"github.com/rarehotdog/pjt.mayhem/internal/persona"
	"github.com/rarehotdog/pjt.mayhem/internal/types"
)

const (
	FallbackReply    = "지금 응답 생성에 문제가 있어요. 잠시 후 다시 질문해 주세요. 원하시면 핵심 질문 1개만 짧게 보내주시면 우선순위부터 정리해드릴게요."
	LocalQueueNotice = "이 요청은 로컬 고성능 워커로 넘겨 처리합니다. 완료되면 같은 방에 결과를 이어서 보낼게요."
	RateLimitReply   = "요청이 너무 빠르게 들어오고 있어요. 잠시 후 다시 시도해 주세요."
	// LocalFailureBanner precedes a cloud answer that replaced a failed
	// local worker job.
	LocalFailureBanner = "⚠️ 로컬 워커 실패로 클라우드 백업 응답으로 전환했습니다."
)

var commandLines = []string{
	"/start - 비서 시작 및 안내",
	"/help - 명령어 보기",
	"/pause - 자동 리마인드 중지",
	"/resume - 자동 리마인드 재개",
	"/summary - 최근 대화 요약",
	"/daily - 모닝 브리핑",
	"/review - 이브닝 리뷰",
	"/focus - 미션 가중치 설정/조회",
	"/panel - 자동 회의 모드 안내",
	"/check - SENTRY 점검",
	"/cost - 비용 상태 요약",
	"/ops - 자동 운영 플로우 상태",
	"/mayhem - 단체 회의 소집 메시지",
	"/approve <id> - 외부행동 승인",
	"/reject <id> - 외부행동 거절",
}

// HelpMessage lists commands and the persona team.
func HelpMessage(lang string) string {
	lines := []string{"사용 가능한 명령어"}
	lines = append(lines, commandLines...)
	lines = append(lines, "", "현재 5봇 팀")
	lines = append(lines, persona.TeamLines(lang)...)
	return strings.Join(lines, "\n")
}

// StartMessage greets the user on /start.
func StartMessage(id persona.ID, firstName, lang string) string {
	prefix := "안녕하세요,"
	if firstName != "" {
		prefix = firstName + "님,"
	}
	return strings.Join([]string{
		fmt.Sprintf("%s %s 연결이 완료되었습니다.", prefix, persona.DisplayName(id, lang)),
		"메시지를 보내면 OpenAI 우선, Claude 백업으로 답변합니다.",
		"리마인드는 기본 하루 2회(아침/저녁)로 동작합니다.",
		"",
		HelpMessage(lang),
	}, "\n")
}

// PanelMessage is the group meeting banner.
func PanelMessage(lang string) string {
	speakers := []string{
		persona.DisplayName(persona.Zhuge, lang),
		persona.DisplayName(persona.Jensen, lang),
		persona.DisplayName(persona.Hemingway, lang),
		persona.DisplayName(persona.Corleone, lang),
	}
	return strings.Join([]string{
		"🎤 자동 회의 모드",
		persona.DisplayName(persona.Tyler, lang) + "가 기본 의장을 맡고, 필요 시 최대 3봇까지 발화합니다.",
		"참여 후보: " + strings.Join(speakers, " / "),
		"그룹방 자동 회의는 90초 쿨다운이 적용됩니다.",
	}, "\n")
}

// CheckMessage is the /check checklist.
func CheckMessage(lang string) string {
	return strings.Join([]string{
		"🛡️ " + persona.DisplayName(persona.Corleone, lang) + " 점검",
		"- FACT/ASSUMPTION/TODO-VERIFY 라벨 확인",
		"- 과장/환각/보안 리스크 점검",
		"- 비용 게이트 통과 여부 점검",
	}, "\n")
}

// CostCaps are the daily limits /cost compares against.
type CostCaps struct {
	CostUSD float64
	Tokens  int
}

// CostMessage renders the last-24h cost summary. A nil summary means the
// cost table is not available.
func CostMessage(summary *types.CostSummary, caps CostCaps, lang string) string {
	sentry := persona.DisplayName(persona.Corleone, lang)
	if summary == nil {
		return strings.Join([]string{
			"💸 " + sentry + " 비용 요약",
			"비용 로그 테이블이 아직 준비되지 않아 집계를 표시할 수 없습니다.",
			"마이그레이션 적용 후 다시 /cost 를 실행해 주세요.",
		}, "\n")
	}

	status := "✅ 정상"
	if summary.TotalCostUSD >= caps.CostUSD || summary.TotalTokens >= caps.Tokens {
		status = "⚠️ 경량 모드 권장"
	}
	lines := []string{
		"💸 " + sentry + " 비용 요약 (최근 24h)",
		fmt.Sprintf("총 비용: $%.4f / cap $%.2f", summary.TotalCostUSD, caps.CostUSD),
		fmt.Sprintf("총 토큰: %s / cap %s", thousands(summary.TotalTokens), thousands(caps.Tokens)),
		"상태: " + status,
	}
	if len(summary.ByBot) == 0 {
		return strings.Join(append(lines, "아직 비용 로그가 없습니다."), "\n")
	}
	lines = append(lines, "봇별 상위 사용량:")
	for _, b := range summary.ByBot[:min(len(summary.ByBot), 3)] {
		lines = append(lines, fmt.Sprintf("- %s: $%.4f / %s tokens (%d calls)",
			persona.DisplayName(b.BotID, lang), b.CostUSD, thousands(b.Tokens), b.Calls))
	}
	return strings.Join(lines, "\n")
}

func thousands(n int) string {
	s := strconv.Itoa(n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

func summaryFallback(history []*types.Message) string {
	lines := []string{"요약 생성이 지연되어 최근 대화 핵심만 먼저 전달드려요."}
	start := max(len(history)-5, 0)
	for i, m := range history[start:] {
		lines = append(lines, fmt.Sprintf("%d. %s: %s", i+1, m.Role, format.Truncate(m.Content, 48)))
	}
	lines = append(lines, "다음 행동 1가지를 지정하면 더 정확한 계획으로 이어갈 수 있어요.")
	return strings.Join(lines, "\n")
}
