package format

import (
	"fmt"
	"strings"
	"time"

	"github.com/rarehotdog/pjt.mayhem/internal/types"
)

const DefaultNewsCount = 5

// NewsCount returns count, or the default when it is not positive.
func NewsCount(count int) int {
	if count < 1 {
		return DefaultNewsCount
	}
	return count
}

// BriefingTemplate is the fixed section layout a briefing must follow.
func BriefingTemplate(count int) string {
	count = NewsCount(count)

	blocks := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		blocks = append(blocks, strings.Join([]string{
			fmt.Sprintf("✅ 뉴스 %d 제목 / 출처 (중요도: ★★★★☆)", i),
			"• 주요 내용 1",
			"• 주요 내용 2",
			"• 주요 내용 3",
		}, "\n"))
	}

	lines := []string{
		"## 🧩 뉴스 블록",
		fmt.Sprintf("- 구성: 국내+해외 혼합, 총 %d개", count),
		"",
		strings.Join(blocks, "\n\n"),
		"",
		"---",
		"",
		"## 📊 종합 데이터 분석 요약",
		"",
	}
	for i := 1; i <= 3; i++ {
		lines = append(lines, fmt.Sprintf("%d. 요약 %d", i, i), "- 근거 1", "- 근거 2", "")
	}
	for i := 1; i <= 2; i++ {
		lines = append(lines, fmt.Sprintf("전망 %d", i), "- 근거 1", "- 근거 2", "- 근거 3", "")
	}
	lines = append(lines, "종합 정리", "- 3줄 이내 결론", "- 내일 체크포인트 1줄")
	return strings.Join(lines, "\n")
}

// ImportanceRules explains the star rating scale.
func ImportanceRules() string {
	return strings.Join([]string{
		"중요도(★) 내부 기준:",
		"- ★★★★★: 지수/금리/환율/정책/빅테크 실적 등 즉시 시장 방향",
		"- ★★★★☆: 섹터 방향성/대형 이벤트 예고/수급 급변 유발",
		"- ★★★☆☆: 개별 종목·산업 이슈(파급 제한적)",
		"- ★★☆☆☆: 참고용(배경/해설)",
		"- ★☆☆☆☆: 단신(가급적 제외)",
	}, "\n")
}

type briefingSpec struct {
	title string
	focus []string
}

var briefings = map[types.ReminderKind]briefingSpec{
	types.MorningPlan: {
		title: "모닝 브리핑 (/daily)",
		focus: []string{
			"개장 전/장중 핵심 이슈와 타임센서티브 이벤트",
			"국내+해외 리스크온/오프 신호",
			"당일 체크해야 할 금리/환율/원자재 포인트",
		},
	},
	types.EveningReview: {
		title: "이브닝 리뷰 (/review)",
		focus: []string{
			"마감 후 핵심 이벤트와 다음 거래일 갭 리스크",
			"정책/실적/지정학 헤드라인의 시장 영향",
			"다음 날 우선 추적할 체크포인트",
		},
	},
}

// BriefingPrompt asks for exactly count news items mixing domestic and
// global sources, in the fixed template order.
func BriefingPrompt(kind types.ReminderKind, now time.Time, timezone string, count int) string {
	b, ok := briefings[kind]
	if !ok {
		b = briefings[types.MorningPlan]
	}
	count = NewsCount(count)

	lines := []string{
		"작업: " + b.title,
		fmt.Sprintf("기준시각: %s (%s)", now.UTC().Format("2006-01-02T15:04:05.000Z"), timezone),
		"언어: 한국어",
		fmt.Sprintf("뉴스 개수: 정확히 %d개", count),
		"필수 규칙:",
		"- 국내+해외 뉴스를 반드시 혼합",
		"- 각 뉴스는 중요도 별표(★) 포함",
		"- 각 뉴스 블록은 제목/출처 + 주요 내용 3개 불릿",
		"- 마지막은 종합 데이터 분석 요약 포맷 고정",
		"- 종합 정리는 3줄 이내 결론 + 내일 체크포인트 1줄",
		"- 최신 수치가 불명확하면 TODO-VERIFY로 명시",
		"",
		"포커스:",
	}
	for _, f := range b.focus {
		lines = append(lines, "- "+f)
	}
	lines = append(lines,
		"",
		ImportanceRules(),
		"",
		"아래 템플릿 구조를 그대로 사용해서 결과를 작성:",
		BriefingTemplate(count),
	)
	return strings.Join(lines, "\n")
}

// BriefingFallbackNotice is the one-line apology for a failed briefing.
func BriefingFallbackNotice(kind types.ReminderKind) string {
	if kind == types.MorningPlan {
		return "모닝 브리핑 생성이 지연되었습니다. 오늘 핵심 이슈 1개와 첫 실행 행동 1개를 먼저 정해 주세요."
	}
	return "이브닝 리뷰 생성이 지연되었습니다. 오늘 리스크 1개와 내일 체크포인트 1개를 먼저 정리해 주세요."
}

// BriefingFallback is sent instead of a generated briefing.
func BriefingFallback(kind types.ReminderKind, count int) string {
	return "⚠️ " + BriefingFallbackNotice(kind) + "\n\n" + BriefingTemplate(count)
}
