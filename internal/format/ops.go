package format

import (
	"fmt"
	"strings"
	"time"

	"github.com/rarehotdog/pjt.mayhem/internal/persona"
)

// Gate restricts when a flow is allowed to fire.
type Gate int

const (
	GateNone Gate = iota
	// GateTargetHour fires once a day at a date-derived hour.
	GateTargetHour
	// GateFirstDay fires on the first local day of the month.
	GateFirstDay
	// GateLastDay fires on the last local day of the month.
	GateLastDay
)

// Flow describes one automated ops flow.
type Flow struct {
	ID      string
	Owner   persona.ID
	Title   string
	Cadence string
	Purpose string
	Task    string
	Shape   string
	Gate    Gate
	// Code is the slot code used to reserve gated runs in the ledger.
	Code int
	// DirectMessage routes delivery to the owner's DM chat with group fallback.
	DirectMessage bool
}

var flows = []Flow{
	{
		ID:      "market_3h",
		Owner:   persona.Zhuge,
		Title:   "시장/국제 뉴스 3시간 브리핑",
		Cadence: "every 3h",
		Purpose: "주식 시황 + 국제 이슈 + watchlist를 짧게 정리",
		Task:    "시황/국제 뉴스 브리핑",
		Shape:   "시장 2줄 + 국제이슈 2줄 + watchlist 2개 + 리스크 1줄",
	},
	{
		ID:      "gmat_mba_daily",
		Owner:   persona.Zhuge,
		Title:   "GMAT/MBA 이벤트 데일리",
		Cadence: "daily",
		Purpose: "시험/세션/지원 마감 체크와 일정 정리",
		Task:    "GMAT 및 MBA 세션/이벤트 체크",
		Shape:   "핵심 일정 3개 + 신청 필요 항목 1개 + '사용자 승인 필요' 명시",
	},
	{
		ID:      "finance_event_daily",
		Owner:   persona.Zhuge,
		Title:   "금융 지식/이벤트 데일리",
		Cadence: "daily",
		Purpose: "금융 개념 1개 + 새 이벤트 요약",
		Task:    "금융 지식/이벤트 데일리 카드",
		Shape:   "개념 1개 + 오늘 이벤트 2개 + 투자 유의 1줄",
	},
	{
		ID:      "world_knowledge_daily",
		Owner:   persona.Tyler,
		Title:   "World-Class 지식 카드",
		Cadence: "daily",
		Purpose: "리더십/전략/시스템 사고 핵심 전달",
		Task:    "세계 최고 수준 실행을 위한 지식 카드",
		Shape:   "원칙 1개 + 사례 1개 + 오늘 적용법 1개",
	},
	{
		ID:      "hv_cycle_5d",
		Owner:   persona.Hemingway,
		Title:   "헤픈인벨리 5일 발행 사이클",
		Cadence: "every 5 days",
		Purpose: "주제/훅/CTA와 발행 준비 상태 정리",
		Task:    "헤픈인벨리 5일 발행 준비",
		Shape:   "주제 1개 + 훅 1개 + CTA 1개 + 필요한 팩트체크 1개",
	},
	{
		ID:      "product_wbs_daily",
		Owner:   persona.Jensen,
		Title:   "AI 프로덕트 WBS 데일리",
		Cadence: "daily",
		Purpose: "Codex 작업 단위와 마감/DoD 정리",
		Task:    "AI 프로덕트 개발 WBS",
		Shape:   "오늘 Codex 작업 3개(각 DoD 포함) + 차단요인 1개",
	},
	{
		ID:      "cost_guard_daily",
		Owner:   persona.Corleone,
		Title:   "토큰 비용 가드 점검",
		Cadence: "twice daily",
		Purpose: "비용/호출량/중복 호출 리스크 점검",
		Task:    "비용 가드 점검",
		Shape:   "비용 리스크 2개 + 차단 룰 2개 + 경량모드 전환 조건 1개",
	},
	{
		ID:      "agent_retrospective_weekly",
		Owner:   persona.Corleone,
		Title:   "에이전트 자가개선 회고",
		Cadence: "weekly",
		Purpose: "주간 오작동/개선안 정리",
		Task:    "에이전트 자가개선 회고",
		Shape:   "이번주 문제 3개 + 개선 실험 2개 + 다음주 측정지표 1개",
	},
	{
		ID:            "interrupt_daily",
		Owner:         persona.Jensen,
		Title:         "BOLT 인터럽트 체크",
		Cadence:       "hourly, fires once at 11-20h",
		Purpose:       "진행 중인 작업을 끊고 15분 액션 강제",
		Task:          "실행 인터럽트",
		Shape:         "지금 진행 중인 작업 1개 + 15분 액션 1개 + 오늘 DoD 1줄",
		Gate:          GateTargetHour,
		Code:          1,
		DirectMessage: true,
	},
	{
		ID:      "monthly_kickoff",
		Owner:   persona.Tyler,
		Title:   "월간 킥오프",
		Cadence: "daily, fires on day 1",
		Purpose: "이번 달 목표와 미션 가중치 점검",
		Task:    "월간 킥오프",
		Shape:   "이번 달 목표 3개 + 미션 가중치 점검 + 첫 주 액션 2개",
		Gate:    GateFirstDay,
		Code:    2,
	},
	{
		ID:      "monthly_scorecard",
		Owner:   persona.Tyler,
		Title:   "월간 스코어카드",
		Cadence: "daily, fires on the last day",
		Purpose: "월간 목표 달성도 정리",
		Task:    "월간 스코어카드",
		Shape:   "목표별 달성도 + 잘된 점 2개 + 다음 달 조정 2개",
		Gate:    GateLastDay,
		Code:    3,
	},
}

// Flows returns the flow catalogue in display order.
func Flows() []Flow {
	out := make([]Flow, len(flows))
	copy(out, flows)
	return out
}

// LookupFlow finds a flow by id.
func LookupFlow(id string) (Flow, bool) {
	for _, f := range flows {
		if f.ID == id {
			return f, true
		}
	}
	return Flow{}, false
}

// OpsPrompt is the generation prompt for one run of flow.
func OpsPrompt(f Flow, now time.Time, loc *time.Location) string {
	p := Local(now, loc)
	return strings.Join([]string{
		"업무: " + f.Task,
		"형식: " + f.Shape,
		fmt.Sprintf("현재 실행 슬롯: %s %s", p.Stamp(), loc.String()),
		"출력 규칙:",
		"- 8줄 이내",
		"- FACT/ASSUMPTION/TODO-VERIFY 라벨 유지",
		"- 마지막 줄은 '다음 액션 1개'",
		"- 불확실한 최신 수치/뉴스는 단정 금지",
	}, "\n")
}

// OpsHeader is the first line of a delivered flow result.
func OpsHeader(f Flow, now time.Time, loc *time.Location) string {
	return fmt.Sprintf("🧠 %s (%s %s)", f.Title, Local(now, loc).Stamp(), loc.String())
}

// OpsStatusMessage lists the catalogue for the /ops command.
func OpsStatusMessage(languageCode string) string {
	lines := []string{"🤖 자동 운영 플로우", ""}
	for _, f := range flows {
		lines = append(lines, fmt.Sprintf("- %s: %s | owner=%s | cadence=%s",
			f.ID, f.Title, persona.DisplayName(f.Owner, languageCode), f.Cadence))
	}
	lines = append(lines, "", "실행 API: /telegram/ops/run/{flow} (mode=cloud|local_queue)")
	return strings.Join(lines, "\n")
}

// KickoffMessage is the /mayhem group meeting call. mention renders a
// persona as "@username" or its display name.
func KickoffMessage(now time.Time, loc *time.Location, mention func(persona.ID) string) string {
	return strings.Join([]string{
		fmt.Sprintf("🧩 MAYHEM 회의 시작 (%s %s)", Local(now, loc).Stamp(), loc.String()),
		mention(persona.Zhuge) + " : GMAT/MBA + 시장 핵심 업데이트 5줄",
		mention(persona.Jensen) + " : 오늘 실행 태스크 3개(DoD 포함)",
		mention(persona.Hemingway) + " : 발행 주제/훅/CTA 1세트",
		mention(persona.Corleone) + " : 비용/리스크 경고 2개 + 차단안 1개",
		"Tyler.Durden이 최종 결정 1개 + 액션 3개로 마감합니다.",
	}, "\n")
}
