package context

import (
	"strings"
	"text/template"
)

// systemTemplate renders the shared system prompt. Fields: .Role, .Timezone.
const systemTemplate = `{{.Role}}
당신은 개인용 자동 AI 비서입니다.
기본 언어는 한국어이며, 간결하고 실행 가능한 답변을 제공합니다.
과장, 단정, 의료/법률/투자 확정 표현을 피합니다.
필요하면 질문 1개로 맥락을 보완하고 바로 실행 가능한 다음 행동을 제안합니다.
기준 시간대: {{.Timezone}}`

var systemPrompt = template.Must(template.New("system").Parse(systemTemplate))

type promptData struct {
	Role     string
	Timezone string
}

func renderSystem(role, timezone string) string {
	var b strings.Builder
	if err := systemPrompt.Execute(&b, promptData{Role: role, Timezone: timezone}); err != nil {
		return role
	}
	return b.String()
}

// SummaryPrompt asks for the fixed five-line conversation summary.
const SummaryPrompt = `아래 최근 대화를 5줄 이내로 요약해줘.
형식:
1) 핵심 목표
2) 진행 상태
3) 막힌 지점
4) 다음 행동 1개
5) 오늘 리마인드 문장 1개`
