package format

import (
	"strings"
	"testing"
	"time"

	"github.com/rarehotdog/pjt.mayhem/internal/persona"
	"github.com/rarehotdog/pjt.mayhem/internal/types"
)

func seoul(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	return loc
}

func TestLocal(t *testing.T) {
	loc := seoul(t)
	now := time.Date(2026, 3, 31, 23, 5, 0, 0, time.UTC)
	p := Local(now, loc)
	if p.DateKey != "2026-04-01" || p.Hour != 8 || p.Minute != 5 {
		t.Errorf("unexpected parts: %+v", p)
	}
	if got := p.Stamp(); got != "2026-04-01 08:05" {
		t.Errorf("Stamp() = %q", got)
	}
}

func TestKindByHour(t *testing.T) {
	tests := []struct {
		hour int
		want types.ReminderKind
	}{
		{0, types.MorningPlan},
		{14, types.MorningPlan},
		{15, types.EveningReview},
		{23, types.EveningReview},
	}
	for _, tt := range tests {
		if got := KindByHour(tt.hour); got != tt.want {
			t.Errorf("KindByHour(%d) = %s, want %s", tt.hour, got, tt.want)
		}
	}
}

func TestReminderMessage(t *testing.T) {
	if got := ReminderMessage(types.MorningPlan, "민수"); !strings.HasPrefix(got, "민수님, 좋은 아침입니다.") {
		t.Errorf("unexpected morning text: %q", got)
	}
	if got := ReminderMessage(types.EveningReview, ""); !strings.HasPrefix(got, "안녕하세요, 오늘 하루를") {
		t.Errorf("unexpected evening text: %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 48); got != "short" {
		t.Errorf("Truncate short = %q", got)
	}
	if got := Truncate("가나다라마바", 4); got != "가나다…" {
		t.Errorf("Truncate = %q", got)
	}
}

func TestBriefingPrompt(t *testing.T) {
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	prompt := BriefingPrompt(types.MorningPlan, now, "Asia/Seoul", 7)

	for _, want := range []string{
		"작업: 모닝 브리핑 (/daily)",
		"뉴스 개수: 정확히 7개",
		"- 국내+해외 뉴스를 반드시 혼합",
		"✅ 뉴스 7 제목 / 출처",
		"## 📊 종합 데이터 분석 요약",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(prompt, "✅ 뉴스 8 ") {
		t.Error("prompt has more news blocks than requested")
	}

	blocks := strings.Index(prompt, "## 🧩 뉴스 블록")
	summary := strings.Index(prompt, "## 📊 종합 데이터 분석 요약")
	if blocks < 0 || summary < blocks {
		t.Error("template sections out of order")
	}
}

func TestBriefingFallback(t *testing.T) {
	got := BriefingFallback(types.EveningReview, 0)
	if !strings.HasPrefix(got, "⚠️ 이브닝 리뷰 생성이 지연되었습니다.") {
		t.Errorf("unexpected fallback head: %q", got[:40])
	}
	if !strings.Contains(got, "총 5개") {
		t.Error("expected default news count in template")
	}
}

func TestFlows(t *testing.T) {
	all := Flows()
	if len(all) != 11 {
		t.Fatalf("expected 11 flows, got %d", len(all))
	}
	codes := map[int]string{}
	for _, f := range all {
		if !persona.IsValid(string(f.Owner)) {
			t.Errorf("flow %s has unknown owner %q", f.ID, f.Owner)
		}
		if f.Gate == GateNone {
			continue
		}
		if prev, dup := codes[f.Code]; dup {
			t.Errorf("flows %s and %s share code %d", prev, f.ID, f.Code)
		}
		codes[f.Code] = f.ID
	}

	f, ok := LookupFlow("interrupt_daily")
	if !ok || f.Gate != GateTargetHour || !f.DirectMessage || f.Owner != persona.Jensen {
		t.Errorf("unexpected interrupt flow: %+v", f)
	}
	if _, ok := LookupFlow("nope"); ok {
		t.Error("expected unknown flow")
	}
}

func TestOpsPromptAndHeader(t *testing.T) {
	loc := seoul(t)
	now := time.Date(2026, 5, 10, 0, 30, 0, 0, time.UTC)
	f, _ := LookupFlow("market_3h")

	prompt := OpsPrompt(f, now, loc)
	if !strings.HasPrefix(prompt, "업무: 시황/국제 뉴스 브리핑\n형식: ") {
		t.Errorf("unexpected prompt head: %q", prompt)
	}
	if !strings.Contains(prompt, "현재 실행 슬롯: 2026-05-10 09:30 Asia/Seoul") {
		t.Errorf("prompt missing slot line: %q", prompt)
	}

	header := OpsHeader(f, now, loc)
	if header != "🧠 시장/국제 뉴스 3시간 브리핑 (2026-05-10 09:30 Asia/Seoul)" {
		t.Errorf("OpsHeader() = %q", header)
	}
}

func TestKickoffMessage(t *testing.T) {
	mention := func(id persona.ID) string {
		if id == persona.Zhuge {
			return "@lens_bot"
		}
		return persona.DisplayName(id, "ko")
	}
	got := KickoffMessage(time.Now(), time.UTC, mention)
	lines := strings.Split(got, "\n")
	if len(lines) != 6 {
		t.Fatalf("expected 6 lines, got %d", len(lines))
	}
	if !strings.HasPrefix(lines[1], "@lens_bot : ") {
		t.Errorf("expected username mention, got %q", lines[1])
	}
	if !strings.HasPrefix(lines[4], "Michael Corleone : ") {
		t.Errorf("expected display name, got %q", lines[4])
	}
}

func TestOpsStatusMessage(t *testing.T) {
	got := OpsStatusMessage("ko")
	if !strings.Contains(got, "- cost_guard_daily: 토큰 비용 가드 점검 | owner=Michael Corleone | cadence=twice daily") {
		t.Errorf("status message missing flow line:\n%s", got)
	}
}
