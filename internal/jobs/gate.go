package jobs

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/rarehotdog/pjt.mayhem/internal/persona"
)

// GateConfig holds the heavy-task thresholds.
type GateConfig struct {
	WorkerSecret   string
	CharsThreshold int
	TokenThreshold int
	EnabledBots    []persona.ID
}

var heavyKeywords = []string{
	"blog",
	"article",
	"deep research",
	"deep dive",
	"블로그",
	"아티클",
	"딥다이브",
	"장문",
	"긴 글",
	"리서치",
	"콘텐츠",
	"콘텐츠 작성",
	"시장 분석",
	"분석 리포트",
	"스레드",
	"스레드 작성",
	"팩트체크",
}

// ShouldQueueLocalHeavy decides whether a private-chat request goes to the
// local worker instead of an inline cloud reply.
func ShouldQueueLocalHeavy(cfg GateConfig, id persona.ID, text string, structured bool, chatType string) bool {
	if cfg.WorkerSecret == "" || chatType != "private" || structured {
		return false
	}
	enabled := false
	for _, b := range cfg.EnabledBots {
		if b == persona.Normalize(string(id)) {
			enabled = true
			break
		}
	}
	if !enabled {
		return false
	}

	if utf8.RuneCountInString(text) >= cfg.CharsThreshold {
		return true
	}
	if EstimateTokens(text) >= cfg.TokenThreshold {
		return true
	}
	lower := strings.ToLower(text)
	for _, kw := range heavyKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// EstimateTokens is a cheap token guess: the larger of words*1.3 and
// chars/2, rounded up.
func EstimateTokens(text string) int {
	compact := strings.TrimSpace(text)
	if compact == "" {
		return 0
	}
	byWords := float64(len(strings.Fields(compact))) * 1.3
	byChars := float64(utf8.RuneCountInString(compact)) / 2
	return int(math.Ceil(math.Max(byWords, byChars)))
}
