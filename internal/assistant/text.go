package assistant

import (
	"strings"
	"unicode/utf8"
)

// NormalizeCommand returns the lowercased first token without an @bot
// suffix.
func NormalizeCommand(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	cmd := strings.ToLower(fields[0])
	if i := strings.Index(cmd, "@"); i >= 0 {
		cmd = cmd[:i]
	}
	return cmd
}

// CommandArgument returns everything after the first token.
func CommandArgument(text string) string {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return ""
	}
	return strings.Join(fields[1:], " ")
}

var structuredMarkers = []string{"json", "yaml", "xml", "csv", "코드블록", "```"}

// RequestsStructuredOutput reports whether the user asked for a machine
// format.
func RequestsStructuredOutput(text string) bool {
	return containsAny(strings.ToLower(text), structuredMarkers)
}

var actionKeywords = []struct {
	kind     string
	keywords []string
}{
	{"event_apply", []string{"신청", "apply", "등록"}},
	{"payment", []string{"결제", "pay", "구매"}},
	{"publish", []string{"발행", "publish", "업로드"}},
}

// DetectExternalAction returns the action type a message asks for, or ""
// when it asks for none.
func DetectExternalAction(text string) string {
	lower := strings.ToLower(text)
	for _, a := range actionKeywords {
		if containsAny(lower, a.keywords) {
			return a.kind
		}
	}
	return ""
}

var panelBuckets = [][]string{
	{"분석", "근거", "리서치", "lens", "facts"},
	{"실행", "마감", "task", "bolt", "next", "done"},
	{"콘텐츠", "스레드", "발행", "ink", "바이럴"},
	{"리스크", "검증", "qa", "check", "sentry"},
}

// ShouldTriggerPanel reports whether text spans at least two panel
// keyword buckets.
func ShouldTriggerPanel(text string) bool {
	lower := strings.ToLower(text)
	score := 0
	for _, bucket := range panelBuckets {
		if containsAny(lower, bucket) {
			score++
		}
	}
	return score >= 2
}

// RoundKey identifies a panel round: lowercased, whitespace collapsed, at
// most 140 runes.
func RoundKey(text string) string {
	key := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	if utf8.RuneCountInString(key) > 140 {
		key = string([]rune(key)[:140])
	}
	return key
}

// IsMentioned reports whether text contains @username, case-insensitively.
func IsMentioned(text, username string) bool {
	if username == "" {
		return false
	}
	return strings.Contains(strings.ToLower(text), "@"+strings.ToLower(username))
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
