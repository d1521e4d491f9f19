// Package format builds the fixed-structure texts the assistant sends:
// briefings, reminders, ops flow prompts and status messages.
package format

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rarehotdog/pjt.mayhem/internal/types"
)

// LocalParts is a wall-clock reading in a given zone.
type LocalParts struct {
	Year    int
	Month   int
	Day     int
	Hour    int
	Minute  int
	Second  int
	DateKey string
}

// Local converts t into loc.
func Local(t time.Time, loc *time.Location) LocalParts {
	if loc == nil {
		loc = time.UTC
	}
	l := t.In(loc)
	return LocalParts{
		Year:    l.Year(),
		Month:   int(l.Month()),
		Day:     l.Day(),
		Hour:    l.Hour(),
		Minute:  l.Minute(),
		Second:  l.Second(),
		DateKey: l.Format("2006-01-02"),
	}
}

// Stamp renders "YYYY-MM-DD HH:MM".
func (p LocalParts) Stamp() string {
	return fmt.Sprintf("%s %02d:%02d", p.DateKey, p.Hour, p.Minute)
}

// KindByHour picks the reminder kind for a local hour.
func KindByHour(hour int) types.ReminderKind {
	if hour >= 15 {
		return types.EveningReview
	}
	return types.MorningPlan
}

// ReminderMessage is the per-user text sent when no shared briefing could be
// generated.
func ReminderMessage(kind types.ReminderKind, firstName string) string {
	prefix := "안녕하세요,"
	if firstName != "" {
		prefix = firstName + "님,"
	}
	if kind == types.MorningPlan {
		return prefix + " 좋은 아침입니다. 오늘 가장 중요한 1가지와 첫 실행 시간을 정해보세요. 필요하면 지금 바로 계획을 같이 정리해드릴게요."
	}
	return prefix + " 오늘 하루를 짧게 정리해볼까요? 잘한 1가지, 아쉬운 1가지, 내일 첫 행동 1가지를 보내주시면 회고를 도와드릴게요."
}

// Truncate shortens text to max runes, ending with an ellipsis when cut.
func Truncate(text string, max int) string {
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	return string(runes[:max-1]) + "…"
}
