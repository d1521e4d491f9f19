package scheduler

import (
	"hash/fnv"
	"time"

	"github.com/rarehotdog/pjt.mayhem/internal/format"
)

const (
	windowStartHour = 11
	windowHours     = 10
)

// TargetHour is the local hour a target-hour flow fires on dateKey. It is
// stable for a date and falls in [11, 20].
func TargetHour(dateKey string) int {
	h := fnv.New32a()
	h.Write([]byte(dateKey))
	return windowStartHour + int(h.Sum32()%windowHours)
}

// IsFirstDay reports whether now is the first local day of its month.
func IsFirstDay(now time.Time, loc *time.Location) bool {
	return format.Local(now, loc).Day == 1
}

// IsLastDay reports whether now is the last local day of its month.
func IsLastDay(now time.Time, loc *time.Location) bool {
	return format.Local(now, loc).Month != format.Local(now.Add(24*time.Hour), loc).Month
}

// gateOpen reports whether flow may run at now, with a skip reason when it
// may not.
func gateOpen(flow format.Flow, now time.Time, loc *time.Location) (bool, string) {
	switch flow.Gate {
	case format.GateTargetHour:
		local := format.Local(now, loc)
		if local.Hour != TargetHour(local.DateKey) {
			return false, "outside_target_hour"
		}
	case format.GateFirstDay:
		if !IsFirstDay(now, loc) {
			return false, "not_first_day"
		}
	case format.GateLastDay:
		if !IsLastDay(now, loc) {
			return false, "not_last_day"
		}
	}
	return true, ""
}
