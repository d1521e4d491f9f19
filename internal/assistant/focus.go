package assistant

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rarehotdog/pjt.mayhem/internal/types"
)

// MissionCodes is the fixed order of focus weight slots.
var MissionCodes = [6]string{"M1", "M2", "M3", "M4", "M5", "Mx"}

// Weights are integer mission weights in MissionCodes order, summing to 100.
type Weights [6]int

// DefaultWeights applies when a thread never set its own.
var DefaultWeights = Weights{35, 15, 10, 15, 10, 15}

func (w Weights) String() string {
	parts := make([]string, len(MissionCodes))
	for i, code := range MissionCodes {
		parts[i] = fmt.Sprintf("%s:%d", code, w[i])
	}
	return strings.Join(parts, " ")
}

// Context is the line prepended to prompts for the orchestrator persona.
func (w Weights) Context() string {
	return "[시스템] 현재 Focus Weights: " + w.String()
}

var focusPair = regexp.MustCompile(`(?i)\b(M[1-5]|Mx)\s*:\s*(\d+(?:\.\d+)?)\b`)

// ParseWeights reads "M1:50 M2:20, Mx:10" style pairs. It returns false when
// no positive weight was found.
func ParseWeights(text string) (Weights, bool) {
	var raw [6]float64
	found := false
	for _, m := range focusPair.FindAllStringSubmatch(strings.ReplaceAll(text, ",", " "), -1) {
		v, err := strconv.ParseFloat(m[2], 64)
		if err != nil || v <= 0 || math.IsInf(v, 0) {
			continue
		}
		idx := missionIndex(m[1])
		if idx < 0 {
			continue
		}
		raw[idx] = v
		found = true
	}
	if !found {
		return Weights{}, false
	}
	return NormalizeWeights(raw), true
}

func missionIndex(code string) int {
	for i, c := range MissionCodes {
		if strings.EqualFold(c, code) {
			return i
		}
	}
	return -1
}

// NormalizeWeights scales raw to integers summing to 100 using the largest
// remainder method. Non-positive input yields DefaultWeights.
func NormalizeWeights(raw [6]float64) Weights {
	total := 0.0
	for i, v := range raw {
		if v < 0 || math.IsNaN(v) {
			raw[i] = 0
			continue
		}
		total += v
	}
	if total <= 0 {
		return DefaultWeights
	}

	var out Weights
	remainders := make([]struct {
		idx  int
		frac float64
	}, len(raw))
	sum := 0
	for i, v := range raw {
		scaled := v / total * 100
		floor := math.Floor(scaled)
		out[i] = int(floor)
		sum += out[i]
		remainders[i].idx = i
		remainders[i].frac = scaled - floor
	}
	sort.SliceStable(remainders, func(a, b int) bool {
		return remainders[a].frac > remainders[b].frac
	})
	for i := 0; sum < 100 && i < len(remainders); i++ {
		out[remainders[i].idx]++
		sum++
	}
	return out
}

// focusFromCommand parses a stored "/focus ..." message.
func focusFromCommand(text string) (Weights, bool) {
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(text)), "/focus") {
		return Weights{}, false
	}
	arg := CommandArgument(text)
	if arg == "" {
		return Weights{}, false
	}
	return ParseWeights(arg)
}

// threadWeights returns the cached weights for a thread, else the most
// recent /focus in history, else the defaults.
func (s *Service) threadWeights(thread types.ThreadID, history []*types.Message) Weights {
	if w, ok := s.focus.Get(thread); ok {
		return w
	}
	for i := len(history) - 1; i >= 0; i-- {
		if w, ok := focusFromCommand(history[i].Content); ok {
			s.focus.Set(thread, w)
			return w
		}
	}
	return DefaultWeights
}
