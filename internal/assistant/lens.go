package assistant

import (
	"encoding/json"
	"regexp"
	"strings"
)

var codeFence = regexp.MustCompile("(?is)```(?:json)?\\s*(.*?)\\s*```")

// lensPayload is the structured answer the analyst persona is prompted to
// produce.
type lensPayload struct {
	Conclusion string `json:"conclusion"`
	Findings   []struct {
		Claim string `json:"claim"`
		Label string `json:"label"`
	} `json:"findings"`
	Risks     []any `json:"risks"`
	Actions48 []struct {
		Action string `json:"action"`
		DoD    string `json:"dod"`
	} `json:"actions_48h"`
}

// FormatLens renders the first valid JSON object in text as plain lines.
// Text without one is returned unchanged.
func FormatLens(text string) string {
	block := firstJSONObject(text)
	if block == "" {
		return text
	}
	var p lensPayload
	if err := json.Unmarshal([]byte(block), &p); err != nil {
		return text
	}

	var lines []string
	if c := strings.TrimSpace(p.Conclusion); c != "" {
		lines = append(lines, "핵심 결론: "+c)
	}
	if len(p.Findings) > 0 {
		lines = append(lines, "근거:")
		for _, f := range p.Findings[:min(len(p.Findings), 3)] {
			claim := strings.TrimSpace(f.Claim)
			if claim == "" {
				continue
			}
			if label := strings.TrimSpace(f.Label); label != "" {
				lines = append(lines, "- "+claim+" ["+label+"]")
			} else {
				lines = append(lines, "- "+claim)
			}
		}
	}
	if len(p.Risks) > 0 {
		lines = append(lines, "주의할 점:")
		for _, r := range p.Risks[:min(len(p.Risks), 2)] {
			if s, ok := r.(string); ok && strings.TrimSpace(s) != "" {
				lines = append(lines, "- "+strings.TrimSpace(s))
			}
		}
	}
	if len(p.Actions48) > 0 {
		lines = append(lines, "다음 48시간 액션:")
		for _, a := range p.Actions48[:min(len(p.Actions48), 3)] {
			action := strings.TrimSpace(a.Action)
			if action == "" {
				continue
			}
			if dod := strings.TrimSpace(a.DoD); dod != "" {
				lines = append(lines, "- "+action+" (DoD: "+dod+")")
			} else {
				lines = append(lines, "- "+action)
			}
		}
	}
	if len(lines) == 0 {
		return text
	}
	return strings.Join(lines, "\n")
}

// firstJSONObject finds the first fenced block that parses as JSON, else
// the balanced object starting at the first "{".
func firstJSONObject(text string) string {
	for _, m := range codeFence.FindAllStringSubmatch(text, -1) {
		block := strings.TrimSpace(m[1])
		if json.Valid([]byte(block)) {
			return block
		}
	}

	start := strings.Index(text, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				candidate := strings.TrimSpace(text[start : i+1])
				if json.Valid([]byte(candidate)) {
					return candidate
				}
				return ""
			}
		}
	}
	return ""
}
