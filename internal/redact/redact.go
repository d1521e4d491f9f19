// Package redact strips credentials from text before it is stored, logged
// or shown to a chat.
package redact

import "regexp"

const placeholder = "[REDACTED]"

var patterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[a-zA-Z0-9_-]+`),
	regexp.MustCompile(`sb_secret_[a-zA-Z0-9._-]+`),
	regexp.MustCompile(`\b\d{8,11}:[A-Za-z0-9_-]{25,}\b`),
	regexp.MustCompile(`xoxb-[a-zA-Z0-9-]+`),
	regexp.MustCompile(`(?i)Bearer\s+[a-zA-Z0-9._-]+`),
}

// String replaces every known secret shape in s.
func String(s string) string {
	for _, re := range patterns {
		s = re.ReplaceAllString(s, placeholder)
	}
	return s
}

// Error returns the redacted error text, or "" for nil.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}
