package config

import (
	"fmt"
	"strings"

	"github.com/rarehotdog/pjt.mayhem/internal/persona"
)

// secretFields are the trailing key segments whose values are masked.
var secretFields = map[string]bool{
	"api_key":     true,
	"token":       true,
	"secret":      true,
	"cron_secret": true,
}

var botFields = map[string]bool{"token": true, "secret": true, "username": true}

// IsSecretKey reports whether a dotted key holds a credential.
func IsSecretKey(key string) bool {
	i := strings.LastIndexByte(key, '.')
	return i >= 0 && secretFields[key[i+1:]]
}

// CanonicalKey resolves persona aliases in "bots.<persona>.<field>" keys so
// that `config set bots.alfred_sentry.token` edits the same entry the
// daemon reads. Other keys pass through unchanged.
func CanonicalKey(key string) (string, error) {
	parts := strings.Split(key, ".")
	if parts[0] != "bots" {
		return key, nil
	}
	if len(parts) != 3 {
		return "", fmt.Errorf("bot keys look like bots.<persona>.<field>: %s", key)
	}
	id, ok := persona.Canonical(parts[1])
	if !ok {
		return "", fmt.Errorf("unknown persona %q in %s", parts[1], key)
	}
	if !botFields[parts[2]] {
		return "", fmt.Errorf("unknown bot field %q in %s", parts[2], key)
	}
	return "bots." + string(id) + "." + parts[2], nil
}

// Flatten turns nested JSON objects into dotted keys:
// {"openai": {"model": "m"}} becomes {"openai.model": "m"}.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			if prefix != "" {
				k = prefix + "." + k
			}
			if child, ok := v.(map[string]any); ok {
				walk(k, child)
				continue
			}
			out[k] = v
		}
	}
	walk("", m)
	return out
}

// Unflatten is the inverse of Flatten.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range flat {
		parts := strings.Split(k, ".")
		node := out
		for _, part := range parts[:len(parts)-1] {
			next, ok := node[part].(map[string]any)
			if !ok {
				next = make(map[string]any)
				node[part] = next
			}
			node = next
		}
		node[parts[len(parts)-1]] = v
	}
	return out
}

// MaskSecrets copies flat with every non-empty credential reduced to
// "***" plus its last four characters.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		out[k] = v
		if s, ok := v.(string); ok && s != "" && IsSecretKey(k) {
			out[k] = "***" + s[max(0, len(s)-4):]
		}
	}
	return out
}
