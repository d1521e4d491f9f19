// Package persona holds the fixed registry of bot identities that share the
// assistant backend.
package persona

import (
	"fmt"
	"strings"
)

// ID is the canonical identifier of a bot persona.
type ID string

const (
	Tyler     ID = "tyler_durden"
	Zhuge     ID = "zhuge_liang"
	Jensen    ID = "jensen_huang"
	Hemingway ID = "hemingway_ernest"
	Corleone  ID = "michael_corleone"
)

// Default is the orchestrator persona used when nothing else resolves.
const Default = Tyler

// Profile describes a persona and the environment keys carrying its
// credentials.
type Profile struct {
	ID           ID
	Name         string
	FallbackName string
	Role         string
	EnvPrefix    string
	Legacy       EnvKeys
}

// EnvKeys names the environment variables for one bot's credentials.
type EnvKeys struct {
	Token    string
	Secret   string
	Username string
}

var profiles = []Profile{
	{
		ID:        Tyler,
		Name:      "Tyler.Durden",
		Role:      "오케스트레이터",
		EnvPrefix: "COS",
		Legacy: EnvKeys{
			Token:    "TELEGRAM_BOT_TOKEN",
			Secret:   "TELEGRAM_WEBHOOK_SECRET",
			Username: "TELEGRAM_BOT_USERNAME",
		},
	},
	{
		ID:           Zhuge,
		Name:         "제갈량",
		FallbackName: "Zhuge Liang",
		Role:         "LENS 분석관",
		EnvPrefix:    "LENS",
	},
	{
		ID:        Jensen,
		Name:      "Jensen Huang",
		Role:      "BOLT 실행/마감",
		EnvPrefix: "BOLT",
	},
	{
		ID:        Hemingway,
		Name:      "Hemingway, Ernest",
		Role:      "INK 콘텐츠/바이럴",
		EnvPrefix: "INK",
	},
	{
		ID:        Corleone,
		Name:      "Michael Corleone",
		Role:      "SENTRY QA/보안/비용",
		EnvPrefix: "CORLEONE",
		Legacy: EnvKeys{
			Token:    "TELEGRAM_BOT_SENTRY_TOKEN",
			Secret:   "TELEGRAM_BOT_SENTRY_SECRET",
			Username: "TELEGRAM_BOT_SENTRY_USERNAME",
		},
	},
}

var aliases = map[string]ID{
	"alfred_sentry": Corleone,
}

// All returns the canonical persona ids in registry order.
func All() []ID {
	ids := make([]ID, len(profiles))
	for i, p := range profiles {
		ids[i] = p.ID
	}
	return ids
}

// Canonical resolves a raw id or legacy alias. The second return is false
// when the value names no persona.
func Canonical(raw string) (ID, bool) {
	v := strings.ToLower(strings.TrimSpace(raw))
	if id, ok := aliases[v]; ok {
		return id, true
	}
	for _, p := range profiles {
		if string(p.ID) == v {
			return p.ID, true
		}
	}
	return "", false
}

// Normalize is Canonical with a fallback to the default persona.
func Normalize(raw string) ID {
	if id, ok := Canonical(raw); ok {
		return id
	}
	return Default
}

// IsValid reports whether raw resolves to a persona.
func IsValid(raw string) bool {
	_, ok := Canonical(raw)
	return ok
}

// Lookup returns the profile for id.
func Lookup(id ID) (Profile, bool) {
	for _, p := range profiles {
		if p.ID == id {
			return p, true
		}
	}
	return Profile{}, false
}

// MustLookup is Lookup for ids known at compile time.
func MustLookup(id ID) Profile {
	p, ok := Lookup(id)
	if !ok {
		panic(fmt.Sprintf("persona: unknown id %q", id))
	}
	return p
}

// Keys returns the primary environment keys for the persona's credentials.
func (p Profile) Keys() EnvKeys {
	prefix := "TELEGRAM_BOT_" + p.EnvPrefix + "_"
	return EnvKeys{
		Token:    prefix + "TOKEN",
		Secret:   prefix + "SECRET",
		Username: prefix + "USERNAME",
	}
}

// DisplayName returns the persona name for the user's language.
func DisplayName(id ID, languageCode string) string {
	p, ok := Lookup(id)
	if !ok {
		p = MustLookup(Default)
	}
	if p.FallbackName != "" && !strings.HasPrefix(strings.ToLower(languageCode), "ko") {
		return p.FallbackName
	}
	return p.Name
}

// TeamLines lists every persona as "- name: role".
func TeamLines(languageCode string) []string {
	lines := make([]string, 0, len(profiles))
	for _, p := range profiles {
		lines = append(lines, fmt.Sprintf("- %s: %s", DisplayName(p.ID, languageCode), p.Role))
	}
	return lines
}
