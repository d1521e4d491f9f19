package assistant

import (
	"strings"

	"github.com/rarehotdog/pjt.mayhem/internal/persona"
)

// Route is the outcome of persona resolution for one message.
type Route struct {
	Requested   persona.ID
	Effective   persona.ID
	RoutedByTag bool
}

var tagRoutes = []struct {
	tags   []string
	target persona.ID
}{
	{[]string{"#risk", "#check", "#qa"}, persona.Corleone},
	{[]string{"#interrupt"}, persona.Jensen},
	{[]string{"#emperor", "#제왕"}, persona.Zhuge},
	{[]string{"#vision", "#antivision", "#anti-vision", "#game", "#score", "#excavation"}, persona.Tyler},
}

// Resolve picks the persona that answers text. Hashtags force a persona for
// free text; commands always stay with the requested one.
func Resolve(requested persona.ID, text string) Route {
	requested = persona.Normalize(string(requested))
	r := Route{Requested: requested, Effective: requested}
	if strings.HasPrefix(strings.TrimSpace(text), "/") {
		return r
	}
	if forced, ok := forcedByTag(text); ok {
		r.Effective = forced
		r.RoutedByTag = forced != requested
	}
	return r
}

func forcedByTag(text string) (persona.ID, bool) {
	lower := strings.ToLower(text)
	for _, route := range tagRoutes {
		for _, tag := range route.tags {
			if strings.Contains(lower, tag) {
				return route.target, true
			}
		}
	}
	return "", false
}
