package dispatch

import (
	"regexp"
	"strings"

	"github.com/parleyhq/parley/core"
)

// mentionPattern matches @agent_key tags in user input. Keys are restricted
// to the roster key alphabet.
var mentionPattern = regexp.MustCompile(`@([a-zA-Z0-9_-]+)`)

// ParseMentions returns the roster agents tagged in text, in first-mention
// order with duplicates dropped. Matching against roster keys is
// case-insensitive; tags that match no roster key are ignored.
func ParseMentions(text string, roster []core.AgentDef) []core.AgentDef {
	byKey := make(map[string]core.AgentDef, len(roster))
	for _, a := range roster {
		byKey[strings.ToLower(a.Key)] = a
	}

	var out []core.AgentDef
	seen := make(map[string]bool)
	for _, match := range mentionPattern.FindAllStringSubmatch(text, -1) {
		key := strings.ToLower(match[1])
		agent, ok := byKey[key]
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, agent)
	}
	return out
}
