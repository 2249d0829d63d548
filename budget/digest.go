package budget

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// digestHeader prefixes every synthetic digest block so later turns can
// recognize prior digests (for the turns-since-summary trigger) and the
// cascade never re-summarizes a digest.
const digestHeader = "[conversation digest]"

// keyFactMarkers flag messages worth retaining verbatim: decisions, open
// questions and conclusions referenced by the digest survive pruning.
var keyFactMarkers = []string{"decided", "decision", "agreed", "conclusion", "open question", "todo", "must", "?"}

const digestLineLimit = 160

// buildDigest collapses the given items into a single digest text and
// returns the ids of messages the digest references as key facts. The digest
// is deterministic and purely local: no model call is involved, so a turn
// rejected later in the cascade is guaranteed to have issued zero calls.
func buildDigest(items []*item) (string, map[string]bool) {
	var sb strings.Builder
	sb.WriteString(digestHeader)
	sb.WriteString("\n")
	refs := make(map[string]bool)

	for _, it := range items {
		line := firstLine(it.text)
		if line == "" {
			continue
		}
		if len(line) > digestLineLimit {
			cut := digestLineLimit
			for cut > 0 && !utf8.RuneStart(line[cut]) {
				cut--
			}
			line = line[:cut] + "…"
		}
		author := it.role
		if it.name != "" {
			author = it.name
		}
		fmt.Fprintf(&sb, "- [%s] %s\n", author, line)
		if isKeyFact(it.text) {
			refs[it.id] = true
		}
	}

	if len(refs) > 0 {
		sb.WriteString("Key messages retained verbatim below.\n")
	}
	return sb.String(), refs
}

func firstLine(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

func isKeyFact(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range keyFactMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
