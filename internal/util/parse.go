package util

import (
	"encoding/json"
	"strings"
)

// ExtractJSONObject returns the first balanced {...} block in s, tolerating
// surrounding prose and markdown code fences. Returns "" if no object is
// present. Model output is untrusted; callers pair this with DecodeInto and
// an explicit fallback value (parse-or-default, never parse-or-crash).
func ExtractJSONObject(s string) string {
	s = stripFences(s)
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// DecodeInto parses the first JSON object in raw into v. It reports false on
// any failure so call sites can substitute their deterministic fallback.
func DecodeInto(raw string, v any) bool {
	obj := ExtractJSONObject(raw)
	if obj == "" {
		return false
	}
	return json.Unmarshal([]byte(obj), v) == nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[idx+1:]
	}
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
