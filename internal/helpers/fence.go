package helpers

import "strings"

// Unfence returns the body of s when the whole reply is wrapped in a ``` or
// ~~~ code fence, dropping the optional language tag. Anything else is
// returned trimmed.
func Unfence(s string) string {
	s = strings.TrimSpace(strings.TrimPrefix(s, "\ufeff"))
	fence := ""
	switch {
	case strings.HasPrefix(s, "```"):
		fence = "```"
	case strings.HasPrefix(s, "~~~"):
		fence = "~~~"
	default:
		return s
	}
	rest := s[len(fence):]
	nl := strings.IndexByte(rest, '\n')
	if nl == -1 {
		// single line, e.g. ```white tee```
		return strings.TrimSpace(strings.Trim(rest, fence[:1]))
	}
	rest = rest[nl+1:]
	if end := strings.LastIndex(rest, fence); end != -1 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}
