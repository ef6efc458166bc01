package aggregator

import (
	"regexp"
	"strings"
)

// questionPrefixPattern matches the ASCII-only start-of-text phrases that mark a
// statement as a question even without a trailing "?" (spec.md §4.5).
// Preserved exactly for parity with the original (spec.md §9 open
// question): non-English question phrasing is not recognized.
var questionPrefixPattern = regexp.MustCompile(
	`^(what|why|how|when|where|who|which|can you|could you|would you|tell me|explain|describe|walk me through|give me an example)\b`,
)

// isQuestion reports whether text is a question per spec.md §4.5 /
// Testable Property 6: contains "?", or begins (after trim, case-fold) with
// one of questionPrefixPattern's phrases.
func isQuestion(text string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(text))
	if trimmed == "" {
		return false
	}
	if strings.Contains(trimmed, "?") {
		return true
	}
	return questionPrefixPattern.MatchString(trimmed)
}
