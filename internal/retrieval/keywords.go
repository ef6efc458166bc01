package retrieval

import (
	"regexp"
	"sort"
	"strings"
)

// stopWords mirrors original_source/server/app/services/knowledge_service.py's
// STOP_WORDS set verbatim, including its English-only scope (spec.md §9 open
// question: preserved exactly for parity, not "fixed").
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "from": true, "as": true, "is": true, "was": true,
	"are": true, "were": true, "been": true, "be": true, "have": true, "has": true,
	"had": true, "do": true, "does": true, "did": true, "will": true, "would": true,
	"could": true, "should": true, "may": true, "might": true, "must": true,
	"shall": true, "can": true, "need": true, "this": true, "that": true,
	"these": true, "those": true, "it": true, "its": true, "i": true, "you": true,
	"he": true, "she": true, "we": true, "they": true, "me": true, "him": true,
	"her": true, "us": true, "them": true, "my": true, "your": true, "his": true,
	"our": true, "their": true, "what": true, "which": true, "who": true,
	"whom": true, "when": true, "where": true, "why": true, "how": true,
	"all": true, "each": true, "every": true, "both": true, "few": true,
	"more": true, "most": true, "other": true, "some": true, "such": true,
	"no": true, "nor": true, "not": true, "only": true, "own": true, "same": true,
	"so": true, "than": true, "too": true, "very": true, "just": true,
	"also": true, "now": true, "here": true, "there": true,
}

// wordPattern is the ASCII-only tokenizer: spec.md §9 preserves it exactly
// for parity with the Python original, which means non-English text is
// invisible to keyword extraction. Documented, not "fixed".
var wordPattern = regexp.MustCompile(`[a-zA-Z]{3,}`)

// extractKeywords tokenizes text, lowercases, drops stop words, and returns
// the topN most frequent survivors. Ties break in order of first occurrence
// (spec.md §4.7), matching Counter.most_common's stable behavior on a
// dict that preserves insertion order.
func extractKeywords(text string, topN int) []string {
	words := wordPattern.FindAllString(strings.ToLower(text), -1)

	counts := make(map[string]int)
	order := make([]string, 0)
	for _, w := range words {
		if stopWords[w] {
			continue
		}
		if _, seen := counts[w]; !seen {
			order = append(order, w)
		}
		counts[w]++
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})

	if len(order) > topN {
		order = order[:topN]
	}
	return order
}

func keywordSet(words []string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

func overlapScore(a, b map[string]bool) int {
	score := 0
	for w := range a {
		if b[w] {
			score++
		}
	}
	return score
}
