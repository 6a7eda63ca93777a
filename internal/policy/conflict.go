package policy

import (
	"strings"

	"daftar/internal/store"
)

// conflictOverlapRatio is the V1 lexical collision threshold: two contents
// collide when the intersection of their lowercase word sets covers at
// least this share of the smaller set. Deliberately a constant rather than
// a setting so conflict detection stays deterministic across releases.
const conflictOverlapRatio = 0.60

// findConflict returns the first active memory, in ascending id order,
// whose content lexically collides with the candidate. Empty word sets
// never collide.
func findConflict(content string, active []store.ActiveMemory) *store.ActiveMemory {
	words := wordSet(content)
	if len(words) == 0 {
		return nil
	}
	for i := range active {
		existing := wordSet(active[i].Content)
		if len(existing) == 0 {
			continue
		}
		if overlapRatio(words, existing) >= conflictOverlapRatio {
			return &active[i]
		}
	}
	return nil
}

// wordSet is the lowercase whitespace-split token set of a content string.
func wordSet(content string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(content)) {
		set[w] = struct{}{}
	}
	return set
}

// overlapRatio is |a ∩ b| / min(|a|, |b|).
func overlapRatio(a, b map[string]struct{}) float64 {
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	shared := 0
	for w := range small {
		if _, ok := large[w]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(small))
}
