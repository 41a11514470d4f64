package utils

import (
	"math"
	"regexp"
	"strings"
)

// Heuristics guarding fuzzy matching: very short or low-entropy names
// ("LLC", "Q3") match too promiscuously to trust edit distance.
const (
	nameEntropyThreshold = 1.5
	minNameLength        = 6
	minTokenCount        = 2
)

var nonMatchChars = regexp.MustCompile(`[^a-z0-9' ]`)

// NormalizeForMatch produces the fuzzier comparison form of a name: lowered,
// stripped to alphanumerics and apostrophes, whitespace collapsed.
func NormalizeForMatch(name string) string {
	normalized := strings.ToLower(name)
	normalized = nonMatchChars.ReplaceAllString(normalized, " ")
	return strings.Join(strings.Fields(normalized), " ")
}

// NameEntropy approximates a name's specificity via Shannon entropy over its
// characters, spaces excluded.
func NameEntropy(name string) float64 {
	text := strings.ReplaceAll(name, " ", "")
	if text == "" {
		return 0
	}
	counts := make(map[rune]int)
	total := 0
	for _, r := range text {
		counts[r]++
		total++
	}
	var entropy float64
	for _, c := range counts {
		p := float64(c) / float64(total)
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// HasMatchableEntropy reports whether a normalized name carries enough
// information for fuzzy matching to be reliable.
func HasMatchableEntropy(normalized string) bool {
	tokens := len(strings.Fields(normalized))
	if len(normalized) < minNameLength && tokens < minTokenCount {
		return false
	}
	return NameEntropy(normalized) >= nameEntropyThreshold
}

// LevenshteinDistance computes the edit distance between two strings over
// runes, insertions, deletions, and substitutions all costing 1.
func LevenshteinDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min3(cur[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

// LevenshteinSimilarity normalizes edit distance into [0, 1]: 1 means equal,
// 0 means nothing in common at the longer string's length.
func LevenshteinSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(LevenshteinDistance(a, b))/float64(longest)
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
