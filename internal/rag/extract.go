package rag

import (
	"sort"
	"strings"
	"unicode"
)

const (
	// maxExtractedSentences caps how many sentences Extract returns.
	maxExtractedSentences = 5
	// minSentenceLength drops fragments too short to be informative.
	minSentenceLength = 20
	// minKeywordLength drops stopword-sized query tokens.
	minKeywordLength = 4
)

// synonymClusters groups interchangeable query words. A query word that
// belongs to a cluster activates every member, so "begin keto" still
// scores sentences that say "start" or "first".
var synonymClusters = [][]string{
	{"start", "begin", "first", "initial"},
	{"lose", "drop", "shed", "reduce"},
	{"weight", "fat", "pounds", "kilos"},
	{"food", "meal", "eating", "diet", "nutrition"},
	{"exercise", "workout", "training", "cardio"},
	{"fast", "fasting", "window"},
	{"help", "advice", "guidance", "tips"},
	{"energy", "tired", "fatigue"},
}

// Extract pulls the sentences most relevant to the query out of the
// retrieved chunks. Sentences are scored by how many expanded query
// keywords they contain; the top scorers are returned trimmed, best
// first. An empty slice means nothing scored above zero.
func Extract(query string, contents []string) []string {
	keywords := expandKeywords(query)
	if len(keywords) == 0 {
		return nil
	}

	type scored struct {
		text  string
		score int
		order int
	}
	var candidates []scored

	order := 0
	for _, content := range contents {
		for _, sentence := range splitSentences(content) {
			trimmed := strings.TrimSpace(sentence)
			if len(trimmed) < minSentenceLength {
				continue
			}
			lower := strings.ToLower(trimmed)
			score := 0
			for kw := range keywords {
				if strings.Contains(lower, kw) {
					score++
				}
			}
			if score > 0 {
				candidates = append(candidates, scored{text: trimmed, score: score, order: order})
			}
			order++
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].order < candidates[j].order
	})

	n := min(len(candidates), maxExtractedSentences)
	out := make([]string, 0, n)
	for _, c := range candidates[:n] {
		out = append(out, c.text)
	}
	return out
}

// expandKeywords tokenizes the query, keeps words long enough to carry
// meaning, and widens each through its synonym cluster.
func expandKeywords(query string) map[string]struct{} {
	keywords := make(map[string]struct{})
	for _, word := range splitWords(strings.ToLower(query)) {
		if len(word) < minKeywordLength {
			continue
		}
		keywords[word] = struct{}{}
		for _, cluster := range synonymClusters {
			if !containsWord(cluster, word) {
				continue
			}
			for _, member := range cluster {
				keywords[member] = struct{}{}
			}
		}
	}
	return keywords
}

func containsWord(words []string, w string) bool {
	for _, x := range words {
		if x == w {
			return true
		}
	}
	return false
}

// splitWords breaks text on anything that is not a letter or digit.
func splitWords(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// splitSentences breaks text on sentence terminators, keeping the
// terminator with its sentence.
func splitSentences(text string) []string {
	var sentences []string
	start := 0
	runes := []rune(text)
	for i, r := range runes {
		if isSentenceEnd(r) {
			sentences = append(sentences, string(runes[start:i+1]))
			start = i + 1
		} else if r == '\n' {
			if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
				sentences = append(sentences, s)
			}
			start = i + 1
		}
	}
	if start < len(runes) {
		sentences = append(sentences, string(runes[start:]))
	}
	return sentences
}
