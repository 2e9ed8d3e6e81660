// Package matcher is the non-RAG answer tier: it matches a user
// message against seeded knowledge entries by trigger-pattern
// confidence and falls back to canned responses when nothing clears
// its confidence floor.
package matcher

import (
	"strings"

	"github.com/nourly/nourly/internal/log"
)

const (
	// verbatimConfidence is awarded when the normalized message
	// contains a trigger pattern as an exact substring.
	verbatimConfidence = 0.9
	// partialWeight scales the word-overlap ratio for partial matches,
	// keeping them strictly below any verbatim match.
	partialWeight = 0.7
)

// Entry is one seeded knowledge entry. Patterns are ordered; an entry's
// confidence is the best confidence over all of them.
type Entry struct {
	ID              string
	CoachID         string
	Category        string
	TriggerPatterns []string
	AnswerTemplate  string
	MinConfidence   float64
	Priority        int
}

// Profile carries the caller-supplied user fields used for template
// personalization.
type Profile struct {
	Name string
	Goal string
}

// Response is the matcher's outcome. Matched is false when a canned
// fallback was served.
type Response struct {
	Text       string
	Matched    bool
	Confidence float64
	Category   string
}

// Rand supplies the randomness for fallback selection. math/rand's
// *Rand satisfies it; tests inject a fixed sequence.
type Rand interface {
	Intn(n int) int
}

var fallbackResponses = []string{
	"I want to make sure I give you a useful answer, [name]. Could you tell me a bit more about that?",
	"That's a good question. Can you describe what you're experiencing in a little more detail?",
	"I don't have a ready answer for that one, [name], but let's dig into it together. What matters most to you here?",
	"Let me make sure I understand you correctly. Could you rephrase that for me?",
}

// fallbackTopicHints maps coarse keywords to a topic name appended to
// fallback responses, so even a non-answer acknowledges the subject.
var fallbackTopicHints = []struct {
	keyword string
	topic   string
}{
	{"eat", "nutrition"},
	{"food", "nutrition"},
	{"meal", "nutrition"},
	{"weight", "weight management"},
	{"exercise", "exercise"},
	{"workout", "exercise"},
	{"sleep", "sleep"},
	{"fasting", "fasting"},
}

// Matcher scores messages against entries. It holds no per-conversation
// state and is safe for concurrent use as long as rng is.
type Matcher struct {
	rng    Rand
	logger log.Logger
}

// New creates a Matcher with the given randomness source.
func New(rng Rand, logger log.Logger) *Matcher {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Matcher{rng: rng, logger: logger}
}

// Respond picks the best-matching entry for the message, or a canned
// fallback when no entry clears its own confidence floor. The chosen
// template is personalized from the profile before returning.
func (m *Matcher) Respond(message string, entries []Entry, profile Profile) Response {
	normalized := normalize(message)

	var (
		best     *Entry
		bestConf float64
	)
	for i := range entries {
		conf := entryConfidence(normalized, entries[i].TriggerPatterns)
		switch {
		case conf > bestConf:
			best, bestConf = &entries[i], conf
		case conf == bestConf && best != nil && entries[i].Priority > best.Priority:
			best = &entries[i]
		}
	}

	if best != nil && bestConf >= best.MinConfidence {
		m.logger.Debug("knowledge entry matched",
			"category", best.Category, "confidence", bestConf)
		return Response{
			Text:       personalize(best.AnswerTemplate, profile),
			Matched:    true,
			Confidence: bestConf,
			Category:   best.Category,
		}
	}

	text := fallbackResponses[m.rng.Intn(len(fallbackResponses))]
	if topic := topicHint(normalized); topic != "" {
		text += " It sounds like this is about " + topic + "."
	}
	return Response{Text: personalize(text, profile)}
}

// entryConfidence is the best per-pattern confidence: a verbatim
// substring scores verbatimConfidence; otherwise the fraction of
// pattern words that overlap message words (either containing the
// other) scaled by partialWeight.
func entryConfidence(normalized string, patterns []string) float64 {
	best := 0.0
	msgWords := strings.Fields(normalized)
	for _, pattern := range patterns {
		p := normalize(pattern)
		if p == "" {
			continue
		}
		if strings.Contains(normalized, p) {
			if verbatimConfidence > best {
				best = verbatimConfidence
			}
			continue
		}

		patternWords := strings.Fields(p)
		matched := 0
		for _, pw := range patternWords {
			for _, mw := range msgWords {
				if strings.Contains(mw, pw) || strings.Contains(pw, mw) {
					matched++
					break
				}
			}
		}
		if conf := float64(matched) / float64(len(patternWords)) * partialWeight; conf > best {
			best = conf
		}
	}
	return best
}

func topicHint(normalized string) string {
	for _, h := range fallbackTopicHints {
		if strings.Contains(normalized, h.keyword) {
			return h.topic
		}
	}
	return ""
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// personalize substitutes the [name] and [goal] placeholders. Missing
// profile fields fall back to neutral wording.
func personalize(template string, p Profile) string {
	name := p.Name
	if name == "" {
		name = "there"
	}
	goal := p.Goal
	if goal == "" {
		goal = "your goal"
	}
	out := strings.ReplaceAll(template, "[name]", name)
	return strings.ReplaceAll(out, "[goal]", goal)
}
