package memory

import (
	"context"
	"fmt"
	"strings"
)

// Summarizer produces the summary text stored with a ConversationSummary.
// The default is the deterministic template below; a generative
// implementation can be substituted without changing the stored row's
// contract.
type Summarizer interface {
	Summarize(ctx context.Context, window []Message, topics []string) (string, error)
}

// TemplateSummarizer builds summaries from a fixed template: the topic
// list plus up to the first three user-authored messages of the window.
type TemplateSummarizer struct{}

func (TemplateSummarizer) Summarize(_ context.Context, window []Message, topics []string) (string, error) {
	var b strings.Builder
	if len(topics) > 0 {
		fmt.Fprintf(&b, "Conversation covered: %s.", strings.Join(topics, ", "))
	} else {
		b.WriteString("General conversation.")
	}

	var quoted []string
	for _, m := range window {
		if m.Role != RoleUser {
			continue
		}
		quoted = append(quoted, fmt.Sprintf("%q", strings.TrimSpace(m.Content)))
		if len(quoted) == 3 {
			break
		}
	}
	if len(quoted) > 0 {
		b.WriteString(" The user said: ")
		b.WriteString(strings.Join(quoted, "; "))
		b.WriteString(".")
	}
	return b.String(), nil
}
