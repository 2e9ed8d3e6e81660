package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nourly/nourly/internal/log"
)

// store is the persistence surface the Manager needs. *Store satisfies
// it; tests substitute a fake.
type store interface {
	AppendMessage(ctx context.Context, m Message) (Message, error)
	CountMessagesSince(ctx context.Context, userID, coachID string, since time.Time) (int, error)
	MessagesSince(ctx context.Context, userID, coachID string, since time.Time) ([]Message, error)
	RecentMessages(ctx context.Context, userID, coachID string, limit int) ([]Message, error)
	LatestSummary(ctx context.Context, userID, coachID string) (*Summary, error)
	InsertSummary(ctx context.Context, sum Summary) error
	GetUserMemory(ctx context.Context, userID string) (UserMemory, error)
	UpsertUserMemory(ctx context.Context, mem UserMemory) error
}

// Config tunes the Manager.
type Config struct {
	// SummaryThreshold is how many messages accumulate since the last
	// summary before a new one is created.
	SummaryThreshold int
	// ContextWindow is how many recent messages Context includes
	// verbatim.
	ContextWindow int
}

func (c Config) validate() error {
	if c.SummaryThreshold < 2 {
		return fmt.Errorf("summary threshold %d too low", c.SummaryThreshold)
	}
	if c.ContextWindow < 1 {
		return fmt.Errorf("context window %d too low", c.ContextWindow)
	}
	return nil
}

// Manager runs the conversation-memory state machine. The message count
// since the last summary is always derived from the store, never held
// in process, so the threshold survives restarts.
type Manager struct {
	store      store
	summarizer Summarizer
	cfg        Config
	logger     log.Logger
}

// NewManager creates a Manager. summarizer may be nil, in which case
// the deterministic template summarizer is used.
func NewManager(st store, summarizer Summarizer, cfg Config, logger log.Logger) (*Manager, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if summarizer == nil {
		summarizer = TemplateSummarizer{}
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Manager{store: st, summarizer: summarizer, cfg: cfg, logger: logger}, nil
}

// Record persists one message and, when the accumulated count reaches
// the threshold, summarizes the window and merges extracted facts into
// the user's memory. The summarization step resets the derived counter
// because later counts are measured from the new summary's timestamp.
func (m *Manager) Record(ctx context.Context, userID, coachID string, role Role, content string) error {
	msg, err := m.store.AppendMessage(ctx, Message{
		UserID:  userID,
		CoachID: coachID,
		Role:    role,
		Content: content,
	})
	if err != nil {
		return fmt.Errorf("appending message: %w", err)
	}

	since, err := m.lastSummaryTime(ctx, userID, coachID)
	if err != nil {
		return err
	}
	count, err := m.store.CountMessagesSince(ctx, userID, coachID, since)
	if err != nil {
		return fmt.Errorf("counting window: %w", err)
	}
	if count < m.cfg.SummaryThreshold {
		return nil
	}

	if err := m.summarize(ctx, userID, coachID, since, count, msg); err != nil {
		return err
	}
	return nil
}

func (m *Manager) lastSummaryTime(ctx context.Context, userID, coachID string) (time.Time, error) {
	last, err := m.store.LatestSummary(ctx, userID, coachID)
	if err != nil {
		return time.Time{}, fmt.Errorf("loading latest summary: %w", err)
	}
	if last == nil {
		return time.Time{}, nil
	}
	return last.CreatedAt, nil
}

func (m *Manager) summarize(ctx context.Context, userID, coachID string, since time.Time, count int, last Message) error {
	window, err := m.store.MessagesSince(ctx, userID, coachID, since)
	if err != nil {
		return fmt.Errorf("loading window: %w", err)
	}
	if len(window) == 0 {
		return nil
	}

	facts, ruleByFact := ExtractFacts(window)
	topics := ExtractTopics(window)

	text, err := m.summarizer.Summarize(ctx, window, topics)
	if err != nil {
		// Keep the template as a floor so a flaky generative
		// summarizer never blocks the state machine.
		m.logger.Warn("summarizer failed, using template", "error", err)
		text, _ = TemplateSummarizer{}.Summarize(ctx, window, topics)
	}

	err = m.store.InsertSummary(ctx, Summary{
		UserID:        userID,
		CoachID:       coachID,
		SummaryText:   text,
		KeyFacts:      facts,
		Topics:        topics,
		LastMessageID: last.ID,
		MessageCount:  count,
	})
	if err != nil {
		return fmt.Errorf("inserting summary: %w", err)
	}

	if err := m.mergeMemory(ctx, userID, facts, ruleByFact); err != nil {
		return fmt.Errorf("merging memory: %w", err)
	}

	m.logger.Info("conversation summarized",
		"user_id", userID, "coach_id", coachID,
		"messages", count, "facts", len(facts), "topics", len(topics))
	return nil
}

// mergeMemory folds newly extracted facts into the user's memory
// record. Facts are kept verbatim; recognized shapes additionally
// update typed fields. Re-running the merge with the same facts is a
// no-op apart from the timestamp.
func (m *Manager) mergeMemory(ctx context.Context, userID string, facts []string, ruleByFact map[string]string) error {
	mem, err := m.store.GetUserMemory(ctx, userID)
	if err != nil {
		return err
	}
	if mem.Facts == nil {
		mem.Facts = make(map[string]string)
	}
	if mem.Preferences == nil {
		mem.Preferences = make(map[string]string)
	}
	if mem.HealthData == nil {
		mem.HealthData = make(map[string]int)
	}

	for _, fact := range facts {
		rule := ruleByFact[fact]
		mem.Facts[fact] = rule

		if field, value, ok := parseTypedFact(fact, rule); ok {
			mem.HealthData[field] = value
		}
		if rule == "diet" {
			if diet, ok := parseDietFact(fact); ok {
				mem.Preferences["diet"] = diet
			}
		}
	}

	return m.store.UpsertUserMemory(ctx, mem)
}

// Context assembles the prompt context for the pair: current summary,
// deduplicated key facts, previously discussed topics, then the most
// recent messages verbatim, each tagged with its role. Returns an empty
// string for a brand-new conversation.
func (m *Manager) Context(ctx context.Context, userID, coachID string) (string, error) {
	last, err := m.store.LatestSummary(ctx, userID, coachID)
	if err != nil {
		return "", fmt.Errorf("loading latest summary: %w", err)
	}
	recent, err := m.store.RecentMessages(ctx, userID, coachID, m.cfg.ContextWindow)
	if err != nil {
		return "", fmt.Errorf("loading recent messages: %w", err)
	}

	var b strings.Builder
	if last != nil {
		b.WriteString("Previous conversation summary: ")
		b.WriteString(last.SummaryText)
		b.WriteString("\n")
		if len(last.KeyFacts) > 0 {
			b.WriteString("Known facts: ")
			b.WriteString(strings.Join(last.KeyFacts, "; "))
			b.WriteString("\n")
		}
		if len(last.Topics) > 0 {
			b.WriteString("Previously discussed: ")
			b.WriteString(strings.Join(last.Topics, ", "))
			b.WriteString("\n")
		}
	}
	if len(recent) > 0 {
		b.WriteString("Recent messages:\n")
		for _, msg := range recent {
			fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
		}
	}
	return strings.TrimSpace(b.String()), nil
}

// Memory exposes the user's merged memory record for prompt building.
func (m *Manager) Memory(ctx context.Context, userID string) (UserMemory, error) {
	return m.store.GetUserMemory(ctx, userID)
}
