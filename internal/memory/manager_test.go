package memory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nourly/nourly/internal/log"
)

// fakeStore is an in-memory store with a monotonic clock so the
// timestamp-derived message counting behaves like the real table.
type fakeStore struct {
	clock     time.Time
	messages  []Message
	summaries []Summary
	memories  map[string]UserMemory

	insertSummaryErr error
	upsertMemoryErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		clock:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		memories: make(map[string]UserMemory),
	}
}

func (f *fakeStore) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fakeStore) AppendMessage(_ context.Context, m Message) (Message, error) {
	m.ID = uuid.New()
	m.CreatedAt = f.tick()
	f.messages = append(f.messages, m)
	return m, nil
}

func (f *fakeStore) CountMessagesSince(_ context.Context, userID, coachID string, since time.Time) (int, error) {
	n := 0
	for _, m := range f.messages {
		if m.UserID == userID && m.CoachID == coachID && m.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) MessagesSince(_ context.Context, userID, coachID string, since time.Time) ([]Message, error) {
	var out []Message
	for _, m := range f.messages {
		if m.UserID == userID && m.CoachID == coachID && m.CreatedAt.After(since) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeStore) RecentMessages(_ context.Context, userID, coachID string, limit int) ([]Message, error) {
	var out []Message
	for _, m := range f.messages {
		if m.UserID == userID && m.CoachID == coachID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeStore) LatestSummary(_ context.Context, userID, coachID string) (*Summary, error) {
	for i := len(f.summaries) - 1; i >= 0; i-- {
		if f.summaries[i].UserID == userID && f.summaries[i].CoachID == coachID {
			s := f.summaries[i]
			return &s, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) InsertSummary(_ context.Context, sum Summary) error {
	if f.insertSummaryErr != nil {
		return f.insertSummaryErr
	}
	sum.ID = uuid.New()
	sum.CreatedAt = f.tick()
	f.summaries = append(f.summaries, sum)
	return nil
}

func (f *fakeStore) GetUserMemory(_ context.Context, userID string) (UserMemory, error) {
	if mem, ok := f.memories[userID]; ok {
		return mem, nil
	}
	return emptyMemory(userID), nil
}

func (f *fakeStore) UpsertUserMemory(_ context.Context, mem UserMemory) error {
	if f.upsertMemoryErr != nil {
		return f.upsertMemoryErr
	}
	f.memories[mem.UserID] = mem
	return nil
}

func newTestManager(t *testing.T, st store, threshold int) *Manager {
	t.Helper()
	m, err := NewManager(st, nil, Config{SummaryThreshold: threshold, ContextWindow: 10}, log.NewNop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestManager_SummaryTriggersExactlyAtThreshold(t *testing.T) {
	const threshold = 5
	st := newFakeStore()
	mgr := newTestManager(t, st, threshold)
	ctx := context.Background()

	for i := range threshold - 1 {
		role := RoleUser
		if i%2 == 1 {
			role = RoleCoach
		}
		if err := mgr.Record(ctx, "u1", "c1", role, "message about food and meals"); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}
	if len(st.summaries) != 0 {
		t.Fatalf("summary created after %d messages, want none before threshold", threshold-1)
	}

	if err := mgr.Record(ctx, "u1", "c1", RoleUser, "I am 35 years old and I want to lose weight"); err != nil {
		t.Fatalf("Record at threshold: %v", err)
	}
	if len(st.summaries) != 1 {
		t.Fatalf("summaries = %d, want exactly 1 at threshold", len(st.summaries))
	}
	sum := st.summaries[0]
	if sum.MessageCount != threshold {
		t.Errorf("MessageCount = %d, want %d", sum.MessageCount, threshold)
	}
	if sum.LastMessageID == uuid.Nil {
		t.Error("summary missing last message id")
	}

	// The derived counter is reset: the next message starts a new window.
	if err := mgr.Record(ctx, "u1", "c1", RoleCoach, "noted"); err != nil {
		t.Fatalf("Record after summary: %v", err)
	}
	if len(st.summaries) != 1 {
		t.Fatalf("summaries = %d after one post-summary message, want still 1", len(st.summaries))
	}

	// A second full window produces a second summary.
	for i := range threshold - 1 {
		if err := mgr.Record(ctx, "u1", "c1", RoleUser, "more diet talk"); err != nil {
			t.Fatalf("Record second window %d: %v", i, err)
		}
	}
	if len(st.summaries) != 2 {
		t.Errorf("summaries = %d after second window, want 2", len(st.summaries))
	}
}

func TestManager_FactsDedupedWithinWindow(t *testing.T) {
	st := newFakeStore()
	mgr := newTestManager(t, st, 3)
	ctx := context.Background()

	msgs := []string{
		"I am 35 years old",
		"yes, I am 35 years old",
		"and that is all",
	}
	for _, m := range msgs {
		if err := mgr.Record(ctx, "u1", "c1", RoleUser, m); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	if len(st.summaries) != 1 {
		t.Fatalf("summaries = %d, want 1", len(st.summaries))
	}
	count := 0
	for _, f := range st.summaries[0].KeyFacts {
		if f == "I am 35 years old" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("fact appears %d times in key facts %v, want once", count, st.summaries[0].KeyFacts)
	}
}

func TestManager_MergesTypedMemory(t *testing.T) {
	st := newFakeStore()
	mgr := newTestManager(t, st, 4)
	ctx := context.Background()

	msgs := []string{
		"I am 35 years old and want to start keto",
		"I weigh about 90 kg right now",
		"I'm on a keto diet",
		"any advice?",
	}
	for _, m := range msgs {
		if err := mgr.Record(ctx, "u1", "c1", RoleUser, m); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	mem := st.memories["u1"]
	if _, ok := mem.Facts["I am 35 years old"]; !ok {
		t.Errorf("facts missing age statement: %v", mem.Facts)
	}
	if mem.HealthData["age"] != 35 {
		t.Errorf("age = %d, want 35", mem.HealthData["age"])
	}
	if mem.HealthData["current_weight"] != 90 {
		t.Errorf("current_weight = %d, want 90", mem.HealthData["current_weight"])
	}
	if mem.Preferences["diet"] != "keto" {
		t.Errorf("diet preference = %q, want keto", mem.Preferences["diet"])
	}

	// Re-running a merge with the same facts does not duplicate anything.
	before := len(mem.Facts)
	if err := mgr.mergeMemory(ctx, "u1", []string{"I am 35 years old"}, map[string]string{"I am 35 years old": "age"}); err != nil {
		t.Fatalf("mergeMemory: %v", err)
	}
	if got := len(st.memories["u1"].Facts); got != before {
		t.Errorf("facts grew from %d to %d on idempotent merge", before, got)
	}
}

func TestManager_ContextAssembly(t *testing.T) {
	st := newFakeStore()
	mgr := newTestManager(t, st, 3)
	ctx := context.Background()

	empty, err := mgr.Context(ctx, "u1", "c1")
	if err != nil {
		t.Fatalf("Context on empty history: %v", err)
	}
	if empty != "" {
		t.Errorf("Context = %q for new conversation, want empty", empty)
	}

	for _, m := range []string{"I am 35 years old", "I exercise at the gym", "what should I eat"} {
		if err := mgr.Record(ctx, "u1", "c1", RoleUser, m); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if err := mgr.Record(ctx, "u1", "c1", RoleCoach, "try more protein"); err != nil {
		t.Fatalf("Record coach: %v", err)
	}

	got, err := mgr.Context(ctx, "u1", "c1")
	if err != nil {
		t.Fatalf("Context: %v", err)
	}

	sumIdx := strings.Index(got, "Previous conversation summary:")
	factIdx := strings.Index(got, "I am 35 years old")
	recentIdx := strings.Index(got, "Recent messages:")
	coachIdx := strings.Index(got, "coach: try more protein")
	if sumIdx < 0 || factIdx < 0 || recentIdx < 0 || coachIdx < 0 {
		t.Fatalf("Context missing sections:\n%s", got)
	}
	if !(sumIdx < factIdx && factIdx < recentIdx && recentIdx < coachIdx) {
		t.Errorf("Context sections out of order:\n%s", got)
	}
}

func TestManager_SummaryFailureSurfaces(t *testing.T) {
	st := newFakeStore()
	st.insertSummaryErr = errors.New("summary table gone")
	mgr := newTestManager(t, st, 2)
	ctx := context.Background()

	if err := mgr.Record(ctx, "u1", "c1", RoleUser, "one"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := mgr.Record(ctx, "u1", "c1", RoleUser, "two"); err == nil {
		t.Error("Record swallowed summary persistence failure")
	}
}
