package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/goleak"

	"github.com/nourly/nourly/internal/knowledge"
	"github.com/nourly/nourly/internal/log"
	"github.com/nourly/nourly/internal/matcher"
	"github.com/nourly/nourly/internal/memory"
	"github.com/nourly/nourly/internal/rag"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixedRand struct{}

func (fixedRand) Intn(int) int { return 0 }

type stubRetriever struct {
	results []rag.Result
}

func (s *stubRetriever) Retrieve(context.Context, string, knowledge.Filter) []rag.Result {
	return s.results
}

type stubCorpus struct {
	count int
	err   error
}

func (s *stubCorpus) Count(context.Context, knowledge.Filter) (int, error) {
	return s.count, s.err
}

type stubEntries struct {
	entries []matcher.Entry
	err     error
}

func (s *stubEntries) EntriesForCoach(context.Context, string) ([]matcher.Entry, error) {
	return s.entries, s.err
}

type stubGenerator struct {
	text string
	err  error
	last GenerateRequest
	mu   sync.Mutex
}

func (s *stubGenerator) Generate(_ context.Context, req GenerateRequest) (string, error) {
	s.mu.Lock()
	s.last = req
	s.mu.Unlock()
	return s.text, s.err
}

type stubMemory struct {
	contextText string
	contextErr  error
	mem         memory.UserMemory
	memErr      error

	mu       sync.Mutex
	recorded []string
}

func (s *stubMemory) Record(_ context.Context, _, _ string, role memory.Role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorded = append(s.recorded, string(role)+": "+content)
	return nil
}

func (s *stubMemory) Context(context.Context, string, string) (string, error) {
	return s.contextText, s.contextErr
}

func (s *stubMemory) Memory(context.Context, string) (memory.UserMemory, error) {
	return s.mem, s.memErr
}

func testRequest() Request {
	return Request{
		User:    Profile{UserID: "u1", Name: "Ana", Goal: "losing 5 kg", AccessTier: "free"},
		Coach:   Coach{ID: "c1", DisplayName: "Kira", DomainType: "keto"},
		Message: "how do I start keto",
	}
}

func newEngine(t *testing.T, cfg Config) (*Engine, *sync.WaitGroup) {
	t.Helper()
	wg := &sync.WaitGroup{}
	cfg.WG = wg
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	if cfg.Matcher == nil {
		cfg.Matcher = matcher.New(fixedRand{}, log.NewNop())
	}
	if cfg.Memory == nil {
		cfg.Memory = &stubMemory{}
	}
	if cfg.Entries == nil {
		cfg.Entries = &stubEntries{}
	}
	if cfg.Retriever == nil {
		cfg.Retriever = &stubRetriever{}
	}
	if cfg.Corpus == nil {
		cfg.Corpus = &stubCorpus{}
	}
	if cfg.Generator == nil {
		cfg.Generator = &stubGenerator{text: "generated answer"}
	}
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e, wg
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Category
	}{
		{errors.New("googleapi: Error 429: rate limit exceeded"), CategoryRateLimited},
		{errors.New("quota exceeded for model"), CategoryRateLimited},
		{errors.New("rpc error: code = Unauthenticated"), CategoryAuth},
		{errors.New("invalid API key provided"), CategoryAuth},
		{errors.New("dial tcp: connection refused"), CategoryNetwork},
		{errors.New("context deadline exceeded"), CategoryNetwork},
		{errors.New("something odd happened"), CategoryGeneric},
		{nil, CategoryGeneric},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestChat_GeneratedPath(t *testing.T) {
	gen := &stubGenerator{text: "Here is a keto plan."}
	mem := &stubMemory{
		contextText: "user: earlier message",
		mem: memory.UserMemory{
			UserID:     "u1",
			Facts:      map[string]string{"I am 35 years old": "age"},
			HealthData: map[string]int{"age": 35},
		},
	}
	e, wg := newEngine(t, Config{
		Corpus: &stubCorpus{count: 12},
		Retriever: &stubRetriever{results: []rag.Result{
			{Document: knowledge.Document{Content: "To start keto, reduce carbohydrate intake below fifty grams."}, Score: 0.9},
		}},
		Generator: gen,
		Memory:    mem,
	})

	resp, err := e.Chat(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	wg.Wait()

	if resp.Source != SourceGenerated {
		t.Errorf("source = %q, want generated", resp.Source)
	}
	if resp.Text != "Here is a keto plan." {
		t.Errorf("text = %q", resp.Text)
	}
	if resp.RetrievedDocs != 1 {
		t.Errorf("retrieved docs = %d, want 1", resp.RetrievedDocs)
	}

	gen.mu.Lock()
	last := gen.last
	gen.mu.Unlock()
	if !strings.Contains(last.SystemPrompt, "Kira") {
		t.Errorf("system prompt missing coach name: %q", last.SystemPrompt)
	}
	if !strings.Contains(last.KnowledgeContext, "reduce carbohydrate") {
		t.Errorf("knowledge context missing extracted sentence: %q", last.KnowledgeContext)
	}
	if !strings.Contains(last.UserContext, "Age: 35") || !strings.Contains(last.UserContext, "I am 35 years old") {
		t.Errorf("user context missing memory: %q", last.UserContext)
	}
	if last.ConversationContext != "user: earlier message" {
		t.Errorf("conversation context = %q", last.ConversationContext)
	}
	if last.Query != "how do I start keto" {
		t.Errorf("query = %q", last.Query)
	}

	mem.mu.Lock()
	recorded := append([]string(nil), mem.recorded...)
	mem.mu.Unlock()
	if len(recorded) != 2 {
		t.Fatalf("recorded %d messages, want user + coach", len(recorded))
	}
	if recorded[0] != "user: how do I start keto" {
		t.Errorf("first recorded = %q", recorded[0])
	}
	if !strings.HasPrefix(recorded[1], "coach: ") {
		t.Errorf("second recorded = %q", recorded[1])
	}
}

func TestChat_GenerationFailureUsesTemplate(t *testing.T) {
	e, wg := newEngine(t, Config{
		Corpus:    &stubCorpus{count: 3},
		Generator: &stubGenerator{err: errors.New("googleapi: Error 429: rate limit exceeded")},
	})

	resp, err := e.Chat(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Chat must not surface generation errors, got: %v", err)
	}
	wg.Wait()

	if resp.Source != SourceFallback {
		t.Errorf("source = %q, want fallback", resp.Source)
	}
	if resp.Category != CategoryRateLimited {
		t.Errorf("category = %q, want rate-limited", resp.Category)
	}
	if !strings.Contains(resp.Text, "Ana") {
		t.Errorf("fallback not personalized: %q", resp.Text)
	}
	if strings.Contains(strings.ToLower(resp.Text), "rate limit") {
		t.Errorf("provider error text leaked to user: %q", resp.Text)
	}
}

func TestChat_EmptyGenerationUsesTemplate(t *testing.T) {
	e, wg := newEngine(t, Config{
		Corpus:    &stubCorpus{count: 3},
		Generator: &stubGenerator{text: ""},
	})
	resp, err := e.Chat(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	wg.Wait()
	if resp.Source != SourceFallback || resp.Text == "" {
		t.Errorf("resp = %+v, want templated fallback", resp)
	}
}

func TestChat_MemoryReadFailureDoesNotFailTurn(t *testing.T) {
	e, wg := newEngine(t, Config{
		Corpus:    &stubCorpus{count: 3},
		Generator: &stubGenerator{text: "ok"},
		Memory: &stubMemory{
			contextErr: errors.New("summary table gone"),
			memErr:     errors.New("memory table gone"),
		},
	})
	resp, err := e.Chat(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	wg.Wait()
	if resp.Source != SourceGenerated {
		t.Errorf("source = %q, want generated despite memory read failure", resp.Source)
	}
}

func TestChat_MatcherTierWhenNoCorpus(t *testing.T) {
	e, wg := newEngine(t, Config{
		Corpus: &stubCorpus{count: 0},
		Entries: &stubEntries{entries: []matcher.Entry{{
			Category:        "getting_started",
			TriggerPatterns: []string{"how do i start keto"},
			AnswerTemplate:  "Start by cutting carbs, [name].",
			MinConfidence:   0.5,
		}}},
	})
	resp, err := e.Chat(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	wg.Wait()
	if resp.Source != SourceMatched {
		t.Errorf("source = %q, want matched", resp.Source)
	}
	if resp.Text != "Start by cutting carbs, Ana." {
		t.Errorf("text = %q", resp.Text)
	}
}

func TestChat_InputValidation(t *testing.T) {
	e, _ := newEngine(t, Config{})
	ctx := context.Background()

	req := testRequest()
	req.Message = "  "
	if _, err := e.Chat(ctx, req); err == nil {
		t.Error("accepted blank message")
	}

	req = testRequest()
	req.User.UserID = ""
	if _, err := e.Chat(ctx, req); err == nil {
		t.Error("accepted missing user id")
	}
}

// fakeMemStore is a minimal in-memory implementation of the memory
// store surface so the full manager can run inside engine tests.
type fakeMemStore struct {
	mu        sync.Mutex
	clock     time.Time
	messages  []memory.Message
	summaries []memory.Summary
	memories  map[string]memory.UserMemory
}

func newFakeMemStore() *fakeMemStore {
	return &fakeMemStore{
		clock:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		memories: make(map[string]memory.UserMemory),
	}
}

func (f *fakeMemStore) AppendMessage(_ context.Context, m memory.Message) (memory.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = f.clock.Add(time.Second)
	m.ID = uuid.New()
	m.CreatedAt = f.clock
	f.messages = append(f.messages, m)
	return m, nil
}

func (f *fakeMemStore) CountMessagesSince(_ context.Context, userID, coachID string, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.messages {
		if m.UserID == userID && m.CoachID == coachID && m.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (f *fakeMemStore) MessagesSince(_ context.Context, userID, coachID string, since time.Time) ([]memory.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []memory.Message
	for _, m := range f.messages {
		if m.UserID == userID && m.CoachID == coachID && m.CreatedAt.After(since) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMemStore) RecentMessages(_ context.Context, userID, coachID string, limit int) ([]memory.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []memory.Message
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

func (f *fakeMemStore) LatestSummary(_ context.Context, userID, coachID string) (*memory.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.summaries) - 1; i >= 0; i-- {
		if f.summaries[i].UserID == userID && f.summaries[i].CoachID == coachID {
			s := f.summaries[i]
			return &s, nil
		}
	}
	return nil, nil
}

func (f *fakeMemStore) InsertSummary(_ context.Context, sum memory.Summary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = f.clock.Add(time.Second)
	sum.ID = uuid.New()
	sum.CreatedAt = f.clock
	f.summaries = append(f.summaries, sum)
	return nil
}

func (f *fakeMemStore) GetUserMemory(_ context.Context, userID string) (memory.UserMemory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if mem, ok := f.memories[userID]; ok {
		return mem, nil
	}
	return memory.UserMemory{
		UserID:      userID,
		Facts:       map[string]string{},
		Preferences: map[string]string{},
		HealthData:  map[string]int{},
	}, nil
}

func (f *fakeMemStore) UpsertUserMemory(_ context.Context, mem memory.UserMemory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.memories[mem.UserID] = mem
	return nil
}

// TestChat_EmptyCorpusEndToEnd drives the whole stack with the real
// memory manager: an empty corpus routes to the matcher fallback, and
// once the recorded turns cross the summary threshold the age fact
// lands in durable user memory.
func TestChat_EmptyCorpusEndToEnd(t *testing.T) {
	store := newFakeMemStore()
	mgr, err := memory.NewManager(store, nil, memory.Config{SummaryThreshold: 4, ContextWindow: 10}, log.NewNop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	e, wg := newEngine(t, Config{
		Corpus:  &stubCorpus{count: 0},
		Entries: &stubEntries{},
		Memory:  mgr,
	})
	ctx := context.Background()

	req := testRequest()
	req.Message = "I am 35 years old and want to start keto"
	resp, err := e.Chat(ctx, req)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	wg.Wait()

	if resp.Source != SourceFallback {
		t.Errorf("source = %q, want fallback against empty corpus and entries", resp.Source)
	}
	if resp.Text == "" {
		t.Error("empty fallback text")
	}

	// Second turn brings the message count to the threshold of 4.
	req.Message = "thanks, talk soon"
	if _, err := e.Chat(ctx, req); err != nil {
		t.Fatalf("Chat second turn: %v", err)
	}
	wg.Wait()

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.summaries) != 1 {
		t.Fatalf("summaries = %d, want 1 after crossing threshold", len(store.summaries))
	}
	mem := store.memories["u1"]
	if _, ok := mem.Facts["I am 35 years old"]; !ok {
		t.Errorf("user memory facts = %v, want the age statement", mem.Facts)
	}
	if mem.HealthData["age"] != 35 {
		t.Errorf("age = %d, want 35", mem.HealthData["age"])
	}
}
