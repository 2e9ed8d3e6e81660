// Package chat assembles responses for a chat turn: retrieval and
// memory context are gathered in parallel, generation failures fall
// back to deterministic templates, and memory writes happen in the
// background after the response is returned.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nourly/nourly/internal/knowledge"
	"github.com/nourly/nourly/internal/log"
	"github.com/nourly/nourly/internal/matcher"
	"github.com/nourly/nourly/internal/memory"
	"github.com/nourly/nourly/internal/rag"
)

// Source records which path produced a response.
type Source string

const (
	// SourceGenerated means the text came from the generation model.
	SourceGenerated Source = "generated"
	// SourceMatched means a knowledge entry answered without RAG.
	SourceMatched Source = "matched"
	// SourceFallback means a deterministic template was substituted.
	SourceFallback Source = "fallback"
)

// Request is one chat turn.
type Request struct {
	User    Profile
	Coach   Coach
	Message string
}

// Response is the outcome of one chat turn. Category is set only on
// the fallback path and names the user-safe failure class.
type Response struct {
	Text          string
	Source        Source
	Category      Category
	RetrievedDocs int
}

// Dependencies are consumer-defined so tests can substitute each one.
type (
	retriever interface {
		Retrieve(ctx context.Context, query string, f knowledge.Filter) []rag.Result
	}
	corpusCounter interface {
		Count(ctx context.Context, f knowledge.Filter) (int, error)
	}
	memoryManager interface {
		Record(ctx context.Context, userID, coachID string, role memory.Role, content string) error
		Context(ctx context.Context, userID, coachID string) (string, error)
		Memory(ctx context.Context, userID string) (memory.UserMemory, error)
	}
	entrySource interface {
		EntriesForCoach(ctx context.Context, coachID string) ([]matcher.Entry, error)
	}
)

// Config contains all required parameters for the Engine.
type Config struct {
	Retriever retriever
	Corpus    corpusCounter
	Memory    memoryManager
	Entries   entrySource
	Matcher   *matcher.Matcher
	Generator Generator
	Logger    log.Logger

	Temperature float64
	MaxTokens   int

	// RateLimiter caps generation calls proactively. Nil uses a
	// default of 10 req/s with burst 30.
	RateLimiter *rate.Limiter

	// BackgroundCtx outlives individual requests; memory writes run on
	// it so they finish even when the caller goes away. WG tracks those
	// goroutines for graceful shutdown.
	BackgroundCtx context.Context //nolint:containedctx // app lifecycle, not a request context
	WG            *sync.WaitGroup
}

func (cfg Config) validate() error {
	if cfg.Retriever == nil {
		return errors.New("retriever is required")
	}
	if cfg.Corpus == nil {
		return errors.New("corpus is required")
	}
	if cfg.Memory == nil {
		return errors.New("memory manager is required")
	}
	if cfg.Entries == nil {
		return errors.New("entry source is required")
	}
	if cfg.Matcher == nil {
		return errors.New("matcher is required")
	}
	if cfg.Generator == nil {
		return errors.New("generator is required")
	}
	if cfg.WG == nil {
		return errors.New("wait group is required")
	}
	return nil
}

// Engine runs chat turns. It is stateless across turns; all state
// lives in the injected stores.
type Engine struct {
	retriever   retriever
	corpus      corpusCounter
	memory      memoryManager
	entries     entrySource
	matcher     *matcher.Matcher
	generator   Generator
	logger      log.Logger
	temperature float64
	maxTokens   int
	limiter     *rate.Limiter
	bgCtx       context.Context //nolint:containedctx // app lifecycle, not a request context
	wg          *sync.WaitGroup
}

// New creates an Engine.
func New(cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	limiter := cfg.RateLimiter
	if limiter == nil {
		limiter = rate.NewLimiter(10, 30)
	}
	bgCtx := cfg.BackgroundCtx
	if bgCtx == nil {
		bgCtx = context.Background()
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Engine{
		retriever:   cfg.Retriever,
		corpus:      cfg.Corpus,
		memory:      cfg.Memory,
		entries:     cfg.Entries,
		matcher:     cfg.Matcher,
		generator:   cfg.Generator,
		logger:      logger,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
		limiter:     limiter,
		bgCtx:       bgCtx,
		wg:          cfg.WG,
	}, nil
}

// Chat produces the response for one turn. A coach without an indexed
// corpus is answered by the pattern matcher; otherwise retrieval and
// memory-context reads run in parallel and feed the generator. The
// turn's messages are recorded in the background after the response is
// decided, and their failure never affects the returned response.
func (e *Engine) Chat(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, errors.New("message is empty")
	}
	if req.User.UserID == "" || req.Coach.ID == "" {
		return nil, errors.New("user id and coach id are required")
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	filter := knowledge.Filter{CoachID: req.Coach.ID, UserID: req.User.UserID}
	if req.User.AccessTier != "" {
		filter.AccessTiers = accessibleTiers(req.User.AccessTier)
	}

	resp := e.answer(ctx, req, filter)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.recordTurn(req, resp.Text)
	}()

	return resp, nil
}

func (e *Engine) answer(ctx context.Context, req Request, filter knowledge.Filter) *Response {
	count, err := e.corpus.Count(ctx, knowledge.Filter{CoachID: req.Coach.ID})
	if err != nil {
		e.logger.Warn("counting corpus failed, using matcher tier", "error", err, "coach_id", req.Coach.ID)
		count = 0
	}
	if count == 0 {
		return e.matchAnswer(ctx, req)
	}
	return e.generateAnswer(ctx, req, filter)
}

// matchAnswer is the non-RAG tier for coaches without a corpus.
func (e *Engine) matchAnswer(ctx context.Context, req Request) *Response {
	entries, err := e.entries.EntriesForCoach(ctx, req.Coach.ID)
	if err != nil {
		e.logger.Warn("loading knowledge entries failed", "error", err, "coach_id", req.Coach.ID)
	}

	m := e.matcher.Respond(req.Message, entries, matcher.Profile{
		Name: req.User.Name,
		Goal: req.User.Goal,
	})
	source := SourceFallback
	if m.Matched {
		source = SourceMatched
	}
	return &Response{Text: m.Text, Source: source}
}

// generateAnswer is the RAG tier: retrieval and memory reads in
// parallel, then generation with a deterministic template floor.
func (e *Engine) generateAnswer(ctx context.Context, req Request, filter knowledge.Filter) *Response {
	var (
		results          []rag.Result
		knowledgeContext string
		convContext      string
		memContext       string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		results = e.retriever.Retrieve(gctx, req.Message, filter)
		contents := make([]string, 0, len(results))
		for _, r := range results {
			contents = append(contents, r.Document.Content)
		}
		if sentences := rag.Extract(req.Message, contents); len(sentences) > 0 {
			knowledgeContext = "- " + strings.Join(sentences, "\n- ")
		}
		return nil
	})
	g.Go(func() error {
		cc, err := e.memory.Context(gctx, req.User.UserID, req.Coach.ID)
		if err != nil {
			e.logger.Warn("loading conversation context failed", "error", err)
		} else {
			convContext = cc
		}
		mem, err := e.memory.Memory(gctx, req.User.UserID)
		if err != nil {
			e.logger.Warn("loading user memory failed", "error", err)
		} else {
			memContext = memoryContext(mem)
		}
		return nil
	})
	_ = g.Wait()

	uc := userContext(req.User)
	if memContext != "" {
		if uc != "" {
			uc += "\n"
		}
		uc += memContext
	}

	text, err := e.generator.Generate(ctx, GenerateRequest{
		SystemPrompt:        systemPrompt(req.Coach),
		UserContext:         uc,
		ConversationContext: convContext,
		KnowledgeContext:    knowledgeContext,
		Query:               req.Message,
		Temperature:         e.temperature,
		MaxTokens:           e.maxTokens,
	})
	if err != nil {
		category := Classify(err)
		e.logger.Warn("generation failed, using template answer",
			"category", category, "error", err, "coach_id", req.Coach.ID)
		return &Response{
			Text:          fallbackResponse(req.Coach, req.User),
			Source:        SourceFallback,
			Category:      category,
			RetrievedDocs: len(results),
		}
	}
	if text == "" {
		e.logger.Warn("model returned empty response", "coach_id", req.Coach.ID)
		return &Response{
			Text:          fallbackResponse(req.Coach, req.User),
			Source:        SourceFallback,
			RetrievedDocs: len(results),
		}
	}

	return &Response{Text: text, Source: SourceGenerated, RetrievedDocs: len(results)}
}

// recordTurn persists both sides of the turn on the background
// context. Failures are logged and never surfaced; a turn that already
// answered the user must not fail retroactively.
func (e *Engine) recordTurn(req Request, responseText string) {
	if err := e.memory.Record(e.bgCtx, req.User.UserID, req.Coach.ID, memory.RoleUser, req.Message); err != nil {
		e.logger.Warn("recording user message failed", "error", err)
	}
	if err := e.memory.Record(e.bgCtx, req.User.UserID, req.Coach.ID, memory.RoleCoach, responseText); err != nil {
		e.logger.Warn("recording coach message failed", "error", err)
	}
}

// memoryContext renders the durable user memory for the prompt.
func memoryContext(mem memory.UserMemory) string {
	var parts []string
	if age, ok := mem.HealthData["age"]; ok {
		parts = append(parts, fmt.Sprintf("Age: %d", age))
	}
	if w, ok := mem.HealthData["current_weight"]; ok {
		parts = append(parts, fmt.Sprintf("Current weight: %d", w))
	}
	if diet, ok := mem.Preferences["diet"]; ok {
		parts = append(parts, "Diet: "+diet)
	}
	if len(mem.Facts) > 0 {
		facts := make([]string, 0, len(mem.Facts))
		for f := range mem.Facts {
			facts = append(facts, f)
		}
		// Map order is random; sort for a stable prompt.
		sort.Strings(facts)
		parts = append(parts, "Known facts: "+strings.Join(facts, "; "))
	}
	if len(parts) == 0 {
		return ""
	}
	return "About the user:\n" + strings.Join(parts, "\n")
}

// accessibleTiers maps a user's tier to the document tiers they may
// retrieve.
func accessibleTiers(tier string) []string {
	if strings.EqualFold(tier, knowledge.TierPremium) {
		return []string{knowledge.TierFree, knowledge.TierPremium}
	}
	return []string{knowledge.TierFree}
}
