package rag

import (
	"context"
	"strings"

	"github.com/nourly/nourly/internal/knowledge"
	"github.com/nourly/nourly/internal/log"
)

// FallbackScore is the nominal similarity assigned to documents served
// by the unranked degraded path. The value is display-level only;
// nothing downstream may rank on it, which is why fallback results also
// carry the Fallback flag.
const FallbackScore = 0.7

// Result is one retrieved document. Score is cosine similarity in
// [0, 1] for ranked results and FallbackScore for degraded ones.
type Result struct {
	Document knowledge.Document
	Score    float64
	Fallback bool
}

// corpus is the slice of the document store the retriever needs.
type corpus interface {
	Search(ctx context.Context, vec []float32, f knowledge.Filter, threshold float64, limit int) ([]knowledge.Result, error)
	ListByFilter(ctx context.Context, f knowledge.Filter, limit int) ([]knowledge.Document, error)
}

// Retriever finds the corpus documents nearest a query. It never
// returns an error: embedding or search failures degrade to a bounded
// unranked listing, and if even that fails the result is empty.
type Retriever struct {
	embedder  embeddingClient
	store     corpus
	logger    log.Logger
	threshold float64
	limit     int
}

type embeddingClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// NewRetriever creates a Retriever. threshold is the minimum cosine
// similarity for a ranked result; limit caps results on both paths.
func NewRetriever(embedder embeddingClient, store corpus, threshold float64, limit int, logger log.Logger) *Retriever {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Retriever{
		embedder:  embedder,
		store:     store,
		logger:    logger,
		threshold: threshold,
		limit:     limit,
	}
}

// Retrieve returns the documents most similar to query under the
// filter, best first. An empty query or an empty corpus yields an
// empty slice.
func (r *Retriever) Retrieve(ctx context.Context, query string, f knowledge.Filter) []Result {
	if strings.TrimSpace(query) == "" {
		return nil
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		r.logger.Warn("embedding query failed, using unranked fallback", "error", err)
		return r.fallback(ctx, f)
	}

	matches, err := r.store.Search(ctx, vec, f, r.threshold, r.limit)
	if err != nil {
		r.logger.Warn("vector search failed, using unranked fallback", "error", err)
		return r.fallback(ctx, f)
	}

	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		results = append(results, Result{Document: m.Document, Score: m.Similarity})
	}
	return results
}

func (r *Retriever) fallback(ctx context.Context, f knowledge.Filter) []Result {
	docs, err := r.store.ListByFilter(ctx, f, r.limit)
	if err != nil {
		r.logger.Error("fallback listing failed, returning no documents", "error", err)
		return nil
	}
	results := make([]Result, 0, len(docs))
	for _, d := range docs {
		results = append(results, Result{Document: d, Score: FallbackScore, Fallback: true})
	}
	return results
}
