package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nourly/nourly/internal/knowledge"
	"github.com/nourly/nourly/internal/log"
)

// Source is a raw text to ingest along with its corpus metadata. An
// empty UserID publishes the document to every user of the coach.
type Source struct {
	ID         string
	Text       string
	CoachID    string
	UserID     string
	Category   string
	Title      string
	AccessTier string
}

// IndexResult reports what an ingestion run produced.
type IndexResult struct {
	SourceID string
	Chunks   int
}

// documentWriter is the slice of the store the indexer needs.
type documentWriter interface {
	ReplaceSource(ctx context.Context, sourceID string, docs []knowledge.Document) error
}

type batchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Indexer runs the ingestion pipeline: chunk, embed, replace the
// source's rows in the corpus. Re-indexing a source supersedes its
// previous chunks atomically.
type Indexer struct {
	chunker  *Chunker
	embedder batchEmbedder
	store    documentWriter
	logger   log.Logger
}

// NewIndexer creates an Indexer.
func NewIndexer(chunker *Chunker, embedder batchEmbedder, store documentWriter, logger log.Logger) *Indexer {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Indexer{chunker: chunker, embedder: embedder, store: store, logger: logger}
}

// Index ingests one source. Unlike retrieval, ingestion fails loudly:
// a partial corpus is worse than a stale one.
func (ix *Indexer) Index(ctx context.Context, src Source) (IndexResult, error) {
	if strings.TrimSpace(src.ID) == "" {
		return IndexResult{}, errors.New("source id is required")
	}

	chunks := ix.chunker.Split(src.Text, src.ID)
	if len(chunks) == 0 {
		// An empty text clears the source from the corpus.
		if err := ix.store.ReplaceSource(ctx, src.ID, nil); err != nil {
			return IndexResult{}, fmt.Errorf("clearing source %s: %w", src.ID, err)
		}
		return IndexResult{SourceID: src.ID}, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vecs, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return IndexResult{}, fmt.Errorf("embedding %d chunks of %s: %w", len(chunks), src.ID, err)
	}

	docs := make([]knowledge.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = knowledge.Document{
			ID:          fmt.Sprintf("%s:%d", src.ID, c.ChunkIndex),
			SourceID:    src.ID,
			ChunkIndex:  c.ChunkIndex,
			TotalChunks: c.TotalChunks,
			StartChar:   c.StartChar,
			EndChar:     c.EndChar,
			Content:     c.Content,
			Embedding:   vecs[i],
			CoachID:     src.CoachID,
			UserID:      src.UserID,
			Category:    src.Category,
			Title:       src.Title,
			AccessTier:  src.AccessTier,
		}
	}

	if err := ix.store.ReplaceSource(ctx, src.ID, docs); err != nil {
		return IndexResult{}, fmt.Errorf("storing %s: %w", src.ID, err)
	}

	ix.logger.Info("source indexed", "source_id", src.ID, "chunks", len(docs))
	return IndexResult{SourceID: src.ID, Chunks: len(docs)}, nil
}
