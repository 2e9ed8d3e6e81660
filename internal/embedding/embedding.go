// Package embedding turns text into fixed-dimension vectors for
// similarity search. The production client is backed by a Genkit
// embedder; tests substitute a deterministic fake.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"google.golang.org/genai"
)

// VectorDimension is the embedding size stored in the documents table.
// Changing it requires a schema migration and a full re-index.
const VectorDimension = 768

// ErrUnavailable reports that the embedding backend could not be
// reached. Retrieval treats it as a signal to fall back, not fail.
var ErrUnavailable = errors.New("embedding service unavailable")

// Client generates embeddings for text.
type Client interface {
	// Embed returns the vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per input text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// GenkitClient adapts a Genkit ai.Embedder to the Client interface,
// pinning the output dimensionality to VectorDimension.
type GenkitClient struct {
	embedder ai.Embedder
}

// NewGenkitClient wraps a Genkit embedder.
func NewGenkitClient(embedder ai.Embedder) (*GenkitClient, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	return &GenkitClient{embedder: embedder}, nil
}

func (c *GenkitClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *GenkitClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	docs := make([]*ai.Document, 0, len(texts))
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, errors.New("cannot embed empty text")
		}
		docs = append(docs, ai.DocumentFromText(t, nil))
	}

	dim := int32(VectorDimension)
	resp, err := c.embedder.Embed(ctx, &ai.EmbedRequest{
		Input:   docs,
		Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(resp.Embeddings), len(texts))
	}

	vecs := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if len(e.Embedding) != VectorDimension {
			return nil, fmt.Errorf("embedder returned %d dimensions, want %d", len(e.Embedding), VectorDimension)
		}
		vecs[i] = e.Embedding
	}
	return vecs, nil
}
