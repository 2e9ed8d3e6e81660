package testutil

import (
	"context"
	"errors"
	"hash/fnv"
	"math"

	"github.com/nourly/nourly/internal/embedding"
)

// FakeEmbedder is a deterministic embedding.Client for tests. The same
// text always maps to the same unit vector, and texts sharing more
// words produce more similar vectors, which is enough for exercising
// threshold and ordering logic without a real model.
type FakeEmbedder struct {
	// Err, when set, is returned from every call. Used to simulate an
	// unavailable embedding backend.
	Err error

	// Calls counts Embed and EmbedBatch invocations.
	Calls int
}

var _ embedding.Client = (*FakeEmbedder)(nil)

func (f *FakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *FakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.Calls++
	if f.Err != nil {
		return nil, f.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		if t == "" {
			return nil, errors.New("cannot embed empty text")
		}
		vecs[i] = hashVector(t)
	}
	return vecs, nil
}

// hashVector spreads word hashes over the vector and normalizes to unit
// length so cosine similarity behaves sensibly.
func hashVector(text string) []float32 {
	vec := make([]float32, embedding.VectorDimension)
	start := 0
	addWord := func(word string) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(word))
		sum := h.Sum64()
		for j := range 8 {
			idx := int((sum >> (j * 8)) % uint64(len(vec)))
			vec[idx] += float32((sum>>(j*4))%17) + 1
		}
	}
	for i := range len(text) {
		if text[i] == ' ' || text[i] == '\n' || text[i] == '\t' {
			if i > start {
				addWord(text[start:i])
			}
			start = i + 1
		}
	}
	if start < len(text) {
		addWord(text[start:])
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
