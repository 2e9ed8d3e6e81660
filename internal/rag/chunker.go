// Package rag implements the retrieval side of the pipeline: chunking
// source text, indexing it into the document store, similarity search
// with graceful degradation, and extractive relevance scoring.
package rag

import "unicode"

// Chunk is one boundary-aware segment of a source text. Offsets are
// rune positions into the original text, with [StartChar, EndChar)
// ranges that overlap by the configured amount and cover the whole
// input.
type Chunk struct {
	Content     string
	SourceID    string
	ChunkIndex  int
	TotalChunks int
	StartChar   int
	EndChar     int
}

// Chunker splits text into overlapping segments, preferring sentence,
// then paragraph, then word boundaries over hard cuts.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a Chunker. size is the target chunk length in
// runes; overlap is how many runes consecutive chunks share. overlap
// must be smaller than size.
func NewChunker(size, overlap int) *Chunker {
	if size < 1 {
		size = 1
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}
	return &Chunker{size: size, overlap: overlap}
}

// Split chunks text for the given source. Empty input yields no
// chunks; input no longer than the target size yields exactly one.
func (c *Chunker) Split(text, sourceID string) []Chunk {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	if len(runes) <= c.size {
		return []Chunk{{
			Content:     text,
			SourceID:    sourceID,
			ChunkIndex:  0,
			TotalChunks: 1,
			StartChar:   0,
			EndChar:     len(runes),
		}}
	}

	var chunks []Chunk
	start := 0
	for start < len(runes) {
		end := start + c.size
		if end >= len(runes) {
			end = len(runes)
		} else {
			// A boundary is only worth taking if it leaves more than
			// half a window behind it, otherwise the hard cut stands.
			if b := findBoundary(runes, start, end); b > start+(end-start)/2 {
				end = b
			}
		}

		chunks = append(chunks, Chunk{
			Content:    string(runes[start:end]),
			SourceID:   sourceID,
			ChunkIndex: len(chunks),
			StartChar:  start,
			EndChar:    end,
		})

		if end >= len(runes) {
			break
		}
		next := end - c.overlap
		if next <= start {
			// Overlap would revisit the same window forever.
			next = end
		}
		start = next
	}

	for i := range chunks {
		chunks[i].TotalChunks = len(chunks)
	}
	return chunks
}

// findBoundary searches backward from end for the best split point
// inside (start, end]: after a sentence terminator first, then after a
// paragraph break, then after any whitespace. Returns start when no
// boundary exists.
func findBoundary(runes []rune, start, end int) int {
	for i := end - 1; i > start; i-- {
		if isSentenceEnd(runes[i-1]) && unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}
	for i := end - 1; i > start; i-- {
		if runes[i] == '\n' && runes[i-1] == '\n' {
			return i + 1
		}
	}
	for i := end - 1; i > start; i-- {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}
	return start
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?':
		return true
	}
	return false
}
