// Package knowledge stores and searches the embedded document corpus
// backed by PostgreSQL + pgvector.
package knowledge

import (
	"errors"
	"time"
)

// ErrNotFound reports that no document matched the lookup.
var ErrNotFound = errors.New("document not found")

// Access tiers gate which documents a user may retrieve.
const (
	TierFree    = "free"
	TierPremium = "premium"
)

// Document is one embedded chunk of a source text. Chunks from the
// same source share SourceID and are ordered by ChunkIndex; StartChar
// and EndChar locate the chunk in the original text. An empty UserID
// means the document is shared with every user of the coach.
type Document struct {
	ID          string
	SourceID    string
	ChunkIndex  int
	TotalChunks int
	StartChar   int
	EndChar     int
	Content     string
	Embedding   []float32
	CoachID     string
	UserID      string
	Category    string
	Title       string
	AccessTier  string
	CreatedAt   time.Time
}

// Filter narrows searches and listings. Zero-value fields are ignored.
// A set UserID matches shared documents plus that user's own.
type Filter struct {
	CoachID     string
	UserID      string
	Category    string
	AccessTiers []string
}

// Result pairs a document with its cosine similarity to the query
// vector, in [0, 1].
type Result struct {
	Document   Document
	Similarity float64
}
