package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/nourly/nourly/internal/embedding"
	"github.com/nourly/nourly/internal/log"
)

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// documentCols is the SELECT column list understood by scanDocuments.
const documentCols = `id, source_id, chunk_index, total_chunks, start_char, end_char,
	content, embedding, coach_id, COALESCE(user_id, ''), category, title, access_tier, created_at`

// Store persists and searches embedded documents.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewStore creates a document Store.
func NewStore(pool *pgxpool.Pool, logger log.Logger) (*Store, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Upsert inserts documents, replacing any rows with the same id.
func (s *Store) Upsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := insertDocuments(ctx, tx, docs); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

// ReplaceSource atomically swaps every chunk of a source for the given
// documents. All docs must carry the sourceID; re-ingesting a source is
// a delete plus insert in one transaction so readers never observe a
// half-replaced corpus.
func (s *Store) ReplaceSource(ctx context.Context, sourceID string, docs []Document) error {
	if strings.TrimSpace(sourceID) == "" {
		return errors.New("source id is required")
	}
	for _, d := range docs {
		if d.SourceID != sourceID {
			return fmt.Errorf("document %s belongs to source %q, not %q", d.ID, d.SourceID, sourceID)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM documents WHERE source_id = $1`, sourceID); err != nil {
		return fmt.Errorf("deleting source %s: %w", sourceID, err)
	}
	if err := insertDocuments(ctx, tx, docs); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing: %w", err)
	}

	s.logger.Info("source replaced", "source_id", sourceID, "chunks", len(docs))
	return nil
}

func insertDocuments(ctx context.Context, q querier, docs []Document) error {
	const insertSQL = `INSERT INTO documents
		(id, source_id, chunk_index, total_chunks, start_char, end_char,
		 content, embedding, coach_id, user_id, category, title, access_tier)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			source_id = EXCLUDED.source_id,
			chunk_index = EXCLUDED.chunk_index,
			total_chunks = EXCLUDED.total_chunks,
			start_char = EXCLUDED.start_char,
			end_char = EXCLUDED.end_char,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			coach_id = EXCLUDED.coach_id,
			user_id = EXCLUDED.user_id,
			category = EXCLUDED.category,
			title = EXCLUDED.title,
			access_tier = EXCLUDED.access_tier`

	for _, d := range docs {
		if len(d.Embedding) != embedding.VectorDimension {
			return fmt.Errorf("document %s has %d dimensions, want %d",
				d.ID, len(d.Embedding), embedding.VectorDimension)
		}
		tier := d.AccessTier
		if tier == "" {
			tier = TierFree
		}
		_, err := q.Exec(ctx, insertSQL,
			d.ID, d.SourceID, d.ChunkIndex, d.TotalChunks, d.StartChar, d.EndChar,
			d.Content, pgvector.NewVector(d.Embedding), d.CoachID, d.UserID, d.Category, d.Title, tier)
		if err != nil {
			return fmt.Errorf("inserting document %s: %w", d.ID, err)
		}
	}
	return nil
}

// Search returns documents whose cosine similarity to the query vector
// meets threshold, most similar first, capped at limit.
func (s *Store) Search(ctx context.Context, vec []float32, f Filter, threshold float64, limit int) ([]Result, error) {
	if len(vec) != embedding.VectorDimension {
		return nil, fmt.Errorf("query vector has %d dimensions, want %d", len(vec), embedding.VectorDimension)
	}
	if limit < 1 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	where, args := f.clauses([]any{pgvector.NewVector(vec), threshold, limit})
	query := fmt.Sprintf(`SELECT %s, 1 - (embedding <=> $1) AS similarity
		FROM documents
		WHERE 1 - (embedding <=> $1) >= $2%s
		ORDER BY embedding <=> $1
		LIMIT $3`, documentCols, where)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("searching documents: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := scanDocument(rows, &r.Document, &r.Similarity); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading search rows: %w", err)
	}
	return results, nil
}

// ListByFilter returns up to limit documents matching the filter in
// source order, with no similarity ranking. Used as the degraded path
// when embeddings are unavailable.
func (s *Store) ListByFilter(ctx context.Context, f Filter, limit int) ([]Document, error) {
	if limit < 1 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	where, args := f.clauses([]any{limit})
	query := fmt.Sprintf(`SELECT %s FROM documents
		WHERE true%s
		ORDER BY source_id, chunk_index
		LIMIT $1`, documentCols, where)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := scanDocument(rows, &d, nil); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading list rows: %w", err)
	}
	return docs, nil
}

// Count reports how many documents match the filter.
func (s *Store) Count(ctx context.Context, f Filter) (int, error) {
	where, args := f.clauses(nil)
	query := "SELECT COUNT(*) FROM documents WHERE true" + where

	var count int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return count, nil
}

// Get returns a single document by id.
func (s *Store) Get(ctx context.Context, id string) (Document, error) {
	var d Document
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM documents WHERE id = $1`, documentCols), id)
	if err := scanDocument(row, &d, nil); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	return d, nil
}

// clauses renders the filter as additional AND conditions, numbering
// placeholders after the ones already in args.
func (f Filter) clauses(args []any) (string, []any) {
	var b strings.Builder
	if f.CoachID != "" {
		args = append(args, f.CoachID)
		fmt.Fprintf(&b, " AND coach_id = $%d", len(args))
	}
	if f.UserID != "" {
		args = append(args, f.UserID)
		fmt.Fprintf(&b, " AND (user_id IS NULL OR user_id = $%d)", len(args))
	}
	if f.Category != "" {
		args = append(args, f.Category)
		fmt.Fprintf(&b, " AND category = $%d", len(args))
	}
	if len(f.AccessTiers) > 0 {
		args = append(args, f.AccessTiers)
		fmt.Fprintf(&b, " AND access_tier = ANY($%d)", len(args))
	}
	return b.String(), args
}

func scanDocument(row pgx.Row, d *Document, similarity *float64) error {
	var vec pgvector.Vector
	dest := []any{
		&d.ID, &d.SourceID, &d.ChunkIndex, &d.TotalChunks, &d.StartChar, &d.EndChar,
		&d.Content, &vec, &d.CoachID, &d.UserID, &d.Category, &d.Title, &d.AccessTier, &d.CreatedAt,
	}
	if similarity != nil {
		dest = append(dest, similarity)
	}
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pgx.ErrNoRows
		}
		return fmt.Errorf("scanning document: %w", err)
	}
	d.Embedding = vec.Slice()
	return nil
}
