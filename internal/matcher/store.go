package matcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store loads seeded knowledge entries. Entries are read-only at match
// time; seeding happens out of band.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates an entry Store.
func NewStore(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &Store{pool: pool}, nil
}

// EntriesForCoach returns the coach's entries, highest priority first.
func (s *Store) EntriesForCoach(ctx context.Context, coachID string) ([]Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, coach_id, category, trigger_patterns, answer_template, min_confidence, priority
		 FROM knowledge_entries
		 WHERE coach_id = $1
		 ORDER BY priority DESC, id`,
		coachID)
	if err != nil {
		return nil, fmt.Errorf("querying knowledge entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e        Entry
			patterns []byte
		)
		if err := rows.Scan(&e.ID, &e.CoachID, &e.Category, &patterns,
			&e.AnswerTemplate, &e.MinConfidence, &e.Priority); err != nil {
			return nil, fmt.Errorf("scanning knowledge entry: %w", err)
		}
		if err := json.Unmarshal(patterns, &e.TriggerPatterns); err != nil {
			return nil, fmt.Errorf("decoding trigger patterns for %s: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading entry rows: %w", err)
	}
	return entries, nil
}

// Seed inserts entries for a coach, used by ingestion tooling and
// tests.
func (s *Store) Seed(ctx context.Context, entries []Entry) error {
	for _, e := range entries {
		patterns, err := json.Marshal(e.TriggerPatterns)
		if err != nil {
			return fmt.Errorf("encoding trigger patterns: %w", err)
		}
		_, err = s.pool.Exec(ctx,
			`INSERT INTO knowledge_entries
			 (coach_id, category, trigger_patterns, answer_template, min_confidence, priority)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			e.CoachID, e.Category, patterns, e.AnswerTemplate, e.MinConfidence, e.Priority)
		if err != nil {
			return fmt.Errorf("inserting knowledge entry: %w", err)
		}
	}
	return nil
}
