package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nourly/nourly/internal/log"
)

// messageCols is the SELECT column list understood by scanMessages.
const messageCols = `id, user_id, coach_id, role, content, created_at`

// Store persists messages, summaries, and user memory in PostgreSQL.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewStore creates a memory Store.
func NewStore(pool *pgxpool.Pool, logger log.Logger) (*Store, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// AppendMessage persists one message and returns it with the generated
// id and timestamp filled in.
func (s *Store) AppendMessage(ctx context.Context, m Message) (Message, error) {
	if m.UserID == "" || m.CoachID == "" {
		return Message{}, errors.New("user id and coach id are required")
	}
	if m.Role != RoleUser && m.Role != RoleCoach {
		return Message{}, fmt.Errorf("invalid role %q", m.Role)
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO messages (user_id, coach_id, role, content)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		m.UserID, m.CoachID, string(m.Role), m.Content,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("inserting message: %w", err)
	}
	return m, nil
}

// CountMessagesSince reports how many messages for the pair are newer
// than the given time. A zero time counts everything.
func (s *Store) CountMessagesSince(ctx context.Context, userID, coachID string, since time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages
		 WHERE user_id = $1 AND coach_id = $2 AND created_at > $3`,
		userID, coachID, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return count, nil
}

// MessagesSince returns the pair's messages newer than the given time,
// oldest first.
func (s *Store) MessagesSince(ctx context.Context, userID, coachID string, since time.Time) ([]Message, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM messages
		 WHERE user_id = $1 AND coach_id = $2 AND created_at > $3
		 ORDER BY created_at`, messageCols),
		userID, coachID, since)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	return scanMessages(rows)
}

// RecentMessages returns the pair's latest messages, oldest first,
// capped at limit.
func (s *Store) RecentMessages(ctx context.Context, userID, coachID string, limit int) ([]Message, error) {
	if limit < 1 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM (
			SELECT %s FROM messages
			WHERE user_id = $1 AND coach_id = $2
			ORDER BY created_at DESC
			LIMIT $3
		 ) latest ORDER BY created_at`, messageCols, messageCols),
		userID, coachID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent messages: %w", err)
	}
	return scanMessages(rows)
}

func scanMessages(rows pgx.Rows) ([]Message, error) {
	defer rows.Close()
	var msgs []Message
	for rows.Next() {
		var m Message
		var role string
		if err := rows.Scan(&m.ID, &m.UserID, &m.CoachID, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Role = Role(role)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading message rows: %w", err)
	}
	return msgs, nil
}

// LatestSummary returns the newest summary for the pair, or nil when
// none exists yet.
func (s *Store) LatestSummary(ctx context.Context, userID, coachID string) (*Summary, error) {
	var (
		sum    Summary
		facts  []byte
		topics []byte
		lastID *uuid.UUID
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, coach_id, summary_text, key_facts, topics,
		        last_message_id, message_count, created_at
		 FROM conversation_summaries
		 WHERE user_id = $1 AND coach_id = $2
		 ORDER BY created_at DESC
		 LIMIT 1`,
		userID, coachID,
	).Scan(&sum.ID, &sum.UserID, &sum.CoachID, &sum.SummaryText,
		&facts, &topics, &lastID, &sum.MessageCount, &sum.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest summary: %w", err)
	}

	if err := json.Unmarshal(facts, &sum.KeyFacts); err != nil {
		return nil, fmt.Errorf("decoding key facts: %w", err)
	}
	if err := json.Unmarshal(topics, &sum.Topics); err != nil {
		return nil, fmt.Errorf("decoding topics: %w", err)
	}
	if lastID != nil {
		sum.LastMessageID = *lastID
	}
	return &sum, nil
}

// InsertSummary appends a new summary row. Summaries are never updated
// in place.
func (s *Store) InsertSummary(ctx context.Context, sum Summary) error {
	facts, err := json.Marshal(emptyIfNil(sum.KeyFacts))
	if err != nil {
		return fmt.Errorf("encoding key facts: %w", err)
	}
	topics, err := json.Marshal(emptyIfNil(sum.Topics))
	if err != nil {
		return fmt.Errorf("encoding topics: %w", err)
	}

	var lastID *uuid.UUID
	if sum.LastMessageID != uuid.Nil {
		lastID = &sum.LastMessageID
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO conversation_summaries
		 (user_id, coach_id, summary_text, key_facts, topics, last_message_id, message_count)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sum.UserID, sum.CoachID, sum.SummaryText, facts, topics, lastID, sum.MessageCount)
	if err != nil {
		return fmt.Errorf("inserting summary: %w", err)
	}
	return nil
}

// GetUserMemory loads the user's memory record. A user without one gets
// an empty record with initialized maps.
func (s *Store) GetUserMemory(ctx context.Context, userID string) (UserMemory, error) {
	var (
		mem    = emptyMemory(userID)
		facts  []byte
		prefs  []byte
		health []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT facts, preferences, health_data, last_updated
		 FROM user_memory WHERE user_id = $1`,
		userID,
	).Scan(&facts, &prefs, &health, &mem.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return mem, nil
	}
	if err != nil {
		return UserMemory{}, fmt.Errorf("querying user memory: %w", err)
	}

	if err := json.Unmarshal(facts, &mem.Facts); err != nil {
		return UserMemory{}, fmt.Errorf("decoding facts: %w", err)
	}
	if err := json.Unmarshal(prefs, &mem.Preferences); err != nil {
		return UserMemory{}, fmt.Errorf("decoding preferences: %w", err)
	}
	if err := json.Unmarshal(health, &mem.HealthData); err != nil {
		return UserMemory{}, fmt.Errorf("decoding health data: %w", err)
	}
	return mem, nil
}

// UpsertUserMemory writes the full memory record, inserting on first
// write. The call is idempotent.
func (s *Store) UpsertUserMemory(ctx context.Context, mem UserMemory) error {
	if mem.UserID == "" {
		return errors.New("user id is required")
	}
	facts, err := json.Marshal(mem.Facts)
	if err != nil {
		return fmt.Errorf("encoding facts: %w", err)
	}
	prefs, err := json.Marshal(mem.Preferences)
	if err != nil {
		return fmt.Errorf("encoding preferences: %w", err)
	}
	health, err := json.Marshal(mem.HealthData)
	if err != nil {
		return fmt.Errorf("encoding health data: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO user_memory (user_id, facts, preferences, health_data, last_updated)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (user_id) DO UPDATE SET
			facts = EXCLUDED.facts,
			preferences = EXCLUDED.preferences,
			health_data = EXCLUDED.health_data,
			last_updated = now()`,
		mem.UserID, facts, prefs, health)
	if err != nil {
		return fmt.Errorf("upserting user memory: %w", err)
	}
	return nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
