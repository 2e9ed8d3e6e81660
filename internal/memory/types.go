// Package memory tracks per-(user, coach) conversation history,
// summarizes it once enough messages accumulate, and merges extracted
// facts into a durable per-user memory record.
package memory

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleCoach Role = "coach"
)

// Message is one persisted conversation message.
type Message struct {
	ID        uuid.UUID
	UserID    string
	CoachID   string
	Role      Role
	Content   string
	CreatedAt time.Time
}

// Summary is one append-only conversation summary. Only the newest row
// per (user, coach) is current.
type Summary struct {
	ID            uuid.UUID
	UserID        string
	CoachID       string
	SummaryText   string
	KeyFacts      []string
	Topics        []string
	LastMessageID uuid.UUID
	MessageCount  int
	CreatedAt     time.Time
}

// UserMemory is the single mutable memory record per user. Facts maps
// verbatim fact text to the rule that produced it; HealthData holds
// values parsed into typed fields (age, current_weight); Preferences
// holds structured choices such as the followed diet.
type UserMemory struct {
	UserID      string
	Facts       map[string]string
	Preferences map[string]string
	HealthData  map[string]int
	LastUpdated time.Time
}

// emptyMemory returns a UserMemory with initialized maps.
func emptyMemory(userID string) UserMemory {
	return UserMemory{
		UserID:      userID,
		Facts:       make(map[string]string),
		Preferences: make(map[string]string),
		HealthData:  make(map[string]int),
	}
}
