// Package memory defines the conversation store that persists dialogue turns
// and recalls recent history for the language model's context window.
//
// The store keeps one row per completed turn. Reads return the last N turns
// in chronological order so they can be prepended to the LLM prompt as-is.
// Writes happen once per turn and carry analytics columns (sentiment
// polarity, stage latency) that are recorded for observability and never
// influence the reply.
//
// The interface is public so that external packages can supply alternative
// backends (PostgreSQL, in-memory, …) without depending on crosstalk
// internals.
//
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"time"
)

// DefaultHistoryLimit is the number of turns [ConversationStore.ReadHistory]
// returns when the caller passes a non-positive limit.
const DefaultHistoryLimit = 20

// Role identifies the speaker of a conversation turn.
type Role string

// Turn roles as persisted in the conversations table.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one persisted dialogue turn.
type Turn struct {
	// UserID is the authenticated caller this turn belongs to
	// (the token subject).
	UserID string

	// Role identifies the speaker: RoleUser or RoleAssistant.
	Role Role

	// Content is the turn text as transcribed or generated.
	Content string

	// Sentiment is the compound polarity of Content in [-1, 1].
	// Analytics only; zero when scoring was unavailable.
	Sentiment float64

	// Latency is how long the turn took to produce: transcription time for
	// user turns, time to first synthesized byte for assistant turns.
	// Persisted with millisecond resolution; zero when not measured.
	Latency time.Duration

	// CreatedAt is when the turn was persisted. Assigned by the store on
	// append and populated on reads.
	CreatedAt time.Time
}

// ConversationStore persists dialogue turns and recalls recent history.
type ConversationStore interface {
	// ReadHistory returns the last limit turns for userID in chronological
	// order (oldest first). A non-positive limit applies
	// [DefaultHistoryLimit]. A user with no history yields an empty slice,
	// not an error.
	ReadHistory(ctx context.Context, userID string, limit int) ([]Turn, error)

	// AppendTurn persists one completed turn. CreatedAt is assigned by the
	// store; any value set by the caller is ignored.
	AppendTurn(ctx context.Context, turn Turn) error
}
