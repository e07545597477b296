// Package mock provides an in-memory test double for the conversation store.
//
// The mock retains appended turns and serves them back through ReadHistory
// with the same last-N chronological window as the real store, so a test can
// drive a full conversation loop without a database. Exported fields control
// injected failures. All methods are safe for concurrent use.
//
// Typical usage:
//
//	store := mock.NewStore()
//	store.Seed(memory.Turn{UserID: "u1", Role: memory.RoleUser, Content: "hi"})
//
//	// inject store into the system under test …
//
//	if got := len(store.AppendedTurns()); got != 2 {
//	    t.Errorf("expected 2 appended turns, got %d", got)
//	}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/avishka-hashara/crosstalk/pkg/memory"
)

// Compile-time interface check.
var _ memory.ConversationStore = (*Store)(nil)

// ReadHistoryCall records the arguments of one ReadHistory invocation.
type ReadHistoryCall struct {
	UserID string
	Limit  int
}

// Store is a configurable test double for [memory.ConversationStore].
type Store struct {
	mu sync.Mutex

	// ReadErr is returned by [Store.ReadHistory] when non-nil.
	ReadErr error

	// AppendErr is returned by [Store.AppendTurn] when non-nil.
	AppendErr error

	turns []memory.Turn

	readCalls   []ReadHistoryCall
	appendCalls []memory.Turn
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{}
}

// Seed pre-populates history without recording append calls. Turns with a
// zero CreatedAt get the current time.
func (m *Store) Seed(turns ...memory.Turn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, turn := range turns {
		if turn.CreatedAt.IsZero() {
			turn.CreatedAt = time.Now()
		}
		m.turns = append(m.turns, turn)
	}
}

// ReadHistory implements [memory.ConversationStore]. It returns the last
// limit retained turns for userID, oldest first, mirroring the real store's
// window semantics.
func (m *Store) ReadHistory(_ context.Context, userID string, limit int) ([]memory.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.readCalls = append(m.readCalls, ReadHistoryCall{UserID: userID, Limit: limit})
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}

	if limit <= 0 {
		limit = memory.DefaultHistoryLimit
	}

	matched := []memory.Turn{}
	for _, turn := range m.turns {
		if turn.UserID == userID {
			matched = append(matched, turn)
		}
	}
	if len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched, nil
}

// AppendTurn implements [memory.ConversationStore]. The turn is retained and
// visible to subsequent ReadHistory calls.
func (m *Store) AppendTurn(_ context.Context, turn memory.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	m.appendCalls = append(m.appendCalls, turn)
	if m.AppendErr != nil {
		return m.AppendErr
	}
	m.turns = append(m.turns, turn)
	return nil
}

// ReadCalls returns a copy of all recorded ReadHistory invocations.
func (m *Store) ReadCalls() []ReadHistoryCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ReadHistoryCall, len(m.readCalls))
	copy(out, m.readCalls)
	return out
}

// AppendedTurns returns a copy of all turns passed to AppendTurn, including
// ones rejected by an injected AppendErr.
func (m *Store) AppendedTurns() []memory.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]memory.Turn, len(m.appendCalls))
	copy(out, m.appendCalls)
	return out
}

// Turns returns a copy of all retained turns in insertion order.
func (m *Store) Turns() []memory.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]memory.Turn, len(m.turns))
	copy(out, m.turns)
	return out
}

// Reset clears retained turns and recorded calls without altering injected
// errors.
func (m *Store) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = nil
	m.readCalls = nil
	m.appendCalls = nil
}
