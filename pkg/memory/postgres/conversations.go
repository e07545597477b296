package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/avishka-hashara/crosstalk/pkg/memory"
)

// AppendTurn implements [memory.ConversationStore]. It inserts one row into
// the conversations table; created_at is assigned by the database.
func (s *Store) AppendTurn(ctx context.Context, turn memory.Turn) error {
	const q = `
		INSERT INTO conversations
		    (user_id, role, content, sentiment, latency_ms)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.pool.Exec(ctx, q,
		turn.UserID,
		string(turn.Role),
		turn.Content,
		turn.Sentiment,
		turn.Latency.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("conversation store: append turn: %w", err)
	}
	return nil
}

// ReadHistory implements [memory.ConversationStore]. It returns the last
// limit turns for userID in chronological order (oldest first). The inner
// query picks the most recent rows, the outer query restores insertion order.
func (s *Store) ReadHistory(ctx context.Context, userID string, limit int) ([]memory.Turn, error) {
	if limit <= 0 {
		limit = memory.DefaultHistoryLimit
	}

	const q = `
		SELECT user_id, role, content, sentiment, latency_ms, created_at
		FROM (
		    SELECT id, user_id, role, content, sentiment, latency_ms, created_at
		    FROM   conversations
		    WHERE  user_id = $1
		    ORDER  BY id DESC
		    LIMIT  $2
		) recent
		ORDER BY id`

	rows, err := s.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("conversation store: read history: %w", err)
	}
	return collectTurns(rows)
}

// collectTurns scans pgx rows into a slice of Turn values.
func collectTurns(rows pgx.Rows) ([]memory.Turn, error) {
	turns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Turn, error) {
		var (
			t         memory.Turn
			role      string
			latencyMS int64
		)
		if err := row.Scan(
			&t.UserID,
			&role,
			&t.Content,
			&t.Sentiment,
			&latencyMS,
			&t.CreatedAt,
		); err != nil {
			return memory.Turn{}, err
		}
		t.Role = memory.Role(role)
		t.Latency = time.Duration(latencyMS) * time.Millisecond
		return t, nil
	})
	if err != nil {
		return nil, fmt.Errorf("conversation store: scan rows: %w", err)
	}
	if turns == nil {
		turns = []memory.Turn{}
	}
	return turns, nil
}
