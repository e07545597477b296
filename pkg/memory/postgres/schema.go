// Package postgres provides the PostgreSQL-backed conversation store.
//
// A single [pgxpool.Pool] serves all operations. [Migrate] creates the
// users and conversations tables idempotently, so no external migration
// tooling is required.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.AppendTurn(ctx, turn)
//	history, _ := store.ReadHistory(ctx, userID, 20)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlUsers = `
CREATE TABLE IF NOT EXISTS users (
    id            BIGSERIAL    PRIMARY KEY,
    email         TEXT         UNIQUE NOT NULL,
    password_hash TEXT         NOT NULL,
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// conversations.user_id carries the token subject and is deliberately not
// constrained to users: registration runs in a separate service and dev
// tokens have no user row.
const ddlConversations = `
CREATE TABLE IF NOT EXISTS conversations (
    id          BIGSERIAL         PRIMARY KEY,
    user_id     TEXT              NOT NULL,
    role        TEXT              NOT NULL,
    content     TEXT              NOT NULL,
    sentiment   DOUBLE PRECISION  NOT NULL DEFAULT 0,
    latency_ms  BIGINT            NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ       NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_conversations_user_id
    ON conversations (user_id, id);
`

// Migrate creates or ensures all required database tables exist. It is
// idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS) and
// safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		ddlUsers,
		ddlConversations,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
