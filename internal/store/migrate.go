package store

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaStatements creates the tables the core touches, per spec.md §6.
// Schema ownership beyond these columns belongs to the admin UI, which is
// out of this repo's scope; this is only enough for the core to run
// end to end against an empty database.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS pricing_plans (
		id SERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		requests_per_second INTEGER NOT NULL,
		requests_per_day INTEGER NOT NULL,
		price NUMERIC(78,0) NOT NULL
	)`,
	`DO $$ BEGIN
		CREATE TYPE api_key_status AS ENUM ('active', 'revoked');
	EXCEPTION WHEN duplicate_object THEN NULL; END $$`,
	`CREATE TABLE IF NOT EXISTS api_keys (
		id SERIAL PRIMARY KEY,
		api_key TEXT UNIQUE NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		pricing_plan_id BIGINT REFERENCES pricing_plans(id),
		status api_key_status NOT NULL DEFAULT 'active',
		active_until TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`DO $$ BEGIN
		CREATE TYPE payment_session_status AS ENUM ('pending', 'completed', 'failed', 'expired');
	EXCEPTION WHEN duplicate_object THEN NULL; END $$`,
	`CREATE TABLE IF NOT EXISTS payment_sessions (
		id UUID PRIMARY KEY,
		api_key TEXT NOT NULL,
		payment_address TEXT NOT NULL,
		receiver_nonce BYTEA NOT NULL,
		status payment_session_status NOT NULL DEFAULT 'pending',
		target_plan_id BIGINT NOT NULL REFERENCES pricing_plans(id),
		amount_required NUMERIC(78,0) NOT NULL,
		token_received TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		completed_at TIMESTAMPTZ,
		expires_at TIMESTAMPTZ NOT NULL,
		token_id BYTEA NOT NULL,
		token_type BYTEA NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS payment_sessions_one_pending_per_key
		ON payment_sessions (api_key) WHERE status = 'pending'`,
	`CREATE TABLE IF NOT EXISTS shard_config (
		id SERIAL PRIMARY KEY,
		config_json JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		created_by TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS shard_config_latest
		ON shard_config (created_at DESC, id DESC)`,
}

// Migrate applies schemaStatements idempotently. It is not a migration
// framework: there is no version table and no down-migrations, matching
// the scope note in spec.md §1 that schema ownership beyond these tables
// lives in the (out-of-scope) admin UI.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: apply schema statement: %w", err)
		}
	}
	return nil
}
