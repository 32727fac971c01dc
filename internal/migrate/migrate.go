package migrate

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// The ledger table has no updated_at and no updates: usage rows are
// written once and only ever counted.
var statements = []string{
	`CREATE TABLE IF NOT EXISTS owners (
		id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		email      TEXT NOT NULL UNIQUE,
		name       TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS api_keys (
		id             UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		token          TEXT NOT NULL UNIQUE,
		owner_id       UUID NOT NULL REFERENCES owners(id),
		revoked        BOOLEAN NOT NULL DEFAULT false,
		paid_allowance INTEGER NOT NULL DEFAULT 0 CHECK (paid_allowance >= 0),
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS api_keys_owner_id_idx ON api_keys (owner_id)`,
	`CREATE TABLE IF NOT EXISTS usage_records (
		id         BIGSERIAL PRIMARY KEY,
		api_key_id UUID NOT NULL REFERENCES api_keys(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS usage_records_api_key_id_idx ON usage_records (api_key_id)`,
}

// Run creates the schema if it does not exist yet. Gated behind
// RUN_MIGRATE in main; production deployments own their schema.
func Run(ctx context.Context, db DB) error {
	for _, stmt := range statements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
