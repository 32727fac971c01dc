package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tdmanh/toxgate/internal/keystore"
	"github.com/tdmanh/toxgate/internal/quota"
)

type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

// Reserve runs the quota check and the usage insert inside one
// transaction holding the key's row lock. The FOR UPDATE serializes
// concurrent reserves per key, so the count read inside the transaction
// cannot go stale before the insert commits. It also re-reads
// paid_allowance under the same lock, so a purchase that lands first is
// honored.
func (s *PostgresStore) Reserve(ctx context.Context, apiKeyID string, baseAllowance int) (int, int, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin reserve: %w", err)
	}
	defer tx.Rollback(ctx)

	var paid int
	err = tx.QueryRow(ctx,
		`SELECT paid_allowance FROM api_keys WHERE id = $1 FOR UPDATE`,
		apiKeyID,
	).Scan(&paid)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, keystore.ErrKeyNotFound
		}
		return 0, 0, fmt.Errorf("failed to lock api key: %w", err)
	}

	var used int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM usage_records WHERE api_key_id = $1`,
		apiKeyID,
	).Scan(&used)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count usage: %w", err)
	}

	allowed := baseAllowance + paid
	if !quota.Allowed(baseAllowance, paid, used) {
		return 0, 0, &ExhaustedError{Used: used, Allowed: allowed}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO usage_records (api_key_id) VALUES ($1)`,
		apiKeyID,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to record usage: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("failed to commit reserve: %w", err)
	}

	return used + 1, allowed, nil
}

func (s *PostgresStore) Count(ctx context.Context, apiKeyID string) (int, error) {
	var count int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM usage_records WHERE api_key_id = $1`,
		apiKeyID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count usage: %w", err)
	}

	return count, nil
}

func (s *PostgresStore) History(ctx context.Context, apiKeyID string, from, to time.Time) ([]*UsageRecord, error) {
	query := `
		SELECT id, api_key_id, created_at
		FROM usage_records
		WHERE api_key_id = $1 AND created_at BETWEEN $2 AND $3
		ORDER BY created_at DESC
	`
	rows, err := s.db.Query(ctx, query, apiKeyID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage records: %w", err)
	}
	defer rows.Close()

	var records []*UsageRecord
	for rows.Next() {
		var rec UsageRecord
		if err := rows.Scan(&rec.ID, &rec.APIKeyID, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage records: %w", err)
	}

	return records, nil
}
