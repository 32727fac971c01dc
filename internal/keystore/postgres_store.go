package keystore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

const uniqueViolation = "23505"

// issueAttempts bounds token regeneration when a generated token
// collides with an existing one. With 256-bit tokens a single collision
// is already implausible; hitting the bound means something else is wrong.
const issueAttempts = 3

func (s *PostgresStore) Issue(ctx context.Context, ownerID string) (*APIKey, error) {
	query := `
		INSERT INTO api_keys (owner_id, token)
		VALUES ($1, $2)
		RETURNING id, created_at
	`

	for attempt := 0; attempt < issueAttempts; attempt++ {
		token, err := generateToken()
		if err != nil {
			return nil, err
		}

		k := &APIKey{OwnerID: ownerID, Token: token}
		err = s.db.QueryRow(ctx, query, ownerID, token).Scan(&k.ID, &k.CreatedAt)
		if err == nil {
			return k, nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "api_keys_token_key" {
			continue // token collision, draw again
		}
		return nil, fmt.Errorf("failed to issue api key: %w", err)
	}

	return nil, fmt.Errorf("failed to issue api key: token collision after %d attempts", issueAttempts)
}

func (s *PostgresStore) GetByToken(ctx context.Context, token string) (*APIKey, error) {
	query := `
		SELECT id, owner_id, token, revoked, paid_allowance, created_at
		FROM api_keys
		WHERE token = $1
	`

	var k APIKey
	err := s.db.QueryRow(ctx, query, token).Scan(
		&k.ID, &k.OwnerID, &k.Token, &k.Revoked, &k.PaidAllowance, &k.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}

	return &k, nil
}

func (s *PostgresStore) Revoke(ctx context.Context, token string) error {
	// Matching an already-revoked row still counts as affected, which is
	// what makes revocation idempotent.
	query := `UPDATE api_keys SET revoked = true WHERE token = $1`
	tag, err := s.db.Exec(ctx, query, token)
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrKeyNotFound
	}

	return nil
}

func (s *PostgresStore) AddAllowance(ctx context.Context, token string, amount int) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: amount must be positive, got %d", ErrInvalidArgument, amount)
	}

	query := `
		UPDATE api_keys
		SET paid_allowance = paid_allowance + $2
		WHERE token = $1 AND revoked = false
		RETURNING paid_allowance
	`

	var total int
	err := s.db.QueryRow(ctx, query, token, amount).Scan(&total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrKeyNotFound
		}
		return 0, fmt.Errorf("failed to add allowance: %w", err)
	}

	return total, nil
}

func (s *PostgresStore) KeysForOwner(ctx context.Context, ownerID string) ([]*APIKey, error) {
	query := `
		SELECT id, owner_id, token, revoked, paid_allowance, created_at
		FROM api_keys
		WHERE owner_id = $1 AND revoked = false
	`

	rows, err := s.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query keys for owner: %w", err)
	}
	defer rows.Close()

	var keys []*APIKey
	for rows.Next() {
		var k APIKey
		err := rows.Scan(&k.ID, &k.OwnerID, &k.Token, &k.Revoked, &k.PaidAllowance, &k.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		keys = append(keys, &k)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating api keys: %w", err)
	}

	return keys, nil
}
