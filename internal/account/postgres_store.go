package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
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

func (s *PostgresStore) Create(ctx context.Context, owner *Owner) error {
	if err := owner.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO owners (email, name)
		VALUES ($1, $2)
		RETURNING id, created_at
	`

	err := s.db.QueryRow(ctx, query, owner.Email, owner.Name).Scan(&owner.ID, &owner.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create owner: %w", err)
	}

	return nil
}

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (*Owner, error) {
	query := `
		SELECT id, email, name, created_at
		FROM owners
		WHERE email = $1
	`

	var o Owner
	err := s.db.QueryRow(ctx, query, email).Scan(&o.ID, &o.Email, &o.Name, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find owner: %w", err)
	}

	return &o, nil
}
