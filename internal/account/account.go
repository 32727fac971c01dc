package account

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound  = errors.New("owner not found")
	ErrDuplicate = errors.New("email already registered")
)

// Owner is a registered account. Only identity and email matter to the
// quota core; everything else about a registrant stays outside.
type Owner struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Store interface {
	Create(ctx context.Context, owner *Owner) error
	FindByEmail(ctx context.Context, email string) (*Owner, error)
}

// Validate checks the fields registration needs. Full profile
// validation lives in the registration frontend, not here.
func (o *Owner) Validate() error {
	if strings.TrimSpace(o.Name) == "" {
		return errors.New("name is required")
	}
	email := strings.TrimSpace(o.Email)
	if email == "" {
		return errors.New("email is required")
	}
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 {
		return errors.New("email is malformed")
	}
	return nil
}
