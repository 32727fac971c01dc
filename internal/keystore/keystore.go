package keystore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrKeyNotFound     = errors.New("api key not found")
	ErrInvalidArgument = errors.New("invalid argument")
)

// APIKey is the quota account a caller authenticates as. Token is the
// opaque bearer credential, issued once and never changed. Revoked is
// monotonic: once true the key can never authenticate again.
type APIKey struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"owner_id"`
	Token         string    `json:"token"`
	Revoked       bool      `json:"revoked"`
	PaidAllowance int       `json:"paid_allowance"`
	CreatedAt     time.Time `json:"created_at"`
}

// MarshalBinary implements encoding.BinaryMarshaler for Redis
func (k *APIKey) MarshalBinary() ([]byte, error) {
	return json.Marshal(k)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for Redis
func (k *APIKey) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, k)
}

type Store interface {
	// Issue creates a fresh key for the owner with no paid allowance.
	Issue(ctx context.Context, ownerID string) (*APIKey, error)
	// GetByToken returns the key whether or not it is revoked; callers
	// decide what a revoked key means for them.
	GetByToken(ctx context.Context, token string) (*APIKey, error)
	// Revoke marks the key revoked. Revoking an already-revoked key is
	// not an error.
	Revoke(ctx context.Context, token string) error
	// AddAllowance atomically adds amount (> 0) paid calls and returns
	// the new paid total.
	AddAllowance(ctx context.Context, token string, amount int) (int, error)
	// KeysForOwner returns the owner's non-revoked keys.
	KeysForOwner(ctx context.Context, ownerID string) ([]*APIKey, error)
}

const tokenBytes = 32 // 256 bits of entropy

// generateToken draws a fresh opaque credential from crypto/rand.
func generateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return "tox_" + hex.EncodeToString(buf), nil
}
