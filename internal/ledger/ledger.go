// Package ledger is the append-only record of billed prediction calls.
// The count of records for a key is the authoritative "used" figure;
// there is no separate counter to drift from it. Records are never
// updated or deleted — revoked keys keep their history.
package ledger

import (
	"context"
	"fmt"
	"time"
)

type UsageRecord struct {
	ID        int64
	APIKeyID  string
	CreatedAt time.Time
}

// ExhaustedError reports a reserve refused because the key's allowance
// is spent. Used and Allowed are returned to the caller so the response
// can say exactly where the key stands.
type ExhaustedError struct {
	Used    int
	Allowed int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("quota exhausted: used %d of %d", e.Used, e.Allowed)
}

type Store interface {
	// Reserve charges one call against the key iff the key still has
	// allowance (baseAllowance plus its paid allowance). The check and
	// the usage insert are a single atomic unit per key: two racing
	// Reserves can never both pass on the last remaining call. Returns
	// the used count after the charge and the key's total allowance, or
	// *ExhaustedError without writing anything.
	Reserve(ctx context.Context, apiKeyID string, baseAllowance int) (used, allowed int, err error)
	// Count returns the total records ever charged to the key.
	Count(ctx context.Context, apiKeyID string) (int, error)
	// History returns the key's records in [from, to], newest first.
	History(ctx context.Context, apiKeyID string, from, to time.Time) ([]*UsageRecord, error)
}
