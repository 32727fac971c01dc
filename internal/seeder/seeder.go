package seeder

import (
	"context"
	"errors"
	"log"

	"github.com/tdmanh/toxgate/internal/account"
	"github.com/tdmanh/toxgate/internal/keystore"
)

const (
	TestOwnerEmail = "test@toxgate.local"
	TestOwnerName  = "Test Owner"
)

// SeedTestKey creates a test owner and issues it a key, logging the
// token so local clients can pick it up. Reuses the owner if a previous
// run already registered it.
func SeedTestKey(ctx context.Context, owners account.Store, keys keystore.Store) {
	owner := &account.Owner{Email: TestOwnerEmail, Name: TestOwnerName}
	err := owners.Create(ctx, owner)
	if errors.Is(err, account.ErrDuplicate) {
		owner, err = owners.FindByEmail(ctx, TestOwnerEmail)
	}
	if err != nil {
		log.Printf("[Seeder] failed to create test owner: %v", err)
		return
	}

	k, err := keys.Issue(ctx, owner.ID)
	if err != nil {
		log.Printf("[Seeder] failed to issue test key: %v", err)
		return
	}

	log.Printf("[Seeder] Test API key created successfully")
	log.Printf("[Seeder] Key: %s", k.Token)
	log.Printf("[Seeder] OwnerID: %s", owner.ID)
}
