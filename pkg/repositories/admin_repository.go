package repositories

import (
	"context"
	"fmt"

	"github.com/stingnet/sting-engine/pkg/database"
)

// WipeTables lists the tables cleared by a bulk wipe, link tables first.
// users, asn and ipranges are reference data and are never wiped.
var WipeTables = []string{
	"conns_assocs",
	"conns_tags",
	"conns_urls",
	"tags",
	"conns",
	"urls",
	"samples",
	"network",
	"malware",
}

// AdminRepository defines maintenance operations on the captured data.
type AdminRepository interface {
	// Wipe deletes every row of WipeTables in a single transaction.
	Wipe(ctx context.Context) error
}

type adminRepository struct{}

// NewAdminRepository creates a new admin repository.
func NewAdminRepository() AdminRepository {
	return &adminRepository{}
}

func (r *adminRepository) Wipe(ctx context.Context) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return database.ErrNoScope
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin wipe: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	// Every foreign key is DEFERRABLE, so references between wiped tables are
	// checked once at commit, when they are all empty. Any role may do this.
	if _, err := tx.Exec(ctx, `SET CONSTRAINTS ALL DEFERRED`); err != nil {
		return fmt.Errorf("failed to defer constraints: %w", err)
	}

	for _, table := range WipeTables {
		if _, err := tx.Exec(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to wipe %s: %w", table, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit wipe: %w", err)
	}
	return nil
}

// Ensure adminRepository implements AdminRepository at compile time.
var _ AdminRepository = (*adminRepository)(nil)
