package services

import (
	"context"

	"github.com/stingnet/sting-engine/pkg/database"
	"github.com/stingnet/sting-engine/pkg/repositories"
)

// Storage establishes the storage scope of one public operation.
// *database.DB implements it.
type Storage interface {
	// Scoped returns a context carrying a storage handle and its release function.
	Scoped(ctx context.Context) (context.Context, func(), error)
	// InTx runs fn in a transaction that commits only when fn returns nil.
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

var _ Storage = (*database.DB)(nil)

// Repositories bundles the data access objects shared by the services.
type Repositories struct {
	Connections repositories.ConnectionRepository
	URLs        repositories.URLRepository
	Samples     repositories.SampleRepository
	Tags        repositories.TagRepository
	Networks    repositories.NetworkRepository
	ASNs        repositories.ASNRepository
	Users       repositories.UserRepository
	Admin       repositories.AdminRepository
	Stats       repositories.StatsRepository
}

// NewRepositories returns the PostgreSQL implementations of every repository.
func NewRepositories() *Repositories {
	return &Repositories{
		Connections: repositories.NewConnectionRepository(),
		URLs:        repositories.NewURLRepository(),
		Samples:     repositories.NewSampleRepository(),
		Tags:        repositories.NewTagRepository(),
		Networks:    repositories.NewNetworkRepository(),
		ASNs:        repositories.NewASNRepository(),
		Users:       repositories.NewUserRepository(),
		Admin:       repositories.NewAdminRepository(),
		Stats:       repositories.NewStatsRepository(),
	}
}

// scoped runs fn with a storage handle, acquiring one unless ctx carries it.
// hasScope reports whether ctx already carries a storage scope owned by a caller.
func hasScope(ctx context.Context) bool {
	_, ok := database.GetScope(ctx)
	return ok
}

func scoped(ctx context.Context, db Storage, fn func(ctx context.Context) error) error {
	ctx, release, err := db.Scoped(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}
