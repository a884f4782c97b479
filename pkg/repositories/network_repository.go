package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/stingnet/sting-engine/pkg/apperrors"
	"github.com/stingnet/sting-engine/pkg/database"
	"github.com/stingnet/sting-engine/pkg/models"
)

// NetworkRepository defines data access for malware families and their networks.
type NetworkRepository interface {
	CreateMalware(ctx context.Context, name string) (int64, error)
	GetMalware(ctx context.Context, id int64) (*models.Malware, error)

	CreateNetwork(ctx context.Context, malwareID *int64) (int64, error)
	GetNetwork(ctx context.Context, id int64) (*models.Network, error)
	// IncrementFirstConns adds delta to the network's first-connection counter.
	IncrementFirstConns(ctx context.Context, networkID, delta int64) error
	ListByMalware(ctx context.Context, malwareID int64) ([]*models.Network, error)
}

type networkRepository struct{}

// NewNetworkRepository creates a new network repository.
func NewNetworkRepository() NetworkRepository {
	return &networkRepository{}
}

func (r *networkRepository) CreateMalware(ctx context.Context, name string) (int64, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return 0, database.ErrNoScope
	}

	var id int64
	if err := scope.Conn.QueryRow(ctx, `INSERT INTO malware (name) VALUES ($1) RETURNING id`, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to create malware: %w", err)
	}
	return id, nil
}

func (r *networkRepository) GetMalware(ctx context.Context, id int64) (*models.Malware, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	var m models.Malware
	err := scope.Conn.QueryRow(ctx, `SELECT id, COALESCE(name, '') FROM malware WHERE id = $1`, id).Scan(&m.ID, &m.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("malware %d: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get malware: %w", err)
	}
	return &m, nil
}

func (r *networkRepository) CreateNetwork(ctx context.Context, malwareID *int64) (int64, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return 0, database.ErrNoScope
	}

	var id int64
	if err := scope.Conn.QueryRow(ctx, `INSERT INTO network (malware) VALUES ($1) RETURNING id`, malwareID).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to create network: %w", err)
	}
	return id, nil
}

func (r *networkRepository) GetNetwork(ctx context.Context, id int64) (*models.Network, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	var n models.Network
	err := scope.Conn.QueryRow(ctx, `SELECT id, nb_firstconns, malware FROM network WHERE id = $1`, id).
		Scan(&n.ID, &n.NbFirstConns, &n.MalwareID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("network %d: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get network: %w", err)
	}
	return &n, nil
}

func (r *networkRepository) IncrementFirstConns(ctx context.Context, networkID, delta int64) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return database.ErrNoScope
	}

	tag, err := scope.Conn.Exec(ctx, `UPDATE network SET nb_firstconns = nb_firstconns + $2 WHERE id = $1`, networkID, delta)
	if err != nil {
		return fmt.Errorf("failed to increment first connections: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("network %d: %w", networkID, apperrors.ErrNotFound)
	}
	return nil
}

func (r *networkRepository) ListByMalware(ctx context.Context, malwareID int64) ([]*models.Network, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	rows, err := scope.Conn.Query(ctx, `SELECT id, nb_firstconns, malware FROM network WHERE malware = $1 ORDER BY id`, malwareID)
	if err != nil {
		return nil, fmt.Errorf("failed to list malware networks: %w", err)
	}
	defer rows.Close()

	networks := []*models.Network{}
	for rows.Next() {
		var n models.Network
		if err := rows.Scan(&n.ID, &n.NbFirstConns, &n.MalwareID); err != nil {
			return nil, fmt.Errorf("failed to scan network: %w", err)
		}
		networks = append(networks, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating malware networks: %w", err)
	}
	return networks, nil
}

// Ensure networkRepository implements NetworkRepository at compile time.
var _ NetworkRepository = (*networkRepository)(nil)
