package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/stingnet/sting-engine/pkg/apperrors"
	"github.com/stingnet/sting-engine/pkg/models"
)

// NetworkService records the classifier's grouping of samples and URLs into
// networks and malware families.
type NetworkService interface {
	CreateMalware(ctx context.Context, name string) (int64, error)
	// CreateNetwork creates an empty network, optionally attributed to a malware family.
	CreateNetwork(ctx context.Context, malwareID *int64) (int64, error)
	GetNetwork(ctx context.Context, id int64) (*models.Network, error)
	IncrementFirstConns(ctx context.Context, networkID, delta int64) error
	AssignNetworkToSample(ctx context.Context, sampleID, networkID int64) error
	AssignNetworkToURL(ctx context.Context, urlID, networkID int64) error
}

type networkService struct {
	db     Storage
	repos  *Repositories
	logger *zap.Logger
}

// NewNetworkService creates a new network service.
func NewNetworkService(db Storage, repos *Repositories, logger *zap.Logger) NetworkService {
	return &networkService{
		db:     db,
		repos:  repos,
		logger: logger.Named("network"),
	}
}

func (s *networkService) CreateMalware(ctx context.Context, name string) (int64, error) {
	var id int64
	err := scoped(ctx, s.db, func(ctx context.Context) error {
		var err error
		id, err = s.repos.Networks.CreateMalware(ctx, name)
		return err
	})
	if err != nil {
		return 0, apperrors.Storage("create malware", err)
	}
	s.logger.Info("Created malware", zap.Int64("malware_id", id), zap.String("name", name))
	return id, nil
}

func (s *networkService) CreateNetwork(ctx context.Context, malwareID *int64) (int64, error) {
	var id int64
	err := scoped(ctx, s.db, func(ctx context.Context) error {
		var err error
		id, err = s.repos.Networks.CreateNetwork(ctx, malwareID)
		return err
	})
	if err != nil {
		return 0, apperrors.Storage("create network", err)
	}
	return id, nil
}

func (s *networkService) GetNetwork(ctx context.Context, id int64) (*models.Network, error) {
	var n *models.Network
	err := scoped(ctx, s.db, func(ctx context.Context) error {
		var err error
		n, err = s.repos.Networks.GetNetwork(ctx, id)
		return err
	})
	if err != nil {
		return nil, apperrors.Storage("get network", err)
	}
	return n, nil
}

func (s *networkService) IncrementFirstConns(ctx context.Context, networkID, delta int64) error {
	err := scoped(ctx, s.db, func(ctx context.Context) error {
		return s.repos.Networks.IncrementFirstConns(ctx, networkID, delta)
	})
	return apperrors.Storage("increment first conns", err)
}

func (s *networkService) AssignNetworkToSample(ctx context.Context, sampleID, networkID int64) error {
	err := scoped(ctx, s.db, func(ctx context.Context) error {
		return s.repos.Samples.SetNetwork(ctx, sampleID, networkID)
	})
	return apperrors.Storage("assign network to sample", err)
}

func (s *networkService) AssignNetworkToURL(ctx context.Context, urlID, networkID int64) error {
	err := scoped(ctx, s.db, func(ctx context.Context) error {
		return s.repos.URLs.SetNetwork(ctx, urlID, networkID)
	})
	return apperrors.Storage("assign network to url", err)
}
