package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/stingnet/sting-engine/pkg/apperrors"
	"github.com/stingnet/sting-engine/pkg/models"
)

// QueryService answers the read-only aggregate and lookup queries. Every list is
// capped at the configured page size; empty results are empty slices.
type QueryService interface {
	Count(ctx context.Context, kind models.Kind) (int64, error)
	SearchSamples(ctx context.Context, q string, limit int) ([]*models.Sample, error)
	SearchURLs(ctx context.Context, q string, limit int) ([]*models.URLSummary, error)
	TopSamples(ctx context.Context, since int64, limit int) ([]*models.SampleActivity, error)
	HistoryGlobal(ctx context.Context, from, to, bucketSeconds int64) ([]models.HistoryBucket, error)
	HistorySample(ctx context.Context, sampleID, from, to, bucketSeconds int64) ([]models.HistoryBucket, error)
	URLConnections(ctx context.Context, urlID int64, limit int) ([]*models.Connection, error)
	URLConnectionCount(ctx context.Context, urlID int64) (int64, error)

	GetSample(ctx context.Context, sha256 string) (*models.Sample, error)
	ListSamples(ctx context.Context, limit int) ([]*models.Sample, error)
	GetURL(ctx context.Context, url string) (*models.URL, error)
}

type queryService struct {
	db       Storage
	repos    *Repositories
	pageSize int
	logger   *zap.Logger
}

// NewQueryService creates a query service whose lists never exceed pageSize rows.
func NewQueryService(db Storage, repos *Repositories, pageSize int, logger *zap.Logger) QueryService {
	return &queryService{
		db:       db,
		repos:    repos,
		pageSize: pageSize,
		logger:   logger.Named("query"),
	}
}

// clamp maps a requested limit onto (0, pageSize].
func (s *queryService) clamp(limit int) int {
	if limit <= 0 || limit > s.pageSize {
		return s.pageSize
	}
	return limit
}

// run executes fn on a storage scope and converts its error.
func (s *queryService) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := apperrors.Storage(op, scoped(ctx, s.db, fn))
	if apperrors.IsStorage(err) {
		s.logger.Error("Query failed", zap.String("op", op), zap.Error(err))
	}
	return err
}

func (s *queryService) Count(ctx context.Context, kind models.Kind) (int64, error) {
	var n int64
	err := s.run(ctx, "count", func(ctx context.Context) error {
		var err error
		n, err = s.repos.Stats.Count(ctx, kind)
		return err
	})
	return n, err
}

func (s *queryService) SearchSamples(ctx context.Context, q string, limit int) ([]*models.Sample, error) {
	var out []*models.Sample
	err := s.run(ctx, "search samples", func(ctx context.Context) error {
		var err error
		out, err = s.repos.Stats.SearchSamples(ctx, q, s.clamp(limit))
		return err
	})
	if err != nil {
		return nil, err
	}
	return emptyIfNil(out), nil
}

func (s *queryService) SearchURLs(ctx context.Context, q string, limit int) ([]*models.URLSummary, error) {
	var out []*models.URLSummary
	err := s.run(ctx, "search urls", func(ctx context.Context) error {
		var err error
		out, err = s.repos.Stats.SearchURLs(ctx, q, s.clamp(limit))
		return err
	})
	if err != nil {
		return nil, err
	}
	return emptyIfNil(out), nil
}

func (s *queryService) TopSamples(ctx context.Context, since int64, limit int) ([]*models.SampleActivity, error) {
	var out []*models.SampleActivity
	err := s.run(ctx, "top samples", func(ctx context.Context) error {
		var err error
		out, err = s.repos.Stats.TopSamples(ctx, since, s.clamp(limit))
		return err
	})
	if err != nil {
		return nil, err
	}
	return emptyIfNil(out), nil
}

func (s *queryService) HistoryGlobal(ctx context.Context, from, to, bucketSeconds int64) ([]models.HistoryBucket, error) {
	var out []models.HistoryBucket
	err := s.run(ctx, "history", func(ctx context.Context) error {
		var err error
		out, err = s.repos.Stats.HistoryGlobal(ctx, from, to, bucketSeconds)
		return err
	})
	if err != nil {
		return nil, err
	}
	return emptyIfNil(out), nil
}

func (s *queryService) HistorySample(ctx context.Context, sampleID, from, to, bucketSeconds int64) ([]models.HistoryBucket, error) {
	var out []models.HistoryBucket
	err := s.run(ctx, "sample history", func(ctx context.Context) error {
		var err error
		out, err = s.repos.Stats.HistorySample(ctx, sampleID, from, to, bucketSeconds)
		return err
	})
	if err != nil {
		return nil, err
	}
	return emptyIfNil(out), nil
}

func (s *queryService) URLConnections(ctx context.Context, urlID int64, limit int) ([]*models.Connection, error) {
	var out []*models.Connection
	err := s.run(ctx, "url connections", func(ctx context.Context) error {
		var err error
		out, err = s.repos.Connections.ListByURL(ctx, urlID, s.clamp(limit))
		return err
	})
	if err != nil {
		return nil, err
	}
	return emptyIfNil(out), nil
}

func (s *queryService) URLConnectionCount(ctx context.Context, urlID int64) (int64, error) {
	var n int64
	err := s.run(ctx, "url connection count", func(ctx context.Context) error {
		var err error
		n, err = s.repos.Connections.CountByURL(ctx, urlID)
		return err
	})
	return n, err
}

func (s *queryService) GetSample(ctx context.Context, sha256 string) (*models.Sample, error) {
	var out *models.Sample
	err := s.run(ctx, "get sample", func(ctx context.Context) error {
		var err error
		out, err = s.repos.Samples.GetByHash(ctx, sha256)
		return err
	})
	return out, err
}

func (s *queryService) ListSamples(ctx context.Context, limit int) ([]*models.Sample, error) {
	var out []*models.Sample
	err := s.run(ctx, "list samples", func(ctx context.Context) error {
		var err error
		out, err = s.repos.Samples.List(ctx, s.clamp(limit))
		return err
	})
	if err != nil {
		return nil, err
	}
	return emptyIfNil(out), nil
}

func (s *queryService) GetURL(ctx context.Context, url string) (*models.URL, error) {
	var out *models.URL
	err := s.run(ctx, "get url", func(ctx context.Context) error {
		var err error
		out, err = s.repos.URLs.GetByURL(ctx, url)
		return err
	})
	return out, err
}

func emptyIfNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
