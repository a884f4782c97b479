package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/stingnet/sting-engine/pkg/apperrors"
	"github.com/stingnet/sting-engine/pkg/models"
	"github.com/stingnet/sting-engine/pkg/serializer"
)

// SerializeService renders entities as nested documents.
type SerializeService interface {
	// Serialize renders the entity of kind at key. Depth 0 summarizes every
	// relation; each extra level expands relations once more.
	Serialize(ctx context.Context, kind models.Kind, key int64, depth int) (serializer.Document, error)
	SerializeSample(ctx context.Context, sha256 string, depth int) (serializer.Document, error)
	SerializeURL(ctx context.Context, url string, depth int) (serializer.Document, error)
}

type serializeService struct {
	db     Storage
	repos  *Repositories
	ser    *serializer.Serializer
	logger *zap.Logger
}

// NewSerializeService creates a serializer reading through the repositories.
func NewSerializeService(db Storage, repos *Repositories, logger *zap.Logger) SerializeService {
	return &serializeService{
		db:     db,
		repos:  repos,
		ser:    serializer.New(&repoSource{repos: repos}, logger),
		logger: logger.Named("serialize"),
	}
}

func (s *serializeService) Serialize(ctx context.Context, kind models.Kind, key int64, depth int) (serializer.Document, error) {
	var doc serializer.Document
	err := scoped(ctx, s.db, func(ctx context.Context) error {
		var err error
		doc, err = s.ser.Serialize(ctx, kind, key, depth)
		return err
	})
	if err != nil {
		return nil, apperrors.Storage("serialize "+string(kind), err)
	}
	return doc, nil
}

func (s *serializeService) SerializeSample(ctx context.Context, sha256 string, depth int) (serializer.Document, error) {
	var doc serializer.Document
	err := scoped(ctx, s.db, func(ctx context.Context) error {
		sample, err := s.repos.Samples.GetByHash(ctx, sha256)
		if err != nil {
			return err
		}
		doc, err = s.ser.Document(ctx, models.KindSample, sample, depth)
		return err
	})
	if err != nil {
		return nil, apperrors.Storage("serialize sample", err)
	}
	return doc, nil
}

func (s *serializeService) SerializeURL(ctx context.Context, url string, depth int) (serializer.Document, error) {
	var doc serializer.Document
	err := scoped(ctx, s.db, func(ctx context.Context) error {
		u, err := s.repos.URLs.GetByURL(ctx, url)
		if err != nil {
			return err
		}
		doc, err = s.ser.Document(ctx, models.KindURL, u, depth)
		return err
	})
	if err != nil {
		return nil, apperrors.Storage("serialize url", err)
	}
	return doc, nil
}

// repoSource adapts the repositories to serializer.Source. It must be called
// with a storage scope in ctx.
type repoSource struct {
	repos *Repositories
}

func (r *repoSource) Load(ctx context.Context, kind models.Kind, key int64) (any, error) {
	switch kind {
	case models.KindConnection:
		return r.repos.Connections.GetByID(ctx, key)
	case models.KindURL:
		return r.repos.URLs.GetByID(ctx, key)
	case models.KindSample:
		return r.repos.Samples.GetByID(ctx, key)
	case models.KindNetwork:
		return r.repos.Networks.GetNetwork(ctx, key)
	case models.KindMalware:
		return r.repos.Networks.GetMalware(ctx, key)
	case models.KindASN:
		return r.repos.ASNs.Get(ctx, key)
	case models.KindTag:
		return r.repos.Tags.GetByID(ctx, key)
	case models.KindUser:
		return r.repos.Users.GetByID(ctx, key)
	}
	return nil, fmt.Errorf("cannot load kind %q: %w", kind, apperrors.ErrInvalidArgument)
}

func (r *repoSource) Related(ctx context.Context, rel serializer.Relation, key int64, limit int) ([]any, error) {
	switch rel {
	case serializer.RelConnectionURLs:
		return toAny(r.repos.URLs.ListByConnection(ctx, key, limit))
	case serializer.RelConnectionTags:
		return toAny(r.repos.Tags.ListByConnection(ctx, key))
	case serializer.RelConnsBefore:
		return toAny(r.repos.Connections.ListBefore(ctx, key))
	case serializer.RelConnsAfter:
		return toAny(r.repos.Connections.ListAfter(ctx, key))
	case serializer.RelURLConnections:
		return toAny(r.repos.Connections.ListByURL(ctx, key, limit))
	case serializer.RelSampleURLs:
		return toAny(r.repos.URLs.ListBySample(ctx, key, limit))
	case serializer.RelNetworkSamples:
		return toAny(r.repos.Samples.ListByNetwork(ctx, key, limit))
	case serializer.RelNetworkURLs:
		return toAny(r.repos.URLs.ListByNetwork(ctx, key, limit))
	case serializer.RelNetworkConnections:
		return toAny(r.repos.Connections.ListByNetwork(ctx, key, limit))
	case serializer.RelMalwareNetworks:
		return toAny(r.repos.Networks.ListByMalware(ctx, key))
	case serializer.RelASNURLs:
		return toAny(r.repos.URLs.ListByASN(ctx, key, limit))
	case serializer.RelASNConnections:
		return toAny(r.repos.Connections.ListByASN(ctx, key, limit))
	case serializer.RelTagConnections:
		return toAny(r.repos.Connections.ListByTag(ctx, key, limit))
	}
	return nil, fmt.Errorf("unknown relation %d: %w", rel, apperrors.ErrInvalidArgument)
}

func (r *repoSource) Count(ctx context.Context, rel serializer.Relation, key int64) (int64, error) {
	switch rel {
	case serializer.RelConnectionURLs:
		return r.repos.URLs.CountByConnection(ctx, key)
	case serializer.RelConnectionTags:
		return r.repos.Tags.CountByConnection(ctx, key)
	case serializer.RelURLConnections:
		return r.repos.Connections.CountByURL(ctx, key)
	case serializer.RelSampleURLs:
		return r.repos.URLs.CountBySample(ctx, key)
	case serializer.RelNetworkSamples:
		return r.repos.Samples.CountByNetwork(ctx, key)
	case serializer.RelNetworkURLs:
		return r.repos.URLs.CountByNetwork(ctx, key)
	case serializer.RelNetworkConnections:
		return r.repos.Connections.CountByNetwork(ctx, key)
	}
	items, err := r.Related(ctx, rel, key, 0)
	if err != nil {
		return 0, err
	}
	return int64(len(items)), nil
}

func toAny[T any](items []T, err error) ([]any, error) {
	if err != nil {
		return nil, err
	}
	out := make([]any, len(items))
	for i, it := range items {
		out[i] = it
	}
	return out, nil
}

var _ serializer.Source = (*repoSource)(nil)
