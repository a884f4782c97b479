package services

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/stingnet/sting-engine/pkg/apperrors"
	"github.com/stingnet/sting-engine/pkg/blobstore"
	"github.com/stingnet/sting-engine/pkg/metrics"
	"github.com/stingnet/sting-engine/pkg/models"
	"github.com/stingnet/sting-engine/pkg/repositories"
)

// Entity labels used for metrics and cache keys.
const (
	entityURL    = "url"
	entitySample = "sample"
	entityTag    = "tag"
)

// IngestService records what collectors report. Every method is one public
// operation: it runs on its own storage scope unless ctx already carries one.
type IngestService interface {
	CreateConnection(ctx context.Context, conn *models.NewConnection) (int64, error)
	// GetOrCreateURL returns the id of url, creating the row with the given
	// attributes when absent. Concurrent callers with the same url get the same id.
	GetOrCreateURL(ctx context.Context, u *models.IngestURL) (int64, error)
	GetOrCreateSample(ctx context.Context, s *models.IngestSample) (int64, error)
	GetOrCreateTag(ctx context.Context, name, code string) (int64, error)

	LinkConnectionURL(ctx context.Context, connID, urlID int64) error
	LinkConnectionTag(ctx context.Context, connID, tagID int64) error
	// LinkAssociation records that first happened before last.
	LinkAssociation(ctx context.Context, firstID, lastID int64) error
	AttachSampleToURL(ctx context.Context, urlID, sampleID int64) error

	// StoreSampleBlob writes the payload of an existing sample and records its
	// locator. A blob store failure leaves the locator unset.
	StoreSampleBlob(ctx context.Context, sha256 string, data []byte) (string, error)
	SetSampleResult(ctx context.Context, sha256, result string) error

	// Ingest records a connection with its URLs, samples, tags and associations
	// in one transaction.
	Ingest(ctx context.Context, event *models.IngestEvent) (*models.IngestResult, error)

	// BulkWipe deletes all captured data, keeping users, ASNs and IP ranges.
	BulkWipe(ctx context.Context) error
}

type ingestService struct {
	db      Storage
	repos   *Repositories
	blobs   blobstore.Store
	cache   *idCache
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewIngestService creates the write path. cacheSize 0 disables the id cache;
// m may be nil.
func NewIngestService(
	db Storage,
	repos *Repositories,
	blobs blobstore.Store,
	cacheSize int,
	m *metrics.Metrics,
	logger *zap.Logger,
) (IngestService, error) {
	cache, err := newIDCache(cacheSize)
	if err != nil {
		return nil, err
	}
	return &ingestService{
		db:      db,
		repos:   repos,
		blobs:   blobs,
		cache:   cache,
		metrics: m,
		logger:  logger.Named("ingest"),
	}, nil
}

func (s *ingestService) CreateConnection(ctx context.Context, conn *models.NewConnection) (int64, error) {
	var id int64
	err := scoped(ctx, s.db, func(ctx context.Context) error {
		var err error
		id, err = s.repos.Connections.Create(ctx, conn)
		return err
	})
	if err != nil {
		return 0, s.storageError("create connection", err)
	}
	s.metrics.ConnectionIngested()
	return id, nil
}

func (s *ingestService) GetOrCreateURL(ctx context.Context, u *models.IngestURL) (int64, error) {
	var (
		id      int64
		pending []cacheEntry
	)
	inherited := hasScope(ctx)
	err := scoped(ctx, s.db, func(ctx context.Context) error {
		var err error
		id, err = s.getOrCreateURL(ctx, u, &pending)
		return err
	})
	if err != nil {
		return 0, s.storageError("get or create url", err)
	}
	s.remember(inherited, pending)
	return id, nil
}

func (s *ingestService) GetOrCreateSample(ctx context.Context, sample *models.IngestSample) (int64, error) {
	var (
		id      int64
		pending []cacheEntry
	)
	inherited := hasScope(ctx)
	err := scoped(ctx, s.db, func(ctx context.Context) error {
		var err error
		id, err = s.getOrCreateSample(ctx, sample, &pending)
		return err
	})
	if err != nil {
		return 0, s.storageError("get or create sample", err)
	}
	s.remember(inherited, pending)
	return id, nil
}

func (s *ingestService) GetOrCreateTag(ctx context.Context, name, code string) (int64, error) {
	var (
		id      int64
		pending []cacheEntry
	)
	inherited := hasScope(ctx)
	err := scoped(ctx, s.db, func(ctx context.Context) error {
		var err error
		id, err = s.getOrCreateTag(ctx, &models.IngestTag{Name: name, Code: code}, &pending)
		return err
	})
	if err != nil {
		return 0, s.storageError("get or create tag", err)
	}
	s.remember(inherited, pending)
	return id, nil
}

func (s *ingestService) LinkConnectionURL(ctx context.Context, connID, urlID int64) error {
	err := scoped(ctx, s.db, func(ctx context.Context) error {
		return s.repos.Connections.LinkURL(ctx, connID, urlID)
	})
	return s.storageError("link connection url", err)
}

func (s *ingestService) LinkConnectionTag(ctx context.Context, connID, tagID int64) error {
	err := scoped(ctx, s.db, func(ctx context.Context) error {
		return s.repos.Connections.LinkTag(ctx, connID, tagID)
	})
	return s.storageError("link connection tag", err)
}

func (s *ingestService) LinkAssociation(ctx context.Context, firstID, lastID int64) error {
	err := scoped(ctx, s.db, func(ctx context.Context) error {
		return s.repos.Connections.LinkAssociation(ctx, firstID, lastID)
	})
	return s.storageError("link association", err)
}

func (s *ingestService) AttachSampleToURL(ctx context.Context, urlID, sampleID int64) error {
	err := scoped(ctx, s.db, func(ctx context.Context) error {
		return s.repos.URLs.AttachSample(ctx, urlID, sampleID)
	})
	return s.storageError("attach sample to url", err)
}

func (s *ingestService) StoreSampleBlob(ctx context.Context, sha256 string, data []byte) (string, error) {
	var locator string
	err := scoped(ctx, s.db, func(ctx context.Context) error {
		var err error
		locator, err = s.storeBlob(ctx, sha256, data)
		return err
	})
	if err != nil {
		return "", s.storageError("store sample blob", err)
	}
	return locator, nil
}

func (s *ingestService) SetSampleResult(ctx context.Context, sha256, result string) error {
	err := scoped(ctx, s.db, func(ctx context.Context) error {
		return s.repos.Samples.SetResult(ctx, sha256, result)
	})
	return s.storageError("set sample result", err)
}

func (s *ingestService) Ingest(ctx context.Context, event *models.IngestEvent) (*models.IngestResult, error) {
	var (
		result  *models.IngestResult
		pending []cacheEntry
	)
	inherited := hasScope(ctx)
	err := s.db.InTx(ctx, func(ctx context.Context) error {
		var err error
		result, err = s.ingest(ctx, event, &pending)
		return err
	})
	if err != nil {
		return nil, s.storageError("ingest", err)
	}

	s.remember(inherited, pending)
	s.metrics.ConnectionIngested()
	s.logger.Debug("Ingested connection",
		zap.Int64("connection_id", result.ConnectionID),
		zap.Int("urls", len(result.URLIDs)),
		zap.Int("tags", len(result.TagIDs)))
	return result, nil
}

func (s *ingestService) ingest(ctx context.Context, event *models.IngestEvent, pending *[]cacheEntry) (*models.IngestResult, error) {
	conn := event.Connection
	if err := s.geolocate(ctx, &conn); err != nil {
		return nil, err
	}

	connID, err := s.repos.Connections.Create(ctx, &conn)
	if err != nil {
		return nil, err
	}
	result := &models.IngestResult{
		ConnectionID: connID,
		URLIDs:       []int64{},
		SampleIDs:    []int64{},
		TagIDs:       []int64{},
	}

	for i := range event.URLs {
		u := &event.URLs[i]
		urlID, err := s.getOrCreateURL(ctx, u, pending)
		if err != nil {
			return nil, err
		}
		if err := s.repos.Connections.LinkURL(ctx, connID, urlID); err != nil {
			return nil, err
		}
		result.URLIDs = append(result.URLIDs, urlID)

		if u.Sample == nil {
			continue
		}
		sampleID, err := s.getOrCreateSample(ctx, u.Sample, pending)
		if err != nil {
			return nil, err
		}
		if err := s.repos.URLs.AttachSample(ctx, urlID, sampleID); err != nil {
			return nil, err
		}
		if len(u.Sample.Data) > 0 {
			if _, err := s.storeBlob(ctx, u.Sample.SHA256, u.Sample.Data); err != nil {
				return nil, err
			}
		}
		result.SampleIDs = append(result.SampleIDs, sampleID)
	}

	for i := range event.Tags {
		tagID, err := s.getOrCreateTag(ctx, &event.Tags[i], pending)
		if err != nil {
			return nil, err
		}
		if err := s.repos.Connections.LinkTag(ctx, connID, tagID); err != nil {
			return nil, err
		}
		result.TagIDs = append(result.TagIDs, tagID)
	}

	for _, before := range event.Before {
		if err := s.repos.Connections.LinkAssociation(ctx, before, connID); err != nil {
			return nil, err
		}
	}
	for _, after := range event.After {
		if err := s.repos.Connections.LinkAssociation(ctx, connID, after); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// geolocate fills the location and ASN of conn from the IP range table when the
// collector did not supply them. An unparseable IP or an address outside every
// range leaves conn unchanged.
func (s *ingestService) geolocate(ctx context.Context, conn *models.NewConnection) error {
	if conn.HasGeolocation() || conn.IP == "" {
		return nil
	}
	ip, err := ipv4ToInt(conn.IP)
	if err != nil {
		s.logger.Debug("Skipping geolocation", zap.String("ip", conn.IP), zap.Error(err))
		return nil
	}
	r, err := s.repos.ASNs.LookupIP(ctx, ip)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil
	}
	if err != nil {
		// A failed statement aborts the surrounding transaction.
		return err
	}

	conn.IPBlock = r.CIDR
	conn.Country = r.Country
	conn.City = r.City
	conn.Latitude = r.Latitude
	conn.Longitude = r.Longitude
	if conn.ASNID == nil {
		conn.ASNID = r.ASNID
	}
	return nil
}

func (s *ingestService) getOrCreateURL(ctx context.Context, u *models.IngestURL, pending *[]cacheEntry) (int64, error) {
	if id, ok, err := s.cachedID(ctx, entityURL, u.URL); err != nil || ok {
		return id, err
	}
	id, outcome, err := s.repos.URLs.GetOrCreate(ctx, &models.URL{
		URL:     u.URL,
		Date:    u.Date,
		IP:      u.IP,
		ASNID:   u.ASNID,
		Country: u.Country,
	})
	if err != nil {
		return 0, err
	}
	s.recordOutcome(entityURL, u.URL, outcome)
	*pending = append(*pending, cacheEntry{entity: entityURL, key: u.URL, id: id})
	return id, nil
}

func (s *ingestService) getOrCreateSample(ctx context.Context, in *models.IngestSample, pending *[]cacheEntry) (int64, error) {
	if id, ok, err := s.cachedID(ctx, entitySample, in.SHA256); err != nil || ok {
		return id, err
	}
	id, outcome, err := s.repos.Samples.GetOrCreate(ctx, &models.Sample{
		SHA256: in.SHA256,
		Date:   in.Date,
		Name:   in.Name,
		Length: in.Length,
		Result: in.Result,
		Info:   in.Info,
	})
	if err != nil {
		return 0, err
	}
	s.recordOutcome(entitySample, in.SHA256, outcome)
	*pending = append(*pending, cacheEntry{entity: entitySample, key: in.SHA256, id: id})
	return id, nil
}

func (s *ingestService) getOrCreateTag(ctx context.Context, tag *models.IngestTag, pending *[]cacheEntry) (int64, error) {
	if id, ok, err := s.cachedID(ctx, entityTag, tag.Name); err != nil || ok {
		return id, err
	}
	id, outcome, err := s.repos.Tags.GetOrCreate(ctx, tag.Name, tag.Code)
	if err != nil {
		return 0, err
	}
	s.recordOutcome(entityTag, tag.Name, outcome)
	*pending = append(*pending, cacheEntry{entity: entityTag, key: tag.Name, id: id})
	return id, nil
}

// cachedID returns the remembered id for key once its row is confirmed to
// still exist. Another process may have wiped the captured data, so a missing
// row empties the whole cache and the caller falls through to get-or-create.
func (s *ingestService) cachedID(ctx context.Context, entity, key string) (int64, bool, error) {
	id, ok := s.cache.get(entity, key)
	if !ok {
		return 0, false, nil
	}

	var err error
	switch entity {
	case entityURL:
		_, err = s.repos.URLs.GetByID(ctx, id)
	case entitySample:
		_, err = s.repos.Samples.GetByID(ctx, id)
	default:
		_, err = s.repos.Tags.GetByID(ctx, id)
	}
	if errors.Is(err, apperrors.ErrNotFound) {
		s.logger.Info("Cached id no longer exists, purging id cache",
			zap.String("entity", entity),
			zap.Int64("id", id))
		s.cache.purge()
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	s.metrics.GetOrCreate(entity, metrics.ResultCached)
	return id, true, nil
}

// remember caches ids resolved on a scope this call opened itself. An
// inherited scope may still be rolled back by its owner.
func (s *ingestService) remember(inherited bool, pending []cacheEntry) {
	if inherited {
		return
	}
	s.cache.add(pending)
}

func (s *ingestService) recordOutcome(entity, key string, outcome repositories.Outcome) {
	s.metrics.GetOrCreate(entity, string(outcome))
	if outcome == repositories.Conflict {
		s.logger.Debug("Resolved concurrent insert by re-reading",
			zap.String("entity", entity),
			zap.String("key", key))
	}
}

// storeBlob writes data for an existing sample, then records the locator.
func (s *ingestService) storeBlob(ctx context.Context, sha256 string, data []byte) (string, error) {
	if _, err := s.repos.Samples.GetByHash(ctx, sha256); err != nil {
		return "", err
	}

	locator, err := s.blobs.Put(ctx, sha256, data)
	if err != nil {
		s.metrics.BlobWrite(false)
		return "", &apperrors.StorageError{Op: "blob put", Err: err}
	}
	s.metrics.BlobWrite(true)

	if err := s.repos.Samples.SetFile(ctx, sha256, locator); err != nil {
		return "", err
	}
	return locator, nil
}

func (s *ingestService) BulkWipe(ctx context.Context) error {
	err := scoped(ctx, s.db, func(ctx context.Context) error {
		return s.repos.Admin.Wipe(ctx)
	})
	if err != nil {
		return s.storageError("bulk wipe", err)
	}

	s.cache.purge()
	s.metrics.Wipe()
	s.logger.Info("Wiped captured data", zap.Strings("tables", repositories.WipeTables))
	return nil
}

// storageError converts err for the public surface and logs storage failures.
func (s *ingestService) storageError(op string, err error) error {
	err = apperrors.Storage(op, err)
	if apperrors.IsStorage(err) {
		s.logger.Error("Storage operation failed", zap.String("op", op), zap.Error(err))
	}
	return err
}

var _ IngestService = (*ingestService)(nil)
