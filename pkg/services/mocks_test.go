package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/stingnet/sting-engine/pkg/apperrors"
	"github.com/stingnet/sting-engine/pkg/database"
	"github.com/stingnet/sting-engine/pkg/models"
	"github.com/stingnet/sting-engine/pkg/repositories"
)

// fakeStorage runs every operation directly on the caller's context.
type fakeStorage struct {
	scopes   int
	txs      int
	scopeErr error
}

func (f *fakeStorage) Scoped(ctx context.Context) (context.Context, func(), error) {
	if f.scopeErr != nil {
		return nil, nil, f.scopeErr
	}
	f.scopes++
	return ctx, func() {}, nil
}

func (f *fakeStorage) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if f.scopeErr != nil {
		return f.scopeErr
	}
	f.txs++
	return fn(ctx)
}

// memStore is the shared state behind the fake repositories.
type memStore struct {
	mu sync.Mutex

	nextID  int64
	conns   map[int64]*models.NewConnection
	urls    map[string]*models.URL
	samples map[string]*models.Sample
	tags    map[string]*models.Tag

	connURLs []link
	connTags []link
	assocs   []link

	ranges []*models.IPRange
	wiped  int
}

type link struct{ a, b int64 }

func newMemStore() *memStore {
	return &memStore{
		conns:   make(map[int64]*models.NewConnection),
		urls:    make(map[string]*models.URL),
		samples: make(map[string]*models.Sample),
		tags:    make(map[string]*models.Tag),
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

// fakeRepos returns Repositories backed by m. Repositories the store does not
// model are left nil.
func fakeRepos(m *memStore) *Repositories {
	return &Repositories{
		Connections: &fakeConnectionRepo{m: m},
		URLs:        &fakeURLRepo{m: m},
		Samples:     &fakeSampleRepo{m: m},
		Tags:        &fakeTagRepo{m: m},
		ASNs:        &fakeASNRepo{m: m},
		Admin:       &fakeAdminRepo{m: m},
	}
}

type fakeConnectionRepo struct {
	repositories.ConnectionRepository
	m         *memStore
	createErr error
	linkErr   error
}

func (r *fakeConnectionRepo) Create(_ context.Context, conn *models.NewConnection) (int64, error) {
	if r.createErr != nil {
		return 0, r.createErr
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	id := r.m.id()
	c := *conn
	r.m.conns[id] = &c
	return id, nil
}

func (r *fakeConnectionRepo) LinkURL(_ context.Context, connID, urlID int64) error {
	if r.linkErr != nil {
		return r.linkErr
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.connURLs = append(r.m.connURLs, link{connID, urlID})
	return nil
}

func (r *fakeConnectionRepo) LinkTag(_ context.Context, connID, tagID int64) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.connTags = append(r.m.connTags, link{connID, tagID})
	return nil
}

func (r *fakeConnectionRepo) LinkAssociation(_ context.Context, firstID, lastID int64) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.assocs = append(r.m.assocs, link{firstID, lastID})
	return nil
}

func (r *fakeConnectionRepo) ListBefore(_ context.Context, connID int64) ([]*models.Connection, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.Connection
	for _, l := range r.m.assocs {
		if l.b == connID {
			out = append(out, &models.Connection{ID: l.a})
		}
	}
	return out, nil
}

type fakeURLRepo struct {
	repositories.URLRepository
	m     *memStore
	calls int
}

func (r *fakeURLRepo) GetOrCreate(_ context.Context, u *models.URL) (int64, repositories.Outcome, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.calls++
	if existing, ok := r.m.urls[u.URL]; ok {
		return existing.ID, repositories.Existing, nil
	}
	c := *u
	c.ID = r.m.id()
	r.m.urls[u.URL] = &c
	return c.ID, repositories.Created, nil
}

func (r *fakeURLRepo) AttachSample(_ context.Context, urlID, sampleID int64) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, u := range r.m.urls {
		if u.ID == urlID {
			u.SampleID = &sampleID
			return nil
		}
	}
	return fmt.Errorf("url %d: %w", urlID, apperrors.ErrNotFound)
}

func (r *fakeURLRepo) GetByURL(_ context.Context, url string) (*models.URL, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if u, ok := r.m.urls[url]; ok {
		return u, nil
	}
	return nil, fmt.Errorf("url %q: %w", url, apperrors.ErrNotFound)
}

func (r *fakeURLRepo) GetByID(_ context.Context, id int64) (*models.URL, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, u := range r.m.urls {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, fmt.Errorf("url %d: %w", id, apperrors.ErrNotFound)
}

type fakeSampleRepo struct {
	repositories.SampleRepository
	m *memStore
}

func (r *fakeSampleRepo) GetOrCreate(_ context.Context, s *models.Sample) (int64, repositories.Outcome, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if existing, ok := r.m.samples[s.SHA256]; ok {
		return existing.ID, repositories.Existing, nil
	}
	c := *s
	c.ID = r.m.id()
	r.m.samples[s.SHA256] = &c
	return c.ID, repositories.Created, nil
}

func (r *fakeSampleRepo) GetByHash(_ context.Context, sha256 string) (*models.Sample, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if s, ok := r.m.samples[sha256]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("sample %q: %w", sha256, apperrors.ErrNotFound)
}

func (r *fakeSampleRepo) GetByID(_ context.Context, id int64) (*models.Sample, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, s := range r.m.samples {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, fmt.Errorf("sample %d: %w", id, apperrors.ErrNotFound)
}

func (r *fakeSampleRepo) SetFile(_ context.Context, sha256, locator string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, ok := r.m.samples[sha256]
	if !ok {
		return fmt.Errorf("sample %q: %w", sha256, apperrors.ErrNotFound)
	}
	s.File = &locator
	return nil
}

func (r *fakeSampleRepo) SetResult(_ context.Context, sha256, result string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, ok := r.m.samples[sha256]
	if !ok {
		return fmt.Errorf("sample %q: %w", sha256, apperrors.ErrNotFound)
	}
	s.Result = &result
	return nil
}

type fakeTagRepo struct {
	repositories.TagRepository
	m *memStore
}

func (r *fakeTagRepo) GetOrCreate(_ context.Context, name, code string) (int64, repositories.Outcome, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if t, ok := r.m.tags[name]; ok {
		return t.ID, repositories.Existing, nil
	}
	t := &models.Tag{ID: r.m.id(), Name: name, Code: code}
	r.m.tags[name] = t
	return t.ID, repositories.Created, nil
}

func (r *fakeTagRepo) GetByID(_ context.Context, id int64) (*models.Tag, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, t := range r.m.tags {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, fmt.Errorf("tag %d: %w", id, apperrors.ErrNotFound)
}

type fakeASNRepo struct {
	repositories.ASNRepository
	m         *memStore
	lookupErr error
	lookups   []int64
}

func (r *fakeASNRepo) LookupIP(_ context.Context, ip int64) (*models.IPRange, error) {
	r.lookups = append(r.lookups, ip)
	if r.lookupErr != nil {
		return nil, r.lookupErr
	}
	var best *models.IPRange
	for _, ipr := range r.m.ranges {
		if ip < ipr.IPMin || ip > ipr.IPMax {
			continue
		}
		if best == nil || ipr.IPMax-ipr.IPMin < best.IPMax-best.IPMin {
			best = ipr
		}
	}
	if best == nil {
		return nil, fmt.Errorf("ip %d: %w", ip, apperrors.ErrNotFound)
	}
	return best, nil
}

type fakeAdminRepo struct {
	m       *memStore
	wipeErr error
}

func (r *fakeAdminRepo) Wipe(_ context.Context) error {
	if r.wipeErr != nil {
		return r.wipeErr
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.conns = make(map[int64]*models.NewConnection)
	r.m.urls = make(map[string]*models.URL)
	r.m.samples = make(map[string]*models.Sample)
	r.m.tags = make(map[string]*models.Tag)
	r.m.connURLs, r.m.connTags, r.m.assocs = nil, nil, nil
	r.m.wiped++
	return nil
}

// nopQuerier marks a context as carrying a caller's scope. Its methods panic.
type nopQuerier struct {
	database.Querier
}

// fakeBlobStore records payloads in memory.
type fakeBlobStore struct {
	blobs  map[string][]byte
	putErr error
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{blobs: make(map[string][]byte)}
}

func (b *fakeBlobStore) Put(_ context.Context, key string, data []byte) (string, error) {
	if b.putErr != nil {
		return "", b.putErr
	}
	b.blobs[key] = append([]byte(nil), data...)
	return "mem://" + key, nil
}

func (b *fakeBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := b.blobs[key]
	if !ok {
		return nil, errors.New("blob not found")
	}
	return data, nil
}

// mockStatsRepo is a testify mock of the stats queries.
type mockStatsRepo struct {
	mock.Mock
}

func (m *mockStatsRepo) Count(ctx context.Context, kind models.Kind) (int64, error) {
	args := m.Called(ctx, kind)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStatsRepo) SearchSamples(ctx context.Context, q string, limit int) ([]*models.Sample, error) {
	args := m.Called(ctx, q, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Sample), args.Error(1)
}

func (m *mockStatsRepo) SearchURLs(ctx context.Context, q string, limit int) ([]*models.URLSummary, error) {
	args := m.Called(ctx, q, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.URLSummary), args.Error(1)
}

func (m *mockStatsRepo) TopSamples(ctx context.Context, since int64, limit int) ([]*models.SampleActivity, error) {
	args := m.Called(ctx, since, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.SampleActivity), args.Error(1)
}

func (m *mockStatsRepo) HistoryGlobal(ctx context.Context, from, to, bucketSeconds int64) ([]models.HistoryBucket, error) {
	args := m.Called(ctx, from, to, bucketSeconds)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.HistoryBucket), args.Error(1)
}

func (m *mockStatsRepo) HistorySample(ctx context.Context, sampleID, from, to, bucketSeconds int64) ([]models.HistoryBucket, error) {
	args := m.Called(ctx, sampleID, from, to, bucketSeconds)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.HistoryBucket), args.Error(1)
}

// mockUserRepo is a testify mock of the user table.
type mockUserRepo struct {
	mock.Mock
}

func (m *mockUserRepo) Create(ctx context.Context, username, passwordHash string) (int64, error) {
	args := m.Called(ctx, username, passwordHash)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockUserRepo) GetByID(ctx context.Context, id int64) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *mockUserRepo) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

var (
	_ repositories.StatsRepository = (*mockStatsRepo)(nil)
	_ repositories.UserRepository  = (*mockUserRepo)(nil)
	_ repositories.AdminRepository = (*fakeAdminRepo)(nil)
)
