//go:build integration

package repositories

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stingnet/sting-engine/pkg/apperrors"
	"github.com/stingnet/sting-engine/pkg/models"
)

func TestSampleRepository_GetOrCreateAndUpdate(t *testing.T) {
	tc := setupRepoTest(t)
	ctx, release := tc.scoped()
	defer release()

	repo := NewSampleRepository()
	sha := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

	id, outcome, err := repo.GetOrCreate(ctx, &models.Sample{SHA256: sha, Name: "x86", Length: 1024, Date: 50, Info: "elf"})
	require.NoError(t, err)
	assert.Equal(t, Created, outcome)

	again, outcome, err := repo.GetOrCreate(ctx, &models.Sample{SHA256: sha, Name: "renamed"})
	require.NoError(t, err)
	assert.Equal(t, Existing, outcome)
	assert.Equal(t, id, again)

	s, err := repo.GetByHash(ctx, sha)
	require.NoError(t, err)
	assert.Equal(t, "x86", s.Name)
	assert.Nil(t, s.File)
	assert.Nil(t, s.Result)
	assert.False(t, s.HasPayload())

	require.NoError(t, repo.SetFile(ctx, sha, "samples/"+sha))
	require.NoError(t, repo.SetResult(ctx, sha, "Linux.Mirai"))

	s, err = repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, s.HasPayload())
	require.NotNil(t, s.Result)
	assert.Equal(t, "Linux.Mirai", *s.Result)

	assert.ErrorIs(t, repo.SetResult(ctx, "ffff", "x"), apperrors.ErrNotFound)
	_, err = repo.GetByHash(ctx, "ffff")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestSampleRepository_ListNewestFirst(t *testing.T) {
	tc := setupRepoTest(t)
	ctx, release := tc.scoped()
	defer release()

	repo := NewSampleRepository()
	for i, sha := range []string{"01", "02", "03"} {
		_, _, err := repo.GetOrCreate(ctx, &models.Sample{SHA256: sha, Date: int64(i)})
		require.NoError(t, err)
	}

	samples, err := repo.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, "03", samples[0].SHA256)
	assert.Equal(t, "02", samples[1].SHA256)
}

func TestNetworkRepository_Classification(t *testing.T) {
	tc := setupRepoTest(t)
	ctx, release := tc.scoped()
	defer release()

	networks := NewNetworkRepository()
	malwareID, err := networks.CreateMalware(ctx, "Mirai")
	require.NoError(t, err)
	netID, err := networks.CreateNetwork(ctx, &malwareID)
	require.NoError(t, err)

	require.NoError(t, networks.IncrementFirstConns(ctx, netID, 2))
	require.NoError(t, networks.IncrementFirstConns(ctx, netID, 1))
	n, err := networks.GetNetwork(ctx, netID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n.NbFirstConns)
	require.NotNil(t, n.MalwareID)
	assert.Equal(t, malwareID, *n.MalwareID)

	sampleID := tc.newSample(ctx, "cafe", "arm7")
	require.NoError(t, NewSampleRepository().SetNetwork(ctx, sampleID, netID))
	count, err := NewSampleRepository().CountByNetwork(ctx, netID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	list, err := networks.ListByMalware(ctx, malwareID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, netID, list[0].ID)

	assert.ErrorIs(t, networks.IncrementFirstConns(ctx, netID+50, 1), apperrors.ErrNotFound)
}

func TestASNRepository_LookupIPPicksNarrowestRange(t *testing.T) {
	tc := setupRepoTest(t)
	ctx, release := tc.scoped()
	defer release()

	repo := NewASNRepository()
	asn := int64(64501)
	require.NoError(t, repo.Upsert(ctx, &models.ASN{ASN: asn, Name: "old"}))
	require.NoError(t, repo.Upsert(ctx, &models.ASN{ASN: asn, Name: "EXAMPLE-NET", Country: "US"}))

	a, err := repo.Get(ctx, asn)
	require.NoError(t, err)
	assert.Equal(t, "EXAMPLE-NET", a.Name)

	// 10.0.0.0/8 and 10.1.0.0/16
	require.NoError(t, repo.AddIPRange(ctx, &models.IPRange{IPMin: 167772160, IPMax: 184549375, CIDR: "10.0.0.0/8", Country: "US"}))
	require.NoError(t, repo.AddIPRange(ctx, &models.IPRange{IPMin: 167837696, IPMax: 167903231, CIDR: "10.1.0.0/16", Country: "CA", ASNID: &asn}))

	r, err := repo.LookupIP(ctx, 167837697)
	require.NoError(t, err)
	assert.Equal(t, "10.1.0.0/16", r.CIDR)
	require.NotNil(t, r.ASNID)
	assert.Equal(t, asn, *r.ASNID)

	r, err = repo.LookupIP(ctx, 167772161)
	require.NoError(t, err)
	assert.Equal(t, "US", r.Country)

	_, err = repo.LookupIP(ctx, 1)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	err = repo.AddIPRange(ctx, &models.IPRange{IPMin: 10, IPMax: 5})
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
}

func TestUserRepository_UniqueUsername(t *testing.T) {
	tc := setupRepoTest(t)
	ctx, release := tc.scoped()
	defer release()

	repo := NewUserRepository()
	id, err := repo.Create(ctx, "honeypot-eu", "hash")
	require.NoError(t, err)

	_, err = repo.Create(ctx, "honeypot-eu", "hash")
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	u, err := repo.GetByUsername(ctx, "honeypot-eu")
	require.NoError(t, err)
	assert.Equal(t, id, u.ID)
	assert.Equal(t, "hash", u.PasswordHash)

	_, err = repo.GetByID(ctx, id+100)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
