package services

import (
	"context"
	"encoding/binary"
	"fmt"
	"net/netip"

	"go.uber.org/zap"

	"github.com/stingnet/sting-engine/pkg/apperrors"
	"github.com/stingnet/sting-engine/pkg/models"
)

// ReferenceService maintains the ASN and IP range lookup tables. These survive a
// bulk wipe.
type ReferenceService interface {
	UpsertASN(ctx context.Context, asn *models.ASN) error
	GetASN(ctx context.Context, asn int64) (*models.ASN, error)
	AddIPRange(ctx context.Context, r *models.IPRange) error
	// LookupIP resolves a dotted IPv4 address to the narrowest range containing it.
	LookupIP(ctx context.Context, ip string) (*models.IPRange, error)
}

type referenceService struct {
	db     Storage
	repos  *Repositories
	logger *zap.Logger
}

// NewReferenceService creates a new reference data service.
func NewReferenceService(db Storage, repos *Repositories, logger *zap.Logger) ReferenceService {
	return &referenceService{
		db:     db,
		repos:  repos,
		logger: logger.Named("reference"),
	}
}

func (s *referenceService) UpsertASN(ctx context.Context, asn *models.ASN) error {
	err := scoped(ctx, s.db, func(ctx context.Context) error {
		return s.repos.ASNs.Upsert(ctx, asn)
	})
	return apperrors.Storage("upsert asn", err)
}

func (s *referenceService) GetASN(ctx context.Context, asn int64) (*models.ASN, error) {
	var a *models.ASN
	err := scoped(ctx, s.db, func(ctx context.Context) error {
		var err error
		a, err = s.repos.ASNs.Get(ctx, asn)
		return err
	})
	if err != nil {
		return nil, apperrors.Storage("get asn", err)
	}
	return a, nil
}

func (s *referenceService) AddIPRange(ctx context.Context, r *models.IPRange) error {
	err := scoped(ctx, s.db, func(ctx context.Context) error {
		return s.repos.ASNs.AddIPRange(ctx, r)
	})
	return apperrors.Storage("add ip range", err)
}

func (s *referenceService) LookupIP(ctx context.Context, ip string) (*models.IPRange, error) {
	n, err := ipv4ToInt(ip)
	if err != nil {
		return nil, err
	}

	var r *models.IPRange
	err = scoped(ctx, s.db, func(ctx context.Context) error {
		var err error
		r, err = s.repos.ASNs.LookupIP(ctx, n)
		return err
	})
	if err != nil {
		return nil, apperrors.Storage("lookup ip", err)
	}
	return r, nil
}

// ipv4ToInt converts a dotted IPv4 address (or an IPv4-mapped IPv6 address) to
// the integer form stored in ipranges.
func ipv4ToInt(ip string) (int64, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return 0, fmt.Errorf("invalid ip %q: %w", ip, apperrors.ErrInvalidArgument)
	}
	addr = addr.Unmap()
	if !addr.Is4() {
		return 0, fmt.Errorf("ip %q is not IPv4: %w", ip, apperrors.ErrInvalidArgument)
	}
	b := addr.As4()
	return int64(binary.BigEndian.Uint32(b[:])), nil
}
