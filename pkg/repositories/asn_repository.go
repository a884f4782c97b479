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

// ASNRepository defines data access for the ASN and IP range reference tables.
type ASNRepository interface {
	// Upsert inserts the ASN or replaces its descriptive fields.
	Upsert(ctx context.Context, asn *models.ASN) error
	Get(ctx context.Context, asn int64) (*models.ASN, error)
	AddIPRange(ctx context.Context, r *models.IPRange) error
	// LookupIP returns the narrowest range containing ip (an IPv4 address as integer).
	LookupIP(ctx context.Context, ip int64) (*models.IPRange, error)
}

type asnRepository struct{}

// NewASNRepository creates a new ASN repository.
func NewASNRepository() ASNRepository {
	return &asnRepository{}
}

func (r *asnRepository) Upsert(ctx context.Context, asn *models.ASN) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return database.ErrNoScope
	}

	query := `
		INSERT INTO asn (asn, name, reg, country)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (asn) DO UPDATE
		SET name = EXCLUDED.name, reg = EXCLUDED.reg, country = EXCLUDED.country`

	if _, err := scope.Conn.Exec(ctx, query, asn.ASN, asn.Name, asn.Reg, asn.Country); err != nil {
		return fmt.Errorf("failed to upsert asn: %w", err)
	}
	return nil
}

func (r *asnRepository) Get(ctx context.Context, asn int64) (*models.ASN, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	query := `SELECT asn, COALESCE(name, ''), COALESCE(reg, ''), COALESCE(country, '') FROM asn WHERE asn = $1`

	var a models.ASN
	if err := scope.Conn.QueryRow(ctx, query, asn).Scan(&a.ASN, &a.Name, &a.Reg, &a.Country); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("asn %d: %w", asn, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get asn: %w", err)
	}
	return &a, nil
}

func (r *asnRepository) AddIPRange(ctx context.Context, ipr *models.IPRange) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return database.ErrNoScope
	}
	if ipr.IPMin > ipr.IPMax {
		return fmt.Errorf("ip range %d-%d: %w", ipr.IPMin, ipr.IPMax, apperrors.ErrInvalidArgument)
	}

	query := `
		INSERT INTO ipranges (ip_min, ip_max, cidr, country, region, city, zipcode, timezone,
		                      latitude, longitude, asn)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := scope.Conn.Exec(ctx, query,
		ipr.IPMin,
		ipr.IPMax,
		nullString(ipr.CIDR),
		ipr.Country,
		ipr.Region,
		ipr.City,
		ipr.Zipcode,
		ipr.Timezone,
		ipr.Latitude,
		ipr.Longitude,
		ipr.ASNID,
	)
	if err != nil {
		return fmt.Errorf("failed to add ip range: %w", err)
	}
	return nil
}

func (r *asnRepository) LookupIP(ctx context.Context, ip int64) (*models.IPRange, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	query := `
		SELECT ip_min, ip_max, COALESCE(cidr, ''), COALESCE(country, ''), COALESCE(region, ''),
		       COALESCE(city, ''), COALESCE(zipcode, ''), COALESCE(timezone, ''),
		       latitude, longitude, asn
		FROM ipranges
		WHERE ip_min <= $1 AND ip_max >= $1
		ORDER BY ip_max - ip_min
		LIMIT 1`

	var ipr models.IPRange
	err := scope.Conn.QueryRow(ctx, query, ip).Scan(
		&ipr.IPMin,
		&ipr.IPMax,
		&ipr.CIDR,
		&ipr.Country,
		&ipr.Region,
		&ipr.City,
		&ipr.Zipcode,
		&ipr.Timezone,
		&ipr.Latitude,
		&ipr.Longitude,
		&ipr.ASNID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("ip %d: %w", ip, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to look up ip range: %w", err)
	}
	return &ipr, nil
}

// Ensure asnRepository implements ASNRepository at compile time.
var _ ASNRepository = (*asnRepository)(nil)
