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

// URLRepository defines data access for download URLs.
type URLRepository interface {
	// GetOrCreate returns the id of the URL row keyed on u.URL, inserting it with
	// u's date, ip, asn and country when absent. Attributes of an existing row are
	// left untouched.
	GetOrCreate(ctx context.Context, u *models.URL) (int64, Outcome, error)
	GetByID(ctx context.Context, id int64) (*models.URL, error)
	GetByURL(ctx context.Context, url string) (*models.URL, error)
	// AttachSample points the URL at a sample. Last write wins.
	AttachSample(ctx context.Context, urlID, sampleID int64) error
	SetNetwork(ctx context.Context, urlID, networkID int64) error

	ListByConnection(ctx context.Context, connID int64, limit int) ([]*models.URL, error)
	CountByConnection(ctx context.Context, connID int64) (int64, error)
	ListBySample(ctx context.Context, sampleID int64, limit int) ([]*models.URL, error)
	CountBySample(ctx context.Context, sampleID int64) (int64, error)
	ListByNetwork(ctx context.Context, networkID int64, limit int) ([]*models.URL, error)
	CountByNetwork(ctx context.Context, networkID int64) (int64, error)
	ListByASN(ctx context.Context, asn int64, limit int) ([]*models.URL, error)
}

type urlRepository struct{}

// NewURLRepository creates a new URL repository.
func NewURLRepository() URLRepository {
	return &urlRepository{}
}

const urlColumns = `
	u.id, u.url, COALESCE(u.date, 0), u.sample, u.network, u.asn,
	COALESCE(u.ip, ''), COALESCE(u.country, '')`

func scanURL(row scanner) (*models.URL, error) {
	var u models.URL
	err := row.Scan(
		&u.ID,
		&u.URL,
		&u.Date,
		&u.SampleID,
		&u.NetworkID,
		&u.ASNID,
		&u.IP,
		&u.Country,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *urlRepository) GetOrCreate(ctx context.Context, u *models.URL) (int64, Outcome, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return 0, "", database.ErrNoScope
	}
	key := cleanText(u.URL)

	lookup := func(ctx context.Context, q database.Querier) (int64, error) {
		var id int64
		err := q.QueryRow(ctx, `SELECT id FROM urls WHERE url = $1`, key).Scan(&id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return 0, apperrors.ErrNotFound
			}
			return 0, fmt.Errorf("failed to look up url: %w", err)
		}
		return id, nil
	}

	insert := func(ctx context.Context, q database.Querier) (int64, error) {
		query := `
			INSERT INTO urls (url, date, ip, asn, country)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`
		var id int64
		err := q.QueryRow(ctx, query, key, u.Date, nullString(cleanText(u.IP)), u.ASNID, nullString(cleanText(u.Country))).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("failed to insert url: %w", err)
		}
		return id, nil
	}

	return getOrCreate(ctx, scope.Conn, lookup, insert)
}

func (r *urlRepository) GetByID(ctx context.Context, id int64) (*models.URL, error) {
	return r.get(ctx, `SELECT `+urlColumns+` FROM urls u WHERE u.id = $1`, id)
}

func (r *urlRepository) GetByURL(ctx context.Context, url string) (*models.URL, error) {
	return r.get(ctx, `SELECT `+urlColumns+` FROM urls u WHERE u.url = $1`, cleanText(url))
}

func (r *urlRepository) get(ctx context.Context, query string, arg any) (*models.URL, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	u, err := scanURL(scope.Conn.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("url %v: %w", arg, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get url: %w", err)
	}
	return u, nil
}

func (r *urlRepository) AttachSample(ctx context.Context, urlID, sampleID int64) error {
	return r.update(ctx, `UPDATE urls SET sample = $2 WHERE id = $1`, urlID, sampleID)
}

func (r *urlRepository) SetNetwork(ctx context.Context, urlID, networkID int64) error {
	return r.update(ctx, `UPDATE urls SET network = $2 WHERE id = $1`, urlID, networkID)
}

func (r *urlRepository) update(ctx context.Context, query string, urlID, value int64) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return database.ErrNoScope
	}

	tag, err := scope.Conn.Exec(ctx, query, urlID, value)
	if err != nil {
		return fmt.Errorf("failed to update url: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("url %d: %w", urlID, apperrors.ErrNotFound)
	}
	return nil
}

func (r *urlRepository) ListByConnection(ctx context.Context, connID int64, limit int) ([]*models.URL, error) {
	query := `
		SELECT ` + urlColumns + `
		FROM conns_urls cu
		JOIN urls u ON u.id = cu.id_url
		WHERE cu.id_conn = $1
		ORDER BY u.id
		LIMIT $2`
	return r.list(ctx, "connection urls", query, connID, limitArg(limit))
}

func (r *urlRepository) CountByConnection(ctx context.Context, connID int64) (int64, error) {
	return countRows(ctx, "connection urls", `SELECT COUNT(*) FROM conns_urls WHERE id_conn = $1`, connID)
}

func (r *urlRepository) ListBySample(ctx context.Context, sampleID int64, limit int) ([]*models.URL, error) {
	query := `
		SELECT ` + urlColumns + `
		FROM urls u
		WHERE u.sample = $1
		ORDER BY u.id
		LIMIT $2`
	return r.list(ctx, "sample urls", query, sampleID, limitArg(limit))
}

func (r *urlRepository) CountBySample(ctx context.Context, sampleID int64) (int64, error) {
	return countRows(ctx, "sample urls", `SELECT COUNT(*) FROM urls WHERE sample = $1`, sampleID)
}

func (r *urlRepository) ListByNetwork(ctx context.Context, networkID int64, limit int) ([]*models.URL, error) {
	query := `
		SELECT ` + urlColumns + `
		FROM urls u
		WHERE u.network = $1
		ORDER BY u.id
		LIMIT $2`
	return r.list(ctx, "network urls", query, networkID, limitArg(limit))
}

func (r *urlRepository) CountByNetwork(ctx context.Context, networkID int64) (int64, error) {
	return countRows(ctx, "network urls", `SELECT COUNT(*) FROM urls WHERE network = $1`, networkID)
}

func (r *urlRepository) ListByASN(ctx context.Context, asn int64, limit int) ([]*models.URL, error) {
	query := `
		SELECT ` + urlColumns + `
		FROM urls u
		WHERE u.asn = $1
		ORDER BY u.id
		LIMIT $2`
	return r.list(ctx, "asn urls", query, asn, limitArg(limit))
}

func (r *urlRepository) list(ctx context.Context, what, query string, args ...any) ([]*models.URL, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	rows, err := scope.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", what, err)
	}
	defer rows.Close()

	urls := []*models.URL{}
	for rows.Next() {
		u, err := scanURL(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan url: %w", err)
		}
		urls = append(urls, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", what, err)
	}
	return urls, nil
}

// Ensure urlRepository implements URLRepository at compile time.
var _ URLRepository = (*urlRepository)(nil)
