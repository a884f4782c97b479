package repositories

import (
	"context"
	"fmt"

	"github.com/stingnet/sting-engine/pkg/apperrors"
	"github.com/stingnet/sting-engine/pkg/database"
	"github.com/stingnet/sting-engine/pkg/models"
)

// kindTables maps countable kinds to their tables. Only these names are ever
// interpolated into SQL.
var kindTables = map[models.Kind]string{
	models.KindConnection: "conns",
	models.KindURL:        "urls",
	models.KindSample:     "samples",
	models.KindNetwork:    "network",
	models.KindMalware:    "malware",
	models.KindASN:        "asn",
	models.KindIPRange:    "ipranges",
	models.KindTag:        "tags",
	models.KindUser:       "users",
}

// StatsRepository defines the aggregate and search queries.
type StatsRepository interface {
	Count(ctx context.Context, kind models.Kind) (int64, error)
	// SearchSamples matches q as a case-insensitive substring of name or result.
	// Search results are in insertion order; there is no ranking.
	SearchSamples(ctx context.Context, q string, limit int) ([]*models.Sample, error)
	// SearchURLs matches q as a case-insensitive substring of the url.
	SearchURLs(ctx context.Context, q string, limit int) ([]*models.URLSummary, error)
	// TopSamples ranks samples by the number of connections since the given time
	// that reference a URL serving them.
	TopSamples(ctx context.Context, since int64, limit int) ([]*models.SampleActivity, error)
	// HistoryGlobal counts connections in [from, to] per bucket of bucketSeconds.
	HistoryGlobal(ctx context.Context, from, to, bucketSeconds int64) ([]models.HistoryBucket, error)
	// HistorySample is HistoryGlobal restricted to connections linked to a URL
	// serving the sample.
	HistorySample(ctx context.Context, sampleID, from, to, bucketSeconds int64) ([]models.HistoryBucket, error)
}

type statsRepository struct{}

// NewStatsRepository creates a new stats repository.
func NewStatsRepository() StatsRepository {
	return &statsRepository{}
}

func (r *statsRepository) Count(ctx context.Context, kind models.Kind) (int64, error) {
	table, ok := kindTables[kind]
	if !ok {
		return 0, fmt.Errorf("cannot count kind %q: %w", kind, apperrors.ErrInvalidArgument)
	}
	return countRows(ctx, table, "SELECT COUNT(*) FROM "+table)
}

func (r *statsRepository) SearchSamples(ctx context.Context, q string, limit int) ([]*models.Sample, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	query := `
		SELECT ` + sampleColumns + `
		FROM samples s
		WHERE s.name ILIKE $1 ESCAPE '\' OR s.result ILIKE $1 ESCAPE '\'
		ORDER BY s.id
		LIMIT $2`

	rows, err := scope.Conn.Query(ctx, query, containsPattern(q), limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to search samples: %w", err)
	}
	defer rows.Close()

	samples := []*models.Sample{}
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating samples: %w", err)
	}
	return samples, nil
}

func (r *statsRepository) SearchURLs(ctx context.Context, q string, limit int) ([]*models.URLSummary, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	query := `
		SELECT u.id, u.url, COALESCE(u.date, 0), s.sha256
		FROM urls u
		LEFT JOIN samples s ON s.id = u.sample
		WHERE u.url ILIKE $1 ESCAPE '\'
		ORDER BY u.id
		LIMIT $2`

	rows, err := scope.Conn.Query(ctx, query, containsPattern(q), limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to search urls: %w", err)
	}
	defer rows.Close()

	urls := []*models.URLSummary{}
	for rows.Next() {
		var u models.URLSummary
		if err := rows.Scan(&u.ID, &u.URL, &u.Date, &u.Sample); err != nil {
			return nil, fmt.Errorf("failed to scan url: %w", err)
		}
		urls = append(urls, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating urls: %w", err)
	}
	return urls, nil
}

func (r *statsRepository) TopSamples(ctx context.Context, since int64, limit int) ([]*models.SampleActivity, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	query := `
		SELECT ` + sampleColumns + `, COUNT(*) AS activity, MAX(c.date) AS lastseen
		FROM conns c
		JOIN conns_urls cu ON cu.id_conn = c.id
		JOIN urls u ON u.id = cu.id_url
		JOIN samples s ON s.id = u.sample
		WHERE c.date >= $1
		GROUP BY s.id
		ORDER BY activity DESC, s.id
		LIMIT $2`

	rows, err := scope.Conn.Query(ctx, query, since, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to rank samples: %w", err)
	}
	defer rows.Close()

	top := []*models.SampleActivity{}
	for rows.Next() {
		var a models.SampleActivity
		err := rows.Scan(
			&a.Sample.ID,
			&a.Sample.SHA256,
			&a.Sample.Date,
			&a.Sample.Name,
			&a.Sample.File,
			&a.Sample.Length,
			&a.Sample.Result,
			&a.Sample.Info,
			&a.Sample.NetworkID,
			&a.Count,
			&a.LastSeen,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sample activity: %w", err)
		}
		top = append(top, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sample activity: %w", err)
	}
	return top, nil
}

// bucketExpr floors c.date to a multiple of $3 with integer arithmetic. The double
// modulo keeps the floor correct for negative dates.
const bucketExpr = `c.date - ((c.date % $3) + $3) % $3`

func (r *statsRepository) HistoryGlobal(ctx context.Context, from, to, bucketSeconds int64) ([]models.HistoryBucket, error) {
	query := `
		SELECT ` + bucketExpr + ` AS bucket, COUNT(*)
		FROM conns c
		WHERE c.date >= $1 AND c.date <= $2
		GROUP BY bucket
		ORDER BY bucket`
	return r.history(ctx, query, bucketSeconds, from, to, bucketSeconds)
}

func (r *statsRepository) HistorySample(ctx context.Context, sampleID, from, to, bucketSeconds int64) ([]models.HistoryBucket, error) {
	query := `
		SELECT ` + bucketExpr + ` AS bucket, COUNT(*)
		FROM conns c
		JOIN conns_urls cu ON cu.id_conn = c.id
		JOIN urls u ON u.id = cu.id_url
		WHERE c.date >= $1 AND c.date <= $2 AND u.sample = $4
		GROUP BY bucket
		ORDER BY bucket`
	return r.history(ctx, query, bucketSeconds, from, to, bucketSeconds, sampleID)
}

func (r *statsRepository) history(ctx context.Context, query string, bucketSeconds int64, args ...any) ([]models.HistoryBucket, error) {
	if bucketSeconds <= 0 {
		return nil, fmt.Errorf("bucket width %d: %w", bucketSeconds, apperrors.ErrInvalidArgument)
	}

	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	rows, err := scope.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	buckets := []models.HistoryBucket{}
	for rows.Next() {
		var b models.HistoryBucket
		if err := rows.Scan(&b.Start, &b.Count); err != nil {
			return nil, fmt.Errorf("failed to scan history bucket: %w", err)
		}
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}
	return buckets, nil
}

// Ensure statsRepository implements StatsRepository at compile time.
var _ StatsRepository = (*statsRepository)(nil)
