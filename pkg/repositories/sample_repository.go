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

// SampleRepository defines data access for captured samples.
type SampleRepository interface {
	// GetOrCreate returns the id of the sample keyed on s.SHA256, inserting it when
	// absent. An existing row keeps its attributes.
	GetOrCreate(ctx context.Context, s *models.Sample) (int64, Outcome, error)
	GetByID(ctx context.Context, id int64) (*models.Sample, error)
	GetByHash(ctx context.Context, sha256 string) (*models.Sample, error)
	// List returns samples newest first.
	List(ctx context.Context, limit int) ([]*models.Sample, error)
	SetFile(ctx context.Context, sha256, locator string) error
	SetResult(ctx context.Context, sha256, result string) error
	SetNetwork(ctx context.Context, sampleID, networkID int64) error
	ListByNetwork(ctx context.Context, networkID int64, limit int) ([]*models.Sample, error)
	CountByNetwork(ctx context.Context, networkID int64) (int64, error)
}

type sampleRepository struct{}

// NewSampleRepository creates a new sample repository.
func NewSampleRepository() SampleRepository {
	return &sampleRepository{}
}

const sampleColumns = `
	s.id, s.sha256, COALESCE(s.date, 0), COALESCE(s.name, ''), s.file,
	COALESCE(s.length, 0), s.result, COALESCE(s.info, ''), s.network`

func scanSample(row scanner) (*models.Sample, error) {
	var s models.Sample
	err := row.Scan(
		&s.ID,
		&s.SHA256,
		&s.Date,
		&s.Name,
		&s.File,
		&s.Length,
		&s.Result,
		&s.Info,
		&s.NetworkID,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *sampleRepository) GetOrCreate(ctx context.Context, s *models.Sample) (int64, Outcome, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return 0, "", database.ErrNoScope
	}

	lookup := func(ctx context.Context, q database.Querier) (int64, error) {
		var id int64
		err := q.QueryRow(ctx, `SELECT id FROM samples WHERE sha256 = $1`, s.SHA256).Scan(&id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return 0, apperrors.ErrNotFound
			}
			return 0, fmt.Errorf("failed to look up sample: %w", err)
		}
		return id, nil
	}

	insert := func(ctx context.Context, q database.Querier) (int64, error) {
		query := `
			INSERT INTO samples (sha256, date, name, length, result, info)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`
		var id int64
		err := q.QueryRow(ctx, query, s.SHA256, s.Date, cleanText(s.Name), s.Length, cleanTextPtr(s.Result), cleanText(s.Info)).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("failed to insert sample: %w", err)
		}
		return id, nil
	}

	return getOrCreate(ctx, scope.Conn, lookup, insert)
}

func (r *sampleRepository) GetByID(ctx context.Context, id int64) (*models.Sample, error) {
	return r.get(ctx, `SELECT `+sampleColumns+` FROM samples s WHERE s.id = $1`, id)
}

func (r *sampleRepository) GetByHash(ctx context.Context, sha256 string) (*models.Sample, error) {
	return r.get(ctx, `SELECT `+sampleColumns+` FROM samples s WHERE s.sha256 = $1`, sha256)
}

func (r *sampleRepository) get(ctx context.Context, query string, arg any) (*models.Sample, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	s, err := scanSample(scope.Conn.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("sample %v: %w", arg, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get sample: %w", err)
	}
	return s, nil
}

func (r *sampleRepository) List(ctx context.Context, limit int) ([]*models.Sample, error) {
	query := `
		SELECT ` + sampleColumns + `
		FROM samples s
		ORDER BY s.date DESC, s.id DESC
		LIMIT $1`
	return r.list(ctx, "samples", query, limitArg(limit))
}

func (r *sampleRepository) SetFile(ctx context.Context, sha256, locator string) error {
	return r.update(ctx, `UPDATE samples SET file = $2 WHERE sha256 = $1`, sha256, locator)
}

func (r *sampleRepository) SetResult(ctx context.Context, sha256, result string) error {
	return r.update(ctx, `UPDATE samples SET result = $2 WHERE sha256 = $1`, sha256, cleanText(result))
}

func (r *sampleRepository) SetNetwork(ctx context.Context, sampleID, networkID int64) error {
	return r.update(ctx, `UPDATE samples SET network = $2 WHERE id = $1`, sampleID, networkID)
}

func (r *sampleRepository) update(ctx context.Context, query string, key, value any) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return database.ErrNoScope
	}

	tag, err := scope.Conn.Exec(ctx, query, key, value)
	if err != nil {
		return fmt.Errorf("failed to update sample: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sample %v: %w", key, apperrors.ErrNotFound)
	}
	return nil
}

func (r *sampleRepository) ListByNetwork(ctx context.Context, networkID int64, limit int) ([]*models.Sample, error) {
	query := `
		SELECT ` + sampleColumns + `
		FROM samples s
		WHERE s.network = $1
		ORDER BY s.id
		LIMIT $2`
	return r.list(ctx, "network samples", query, networkID, limitArg(limit))
}

func (r *sampleRepository) CountByNetwork(ctx context.Context, networkID int64) (int64, error) {
	return countRows(ctx, "network samples", `SELECT COUNT(*) FROM samples WHERE network = $1`, networkID)
}

func (r *sampleRepository) list(ctx context.Context, what, query string, args ...any) ([]*models.Sample, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	rows, err := scope.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", what, err)
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
		return nil, fmt.Errorf("error iterating %s: %w", what, err)
	}
	return samples, nil
}

// Ensure sampleRepository implements SampleRepository at compile time.
var _ SampleRepository = (*sampleRepository)(nil)
