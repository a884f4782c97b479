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

// TagRepository defines data access for connection tags.
type TagRepository interface {
	GetOrCreate(ctx context.Context, name, code string) (int64, Outcome, error)
	GetByID(ctx context.Context, id int64) (*models.Tag, error)
	ListByConnection(ctx context.Context, connID int64) ([]*models.Tag, error)
	CountByConnection(ctx context.Context, connID int64) (int64, error)
}

type tagRepository struct{}

// NewTagRepository creates a new tag repository.
func NewTagRepository() TagRepository {
	return &tagRepository{}
}

func (r *tagRepository) GetOrCreate(ctx context.Context, name, code string) (int64, Outcome, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return 0, "", database.ErrNoScope
	}
	name, code = cleanText(name), cleanText(code)

	lookup := func(ctx context.Context, q database.Querier) (int64, error) {
		var id int64
		err := q.QueryRow(ctx, `SELECT id FROM tags WHERE name = $1`, name).Scan(&id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return 0, apperrors.ErrNotFound
			}
			return 0, fmt.Errorf("failed to look up tag: %w", err)
		}
		return id, nil
	}

	insert := func(ctx context.Context, q database.Querier) (int64, error) {
		var id int64
		err := q.QueryRow(ctx, `INSERT INTO tags (name, code) VALUES ($1, $2) RETURNING id`, name, code).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("failed to insert tag: %w", err)
		}
		return id, nil
	}

	return getOrCreate(ctx, scope.Conn, lookup, insert)
}

func (r *tagRepository) GetByID(ctx context.Context, id int64) (*models.Tag, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	var t models.Tag
	err := scope.Conn.QueryRow(ctx, `SELECT id, name, COALESCE(code, '') FROM tags WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.Code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("tag %d: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get tag: %w", err)
	}
	return &t, nil
}

func (r *tagRepository) ListByConnection(ctx context.Context, connID int64) ([]*models.Tag, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	query := `
		SELECT t.id, t.name, COALESCE(t.code, '')
		FROM conns_tags ct
		JOIN tags t ON t.id = ct.id_tag
		WHERE ct.id_conn = $1
		ORDER BY t.id`

	rows, err := scope.Conn.Query(ctx, query, connID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connection tags: %w", err)
	}
	defer rows.Close()

	tags := []*models.Tag{}
	for rows.Next() {
		var t models.Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.Code); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tags = append(tags, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connection tags: %w", err)
	}
	return tags, nil
}

func (r *tagRepository) CountByConnection(ctx context.Context, connID int64) (int64, error) {
	return countRows(ctx, "connection tags", `SELECT COUNT(*) FROM conns_tags WHERE id_conn = $1`, connID)
}

// Ensure tagRepository implements TagRepository at compile time.
var _ TagRepository = (*tagRepository)(nil)
