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

// UserRepository defines data access for backend users.
type UserRepository interface {
	// Create inserts a user with an already hashed password. A taken username
	// returns ErrConflict.
	Create(ctx context.Context, username, passwordHash string) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
}

type userRepository struct{}

// NewUserRepository creates a new user repository.
func NewUserRepository() UserRepository {
	return &userRepository{}
}

func (r *userRepository) Create(ctx context.Context, username, passwordHash string) (int64, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return 0, database.ErrNoScope
	}

	var id int64
	err := scope.Conn.QueryRow(ctx,
		`INSERT INTO users (username, password) VALUES ($1, $2) RETURNING id`,
		username, passwordHash,
	).Scan(&id)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return 0, fmt.Errorf("user %q: %w", username, apperrors.ErrConflict)
		}
		return 0, fmt.Errorf("failed to create user: %w", err)
	}
	return id, nil
}

func (r *userRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	return r.get(ctx, `SELECT id, username, password FROM users WHERE id = $1`, id)
}

func (r *userRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.get(ctx, `SELECT id, username, password FROM users WHERE username = $1`, username)
}

func (r *userRepository) get(ctx context.Context, query string, arg any) (*models.User, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	var u models.User
	if err := scope.Conn.QueryRow(ctx, query, arg).Scan(&u.ID, &u.Username, &u.PasswordHash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %v: %w", arg, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// Ensure userRepository implements UserRepository at compile time.
var _ UserRepository = (*userRepository)(nil)
