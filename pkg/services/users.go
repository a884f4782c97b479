package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/stingnet/sting-engine/pkg/apperrors"
	"github.com/stingnet/sting-engine/pkg/models"
)

// ErrInvalidCredentials is returned by VerifyUser for an unknown user or a wrong password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// UserService manages the backend accounts connections are attributed to.
type UserService interface {
	// CreateUser stores username with a bcrypt hash of password. A taken
	// username returns apperrors.ErrConflict.
	CreateUser(ctx context.Context, username, password string) (*models.User, error)
	// VerifyUser returns the user when password matches.
	VerifyUser(ctx context.Context, username, password string) (*models.User, error)
	GetUser(ctx context.Context, username string) (*models.User, error)
}

type userService struct {
	db     Storage
	repos  *Repositories
	cost   int
	logger *zap.Logger
}

// NewUserService creates a new user service hashing with bcrypt.DefaultCost.
func NewUserService(db Storage, repos *Repositories, logger *zap.Logger) UserService {
	return newUserService(db, repos, bcrypt.DefaultCost, logger)
}

func newUserService(db Storage, repos *Repositories, cost int, logger *zap.Logger) *userService {
	return &userService{
		db:     db,
		repos:  repos,
		cost:   cost,
		logger: logger.Named("users"),
	}
}

func (s *userService) CreateUser(ctx context.Context, username, password string) (*models.User, error) {
	if username == "" || password == "" {
		return nil, fmt.Errorf("username and password are required: %w", apperrors.ErrInvalidArgument)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	var id int64
	err = scoped(ctx, s.db, func(ctx context.Context) error {
		var err error
		id, err = s.repos.Users.Create(ctx, username, string(hash))
		return err
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			return nil, err
		}
		return nil, apperrors.Storage("create user", err)
	}

	s.logger.Info("Created backend user", zap.String("username", username), zap.Int64("user_id", id))
	return &models.User{ID: id, Username: username, PasswordHash: string(hash)}, nil
}

func (s *userService) VerifyUser(ctx context.Context, username, password string) (*models.User, error) {
	u, err := s.GetUser(ctx, username)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

func (s *userService) GetUser(ctx context.Context, username string) (*models.User, error) {
	var u *models.User
	err := scoped(ctx, s.db, func(ctx context.Context) error {
		var err error
		u, err = s.repos.Users.GetByUsername(ctx, username)
		return err
	})
	if err != nil {
		return nil, apperrors.Storage("get user", err)
	}
	return u, nil
}
