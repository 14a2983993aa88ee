// Package admin manages user accounts on behalf of administrators.
package admin

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/nkiryanov/authapi/internal/apperrors"
	"github.com/nkiryanov/authapi/internal/logger"
	"github.com/nkiryanov/authapi/internal/models"
	"github.com/nkiryanov/authapi/internal/repository"
	"github.com/nkiryanov/authapi/internal/service/auth"
	"github.com/nkiryanov/authapi/internal/service/user"
)

// Number of the newest users returned with stats
const RecentUsersLimit = 5

type passwordHasher interface {
	Hash(password string) (string, error)
}

type Config struct {
	// auth.BcryptHasher if not set
	Hasher passwordHasher

	// Roles admin may assign
	// models.DefaultRoles if not set
	AllowedRoles []models.Role

	// NoOp logger if not set
	Logger logger.Logger
}

type CreateUserParams struct {
	Email    string
	Username string
	Password string
	Role     models.Role // models.RoleUser if empty
}

// Nil field keeps current value
type UpdateUserParams struct {
	Email *string
	Role  *models.Role
}

type Stats struct {
	TotalUsers   int
	AdminUsers   int
	RegularUsers int
	RecentUsers  []models.User
}

type AdminService struct {
	storage      repository.Storage
	hasher       passwordHasher
	allowedRoles []models.Role
	logger       logger.Logger
}

func NewService(cfg Config, storage repository.Storage) *AdminService {
	if cfg.Hasher == nil {
		cfg.Hasher = auth.BcryptHasher{}
	}
	if len(cfg.AllowedRoles) == 0 {
		cfg.AllowedRoles = models.DefaultRoles
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoOpLogger()
	}

	return &AdminService{
		storage:      storage,
		hasher:       cfg.Hasher,
		allowedRoles: slices.Clone(cfg.AllowedRoles),
		logger:       cfg.Logger,
	}
}

func (s *AdminService) ListUsers(ctx context.Context) ([]models.User, error) {
	users, err := s.storage.User().ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("can't list users. Err: %w", err)
	}
	return users, nil
}

func (s *AdminService) ListUsersByRole(ctx context.Context, role models.Role) ([]models.User, error) {
	users, err := s.storage.User().ListUsersByRole(ctx, role)
	if err != nil {
		return nil, fmt.Errorf("can't list users by role. Err: %w", err)
	}
	return users, nil
}

// apperrors.ErrUserNotFound if there is no such user
func (s *AdminService) GetUser(ctx context.Context, userID uuid.UUID) (models.User, error) {
	u, err := s.storage.User().GetUserByID(ctx, userID)
	if err != nil {
		return u, fmt.Errorf("can't get user. Err: %w", err)
	}
	return u, nil
}

// Create user with password
// Taken email wins over unknown role: apperrors.ErrUserAlreadyExists is returned first
func (s *AdminService) CreateUser(ctx context.Context, params CreateUserParams) (models.User, error) {
	if err := user.EnsureEmailFree(ctx, s.storage.User(), params.Email); err != nil {
		return models.User{}, err
	}

	role := params.Role
	if role == "" {
		role = models.RoleUser
	}
	if !slices.Contains(s.allowedRoles, role) {
		return models.User{}, apperrors.ErrInvalidRole
	}

	hash, err := s.hasher.Hash(params.Password)
	if err != nil {
		return models.User{}, fmt.Errorf("can't hash password. Err: %w", err)
	}

	u, err := s.storage.User().CreateUser(ctx, repository.CreateUserParams{
		Email:        params.Email,
		Username:     params.Username,
		PasswordHash: hash,
		Role:         role,
	})
	if err != nil {
		return u, fmt.Errorf("can't create user. Err: %w", err)
	}

	s.logger.Info("user created by admin", "user_id", u.ID, "role", u.Role)
	return u, nil
}

// Change email or role of the user
// Issued access tokens keep the old role until they expire
func (s *AdminService) UpdateUser(ctx context.Context, userID uuid.UUID, params UpdateUserParams) (models.User, error) {
	u, err := s.GetUser(ctx, userID)
	if err != nil {
		return u, err
	}

	if params.Email != nil && *params.Email != u.Email {
		if err := user.EnsureEmailFree(ctx, s.storage.User(), *params.Email); err != nil {
			return u, err
		}
		u.Email = *params.Email
	}
	if params.Role != nil {
		if !slices.Contains(s.allowedRoles, *params.Role) {
			return u, apperrors.ErrInvalidRole
		}
		u.Role = *params.Role
	}

	u, err = s.storage.User().UpdateUser(ctx, u)
	if err != nil {
		return u, fmt.Errorf("can't update user. Err: %w", err)
	}

	return u, nil
}

// Delete user and revoke its refresh tokens wherever they are stored
// apperrors.ErrUserNotFound if there is no such user
func (s *AdminService) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	if _, err := s.GetUser(ctx, userID); err != nil {
		return err
	}

	revoked, err := s.storage.Refresh().RevokeAllForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("can't revoke user refresh tokens. Err: %w", err)
	}

	if err := s.storage.User().DeleteUser(ctx, userID); err != nil {
		return fmt.Errorf("can't delete user. Err: %w", err)
	}

	s.logger.Info("user deleted by admin", "user_id", userID, "revoked_tokens", revoked)
	return nil
}

func (s *AdminService) Stats(ctx context.Context) (Stats, error) {
	users, err := s.ListUsers(ctx)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{TotalUsers: len(users)}
	for _, u := range users {
		switch u.Role {
		case models.RoleAdmin:
			stats.AdminUsers++
		case models.RoleUser:
			stats.RegularUsers++
		}
	}

	// Users are listed newest first
	stats.RecentUsers = users[:min(len(users), RecentUsersLimit)]
	return stats, nil
}
