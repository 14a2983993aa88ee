package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/nkiryanov/authapi/internal/models"
)

type CreateUserParams struct {
	Email        string
	Username     string
	PasswordHash string
	Role         models.Role
}

// User repository interface
type UserRepo interface {
	// Create user
	// If user with the email exists already has to return apperrors.ErrUserAlreadyExists
	CreateUser(ctx context.Context, params CreateUserParams) (models.User, error)

	// Get user by it's id or email
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)

	// Overwrite mutable user fields (everything except id and creation time)
	// If the new email is taken by another user has to return apperrors.ErrUserAlreadyExists
	UpdateUser(ctx context.Context, user models.User) (models.User, error)

	// List users, newest first
	ListUsers(ctx context.Context) ([]models.User, error)
	ListUsersByRole(ctx context.Context, role models.Role) ([]models.User, error)

	// Delete user with all its refresh tokens kept in the same database
	// If user not found must return apperrors.ErrUserNotFound
	DeleteUser(ctx context.Context, userID uuid.UUID) error
}

// RefreshToken repository interface
// Tokens are never deleted: revocation only sets RevokedAt once
type RefreshTokenRepo interface {
	// Save new token
	Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error)

	// Return the token in any state
	// If token not exists must return apperrors.ErrRefreshTokenNotFound
	Get(ctx context.Context, token string) (models.RefreshToken, error)

	// Return not revoked token
	// Must return apperrors.ErrRefreshTokenNotFound or apperrors.ErrRefreshTokenRevoked
	// Expiration is checked by the caller
	GetActive(ctx context.Context, token string) (models.RefreshToken, error)

	// Revoke presented token and save next one as a single atomic step
	// Presented token must be active, not expired at next.CreatedAt and owned by next.UserID,
	// otherwise nothing is written and one of apperrors.ErrRefreshToken* errors returned.
	// Of concurrent calls with the same presented token at most one succeeds
	Rotate(ctx context.Context, presented string, next models.RefreshToken) error

	// Mark token revoked
	// Idempotent: revoked or unknown tokens are not an error
	Revoke(ctx context.Context, token string) error

	// Revoke every active token of the user and return how many were revoked
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error)
}

// Storage provides access to all repositories
type Storage interface {
	User() UserRepo
	Refresh() RefreshTokenRepo
}

type storage struct {
	users   UserRepo
	refresh RefreshTokenRepo
}

// Compose storage from separate repositories
// Used when refresh tokens live outside of the users database
func Compose(users UserRepo, refresh RefreshTokenRepo) Storage {
	return &storage{users: users, refresh: refresh}
}

func (s *storage) User() UserRepo { return s.users }
func (s *storage) Refresh() RefreshTokenRepo { return s.refresh }
