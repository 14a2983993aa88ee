// Package user serves profile of authenticated user.
package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nkiryanov/authapi/internal/apperrors"
	"github.com/nkiryanov/authapi/internal/models"
	"github.com/nkiryanov/authapi/internal/repository"
)

// Nil field keeps current value, as does empty email
// Role and password are not part of the profile
type UpdateProfileParams struct {
	Email    *string
	Username *string
	Phone    *string
	Address  *string
}

type UserService struct {
	storage repository.Storage
}

func NewService(storage repository.Storage) *UserService {
	return &UserService{storage: storage}
}

// Return user by id
// apperrors.ErrUserNotFound if user has gone
func (s *UserService) GetProfile(ctx context.Context, userID uuid.UUID) (models.User, error) {
	user, err := s.storage.User().GetUserByID(ctx, userID)
	if err != nil {
		return user, fmt.Errorf("can't get user. Err: %w", err)
	}
	return user, nil
}

// Update profile fields
// apperrors.ErrUserAlreadyExists if the new email belongs to another user
func (s *UserService) UpdateProfile(ctx context.Context, userID uuid.UUID, params UpdateProfileParams) (models.User, error) {
	user, err := s.GetProfile(ctx, userID)
	if err != nil {
		return user, err
	}

	if params.Email != nil && *params.Email != "" && *params.Email != user.Email {
		if err := EnsureEmailFree(ctx, s.storage.User(), *params.Email); err != nil {
			return user, err
		}
		user.Email = *params.Email
	}
	if params.Username != nil {
		user.Username = *params.Username
	}
	if params.Phone != nil {
		user.Phone = *params.Phone
	}
	if params.Address != nil {
		user.Address = *params.Address
	}

	user, err = s.storage.User().UpdateUser(ctx, user)
	if err != nil {
		return user, fmt.Errorf("can't update user. Err: %w", err)
	}

	return user, nil
}

// Return apperrors.ErrUserAlreadyExists if someone uses the email already
// Checked before update, so a taken email does not abort surrounding transaction
func EnsureEmailFree(ctx context.Context, users repository.UserRepo, email string) error {
	_, err := users.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		return apperrors.ErrUserAlreadyExists
	case errors.Is(err, apperrors.ErrUserNotFound):
		return nil
	default:
		return fmt.Errorf("can't get user by email. Err: %w", err)
	}
}
