package admin

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/nkiryanov/authapi/internal/apperrors"
	"github.com/nkiryanov/authapi/internal/models"
	"github.com/nkiryanov/authapi/internal/repository"
	"github.com/nkiryanov/authapi/internal/repository/postgres"
	"github.com/nkiryanov/authapi/internal/service/auth"
	"github.com/nkiryanov/authapi/internal/testutil"
)

func TestAdmin(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	inTx := func(t *testing.T, fn func(s *AdminService, storage repository.Storage)) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			storage := postgres.NewStorage(tx)
			fn(NewService(Config{Hasher: auth.BcryptHasher{Cost: bcrypt.MinCost}}, storage), storage)
		})
	}

	create := func(t *testing.T, s *AdminService, email string, role models.Role) models.User {
		u, err := s.CreateUser(t.Context(), CreateUserParams{Email: email, Password: "pwd", Role: role})
		require.NoError(t, err)
		return u
	}

	t.Run("CreateUser", func(t *testing.T) {
		t.Run("ok", func(t *testing.T) {
			inTx(t, func(s *AdminService, storage repository.Storage) {
				u, err := s.CreateUser(t.Context(), CreateUserParams{Email: "admin@example.com", Username: "root", Password: "pwd", Role: models.RoleAdmin})

				require.NoError(t, err)
				require.Equal(t, "admin@example.com", u.Email)
				require.Equal(t, "root", u.Username)
				require.Equal(t, models.RoleAdmin, u.Role)
				require.NoError(t, auth.BcryptHasher{}.Compare(u.PasswordHash, "pwd"), "password has to be hashed")

				stored, err := storage.User().GetUserByID(t.Context(), u.ID)
				require.NoError(t, err)
				require.Equal(t, u, stored)
			})
		})

		t.Run("default role", func(t *testing.T) {
			inTx(t, func(s *AdminService, _ repository.Storage) {
				u := create(t, s, "nk@example.com", "")

				require.Equal(t, models.RoleUser, u.Role)
			})
		})

		t.Run("unknown role fail", func(t *testing.T) {
			inTx(t, func(s *AdminService, _ repository.Storage) {
				_, err := s.CreateUser(t.Context(), CreateUserParams{Email: "nk@example.com", Password: "pwd", Role: "Root"})

				require.ErrorIs(t, err, apperrors.ErrInvalidRole)
			})
		})

		t.Run("email taken fail", func(t *testing.T) {
			inTx(t, func(s *AdminService, _ repository.Storage) {
				create(t, s, "nk@example.com", models.RoleUser)

				_, err := s.CreateUser(t.Context(), CreateUserParams{Email: "nk@example.com", Password: "pwd", Role: "Root"})

				require.ErrorIs(t, err, apperrors.ErrUserAlreadyExists, "conflict is reported before role")
			})
		})
	})

	t.Run("ListUsers", func(t *testing.T) {
		inTx(t, func(s *AdminService, _ repository.Storage) {
			u := create(t, s, "nk@example.com", models.RoleUser)
			a := create(t, s, "admin@example.com", models.RoleAdmin)

			all, err := s.ListUsers(t.Context())
			require.NoError(t, err)
			require.ElementsMatch(t, []models.User{u, a}, all)

			admins, err := s.ListUsersByRole(t.Context(), models.RoleAdmin)
			require.NoError(t, err)
			require.Equal(t, []models.User{a}, admins)
		})
	})

	t.Run("GetUser", func(t *testing.T) {
		inTx(t, func(s *AdminService, _ repository.Storage) {
			u := create(t, s, "nk@example.com", models.RoleUser)

			got, err := s.GetUser(t.Context(), u.ID)
			require.NoError(t, err)
			require.Equal(t, u, got)

			_, err = s.GetUser(t.Context(), uuid.New())
			require.ErrorIs(t, err, apperrors.ErrUserNotFound)
		})
	})

	t.Run("UpdateUser", func(t *testing.T) {
		t.Run("email and role", func(t *testing.T) {
			inTx(t, func(s *AdminService, _ repository.Storage) {
				u := create(t, s, "nk@example.com", models.RoleUser)
				email := "new@example.com"
				role := models.RoleAdmin

				got, err := s.UpdateUser(t.Context(), u.ID, UpdateUserParams{Email: &email, Role: &role})

				require.NoError(t, err)
				require.Equal(t, "new@example.com", got.Email)
				require.Equal(t, models.RoleAdmin, got.Role)
				require.Equal(t, u.PasswordHash, got.PasswordHash, "password is not touched")
			})
		})

		t.Run("email taken fail", func(t *testing.T) {
			inTx(t, func(s *AdminService, _ repository.Storage) {
				u := create(t, s, "nk@example.com", models.RoleUser)
				create(t, s, "taken@example.com", models.RoleUser)
				email := "taken@example.com"

				_, err := s.UpdateUser(t.Context(), u.ID, UpdateUserParams{Email: &email})

				require.ErrorIs(t, err, apperrors.ErrUserAlreadyExists)
			})
		})

		t.Run("unknown role fail", func(t *testing.T) {
			inTx(t, func(s *AdminService, _ repository.Storage) {
				u := create(t, s, "nk@example.com", models.RoleUser)
				role := models.Role("Root")

				_, err := s.UpdateUser(t.Context(), u.ID, UpdateUserParams{Role: &role})

				require.ErrorIs(t, err, apperrors.ErrInvalidRole)
			})
		})

		t.Run("not existed fail", func(t *testing.T) {
			inTx(t, func(s *AdminService, _ repository.Storage) {
				_, err := s.UpdateUser(t.Context(), uuid.New(), UpdateUserParams{})

				require.ErrorIs(t, err, apperrors.ErrUserNotFound)
			})
		})
	})

	t.Run("DeleteUser", func(t *testing.T) {
		t.Run("ok", func(t *testing.T) {
			inTx(t, func(s *AdminService, storage repository.Storage) {
				u := create(t, s, "nk@example.com", models.RoleUser)
				now := time.Now()
				_, err := storage.Refresh().Save(t.Context(), models.RefreshToken{
					ID: uuid.New(), UserID: u.ID, Token: "token", CreatedAt: now, ExpiresAt: now.Add(time.Hour),
				})
				require.NoError(t, err)

				err = s.DeleteUser(t.Context(), u.ID)

				require.NoError(t, err)
				_, err = s.GetUser(t.Context(), u.ID)
				require.ErrorIs(t, err, apperrors.ErrUserNotFound)
				_, err = storage.Refresh().GetActive(t.Context(), "token")
				require.Error(t, err, "refresh token can't be used anymore")
			})
		})

		t.Run("not existed fail", func(t *testing.T) {
			inTx(t, func(s *AdminService, _ repository.Storage) {
				err := s.DeleteUser(t.Context(), uuid.New())

				require.ErrorIs(t, err, apperrors.ErrUserNotFound)
			})
		})
	})

	t.Run("Stats", func(t *testing.T) {
		inTx(t, func(s *AdminService, _ repository.Storage) {
			create(t, s, "admin@example.com", models.RoleAdmin)
			for i := range 6 {
				create(t, s, fmt.Sprintf("user%d@example.com", i), models.RoleUser)
			}

			stats, err := s.Stats(t.Context())

			require.NoError(t, err)
			require.Equal(t, 7, stats.TotalUsers)
			require.Equal(t, 1, stats.AdminUsers)
			require.Equal(t, 6, stats.RegularUsers)
			require.Len(t, stats.RecentUsers, RecentUsersLimit)
		})
	})
}
