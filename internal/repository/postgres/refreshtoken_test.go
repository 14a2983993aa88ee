package postgres

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/authapi/internal/apperrors"
	"github.com/nkiryanov/authapi/internal/models"
	"github.com/nkiryanov/authapi/internal/repository"
	"github.com/nkiryanov/authapi/internal/testutil"
)

func mustParseTime(value string) time.Time {
	dt, err := time.Parse("2006-01-02 15:04:05Z07:00", value)
	if err != nil {
		panic(err)
	}
	return dt
}

func Test_RefreshTokenRepo(t *testing.T) {
	t.Parallel() // It's ok to run in parallel with other tests, but not with subtests

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	createUser := func(t *testing.T, db DBTX, email string) models.User {
		user, err := (&UserRepo{DB: db}).CreateUser(t.Context(), repository.CreateUserParams{
			Email:        email,
			PasswordHash: "hash",
			Role:         models.RoleUser,
		})
		require.NoError(t, err, "user has to be created to own tokens")
		return user
	}

	newToken := func(userID uuid.UUID, value string) models.RefreshToken {
		return models.RefreshToken{
			ID:        uuid.New(),
			UserID:    userID,
			Token:     value,
			CreatedAt: mustParseTime("2024-01-01 19:00:01Z"),
			ExpiresAt: mustParseTime("2200-01-01 03:00:02Z"),
		}
	}

	t.Run("save token ok", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}
			token := newToken(createUser(t, tx, "a@example.com").ID, "secret-token")

			got, err := repo.Save(t.Context(), token)

			require.NoError(t, err)
			require.Equal(t, token.ID, got.ID)
			require.Equal(t, token.UserID, got.UserID)
			require.Equal(t, token.Token, got.Token)
			require.WithinDuration(t, token.CreatedAt, got.CreatedAt, 0)
			require.WithinDuration(t, token.ExpiresAt, got.ExpiresAt, 0)
			require.Nil(t, got.RevokedAt, "saved token has to be active")
		})
	})

	t.Run("get token ok", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}
			token := newToken(createUser(t, tx, "a@example.com").ID, "secret-token")
			_, err := repo.Save(t.Context(), token)
			require.NoError(t, err)

			got, err := repo.Get(t.Context(), token.Token)

			require.NoError(t, err)
			require.Equal(t, token.Token, got.Token)
			require.Equal(t, token.UserID, got.UserID)
			require.Nil(t, got.RevokedAt)
		})
	})

	t.Run("get not existed token", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}

			_, err := repo.Get(t.Context(), "not-existed")

			require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
		})
	})

	t.Run("get active skips revoked", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}
			token := newToken(createUser(t, tx, "a@example.com").ID, "secret-token")
			_, err := repo.Save(t.Context(), token)
			require.NoError(t, err)
			require.NoError(t, repo.Revoke(t.Context(), token.Token))

			_, err = repo.GetActive(t.Context(), token.Token)

			require.ErrorIs(t, err, apperrors.ErrRefreshTokenRevoked)
		})
	})

	t.Run("revoke", func(t *testing.T) {
		t.Run("sets revoked at once", func(t *testing.T) {
			testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
				repo := RefreshTokenRepo{DB: tx}
				token := newToken(createUser(t, tx, "a@example.com").ID, "secret-token")
				_, err := repo.Save(t.Context(), token)
				require.NoError(t, err)

				err = repo.Revoke(t.Context(), token.Token)
				require.NoError(t, err)
				first, err := repo.Get(t.Context(), token.Token)
				require.NoError(t, err)
				require.NotNil(t, first.RevokedAt, "token has to be revoked")

				err = repo.Revoke(t.Context(), token.Token)
				require.NoError(t, err, "revoke is idempotent")
				second, err := repo.Get(t.Context(), token.Token)
				require.NoError(t, err)
				require.Equal(t, *first.RevokedAt, *second.RevokedAt, "revoked at must not be overwritten")
			})
		})

		t.Run("unknown token is noop", func(t *testing.T) {
			testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
				repo := RefreshTokenRepo{DB: tx}

				err := repo.Revoke(t.Context(), "not-existed")

				require.NoError(t, err)
			})
		})
	})

	t.Run("revoke all for user", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}
			owner := createUser(t, tx, "owner@example.com")
			other := createUser(t, tx, "other@example.com")
			for _, value := range []string{"t1", "t2", "t3"} {
				_, err := repo.Save(t.Context(), newToken(owner.ID, value))
				require.NoError(t, err)
			}
			_, err := repo.Save(t.Context(), newToken(other.ID, "foreign"))
			require.NoError(t, err)
			require.NoError(t, repo.Revoke(t.Context(), "t3"))

			count, err := repo.RevokeAllForUser(t.Context(), owner.ID)

			require.NoError(t, err)
			assert.Equal(t, int64(2), count, "already revoked tokens are not counted")
			for _, value := range []string{"t1", "t2", "t3"} {
				_, err := repo.GetActive(t.Context(), value)
				assert.ErrorIs(t, err, apperrors.ErrRefreshTokenRevoked)
			}
			_, err = repo.GetActive(t.Context(), "foreign")
			assert.NoError(t, err, "tokens of other users stay active")
		})
	})

	t.Run("rotate", func(t *testing.T) {
		t.Run("ok", func(t *testing.T) {
			testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
				repo := RefreshTokenRepo{DB: tx}
				user := createUser(t, tx, "a@example.com")
				_, err := repo.Save(t.Context(), newToken(user.ID, "old"))
				require.NoError(t, err)
				next := newToken(user.ID, "new")
				next.CreatedAt = time.Now().Truncate(time.Microsecond)

				err = repo.Rotate(t.Context(), "old", next)

				require.NoError(t, err)
				old, err := repo.Get(t.Context(), "old")
				require.NoError(t, err)
				require.NotNil(t, old.RevokedAt, "presented token has to be revoked")
				require.WithinDuration(t, next.CreatedAt, *old.RevokedAt, 0, "revoked at the moment successor is created")
				_, err = repo.GetActive(t.Context(), "new")
				require.NoError(t, err, "successor has to be active")
			})
		})

		tests := []struct {
			name        string
			prepare     func(t *testing.T, repo *RefreshTokenRepo, user models.User) models.RefreshToken
			expectedErr error
		}{
			{
				name: "not existed",
				prepare: func(t *testing.T, repo *RefreshTokenRepo, user models.User) models.RefreshToken {
					return newToken(user.ID, "new")
				},
				expectedErr: apperrors.ErrRefreshTokenNotFound,
			},
			{
				name: "revoked",
				prepare: func(t *testing.T, repo *RefreshTokenRepo, user models.User) models.RefreshToken {
					_, err := repo.Save(t.Context(), newToken(user.ID, "old"))
					require.NoError(t, err)
					require.NoError(t, repo.Revoke(t.Context(), "old"))
					return newToken(user.ID, "new")
				},
				expectedErr: apperrors.ErrRefreshTokenRevoked,
			},
			{
				name: "expired",
				prepare: func(t *testing.T, repo *RefreshTokenRepo, user models.User) models.RefreshToken {
					old := newToken(user.ID, "old")
					old.ExpiresAt = mustParseTime("2024-01-02 00:00:00Z")
					_, err := repo.Save(t.Context(), old)
					require.NoError(t, err)
					next := newToken(user.ID, "new")
					next.CreatedAt = mustParseTime("2024-01-03 00:00:00Z")
					return next
				},
				expectedErr: apperrors.ErrRefreshTokenExpired,
			},
			{
				name: "owned by another user",
				prepare: func(t *testing.T, repo *RefreshTokenRepo, user models.User) models.RefreshToken {
					_, err := repo.Save(t.Context(), newToken(user.ID, "old"))
					require.NoError(t, err)
					stranger := createUser(t, repo.DB, "stranger@example.com")
					return newToken(stranger.ID, "new")
				},
				expectedErr: apperrors.ErrRefreshTokenOwnerMismatch,
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
					repo := &RefreshTokenRepo{DB: tx}
					user := createUser(t, tx, "a@example.com")
					next := tt.prepare(t, repo, user)

					err := repo.Rotate(t.Context(), "old", next)

					require.ErrorIs(t, err, tt.expectedErr)
					_, err = repo.Get(t.Context(), "new")
					require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound, "successor must not be saved on failure")
				})
			})
		}

		t.Run("concurrent rotation has single winner", func(t *testing.T) {
			// Transactions have to be committed to compete, so use the pool itself with unique data
			repo := &RefreshTokenRepo{DB: pg.Pool}
			user := createUser(t, pg.Pool, uuid.NewString()+"@example.com")
			presented := uuid.NewString()
			_, err := repo.Save(t.Context(), newToken(user.ID, presented))
			require.NoError(t, err)

			const attempts = 8
			var wg sync.WaitGroup
			errs := make([]error, attempts)
			for i := range attempts {
				wg.Add(1)
				go func() {
					defer wg.Done()
					next := newToken(user.ID, uuid.NewString())
					next.CreatedAt = time.Now()
					errs[i] = repo.Rotate(t.Context(), presented, next)
				}()
			}
			wg.Wait()

			succeeded := 0
			for _, err := range errs {
				if err == nil {
					succeeded++
					continue
				}
				require.ErrorIs(t, err, apperrors.ErrRefreshTokenRevoked, "losers have to see revoked token")
			}
			require.Equal(t, 1, succeeded, "exactly one rotation has to win")
		})
	})
}
