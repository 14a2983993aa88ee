package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/authapi/internal/apperrors"
	"github.com/nkiryanov/authapi/internal/models"
)

type RefreshTokenRepo struct {
	DB DBTX
}

const refreshColumns = `id, user_id, token, created_at, expires_at, revoked_at`

const saveToken = `-- name: SaveRefreshToken
INSERT INTO refresh_tokens (id, user_id, token, created_at, expires_at, revoked_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + refreshColumns

func (r *RefreshTokenRepo) Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error) {
	return saveRefreshToken(ctx, r.DB, token)
}

const getToken = `-- name: GetRefreshToken
SELECT ` + refreshColumns + `
FROM refresh_tokens
WHERE token = $1
`

// Get token
// It returns result even if token expired or revoked already
func (r *RefreshTokenRepo) Get(ctx context.Context, token string) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, getToken, token)
	t, err := pgx.CollectOneRow(rows, rowToRefreshToken)

	switch {
	case err == nil:
		return t, nil
	case errors.Is(err, pgx.ErrNoRows):
		return t, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	default:
		return t, fmt.Errorf("db error: %w", err)
	}
}

func (r *RefreshTokenRepo) GetActive(ctx context.Context, token string) (models.RefreshToken, error) {
	t, err := r.Get(ctx, token)
	if err != nil {
		return t, err
	}

	if t.RevokedAt != nil {
		return t, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenRevoked)
	}

	return t, nil
}

const revokeActiveToken = `-- name: RevokeActiveRefreshToken
UPDATE refresh_tokens
SET revoked_at = $3
WHERE token = $1 AND user_id = $2 AND revoked_at IS NULL AND expires_at > $3
`

// Rotate revokes presented token and saves the next one in the same transaction.
// Row lock taken by UPDATE makes concurrent rotations of the same token wait for each other:
// the late one sees revoked_at set and updates nothing.
func (r *RefreshTokenRepo) Rotate(ctx context.Context, presented string, next models.RefreshToken) error {
	return pgx.BeginFunc(ctx, r.DB, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, revokeActiveToken, presented, next.UserID, next.CreatedAt)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}

		if tag.RowsAffected() == 0 {
			return rejectionReason(ctx, tx, presented, next)
		}

		_, err = saveRefreshToken(ctx, tx, next)
		return err
	})
}

const revokeToken = `-- name: RevokeRefreshToken
UPDATE refresh_tokens
SET revoked_at = $2
WHERE token = $1 AND revoked_at IS NULL
`

func (r *RefreshTokenRepo) Revoke(ctx context.Context, token string) error {
	_, err := r.DB.Exec(ctx, revokeToken, token, time.Now())
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const revokeUserTokens = `-- name: RevokeAllUserRefreshTokens
UPDATE refresh_tokens
SET revoked_at = $2
WHERE user_id = $1 AND revoked_at IS NULL
`

func (r *RefreshTokenRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := r.DB.Exec(ctx, revokeUserTokens, userID, time.Now())
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

func saveRefreshToken(ctx context.Context, db DBTX, token models.RefreshToken) (models.RefreshToken, error) {
	rows, _ := db.Query(ctx, saveToken, token.ID, token.UserID, token.Token, token.CreatedAt, token.ExpiresAt, token.RevokedAt)
	saved, err := pgx.CollectOneRow(rows, rowToRefreshToken)
	if err != nil {
		return saved, fmt.Errorf("db error: %w", err)
	}
	return saved, nil
}

// Explain why compare-and-swap updated nothing
func rejectionReason(ctx context.Context, db DBTX, presented string, next models.RefreshToken) error {
	current, err := (&RefreshTokenRepo{DB: db}).Get(ctx, presented)

	switch {
	case err != nil:
		return err
	case current.UserID != next.UserID:
		return fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenOwnerMismatch)
	case current.RevokedAt != nil:
		return fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenRevoked)
	default:
		return fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenExpired)
	}
}

func rowToRefreshToken(row pgx.CollectableRow) (models.RefreshToken, error) {
	var t models.RefreshToken
	err := row.Scan(&t.ID, &t.UserID, &t.Token, &t.CreatedAt, &t.ExpiresAt, &t.RevokedAt)
	return t, err
}
