// Package redisstore keeps refresh tokens in Redis.
//
// Every token is a hash under "<prefix>token:<value>" and every user has a set of
// own token values under "<prefix>user:<id>". Writes that have to be atomic run as
// Lua scripts, so no other command can interleave with them.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nkiryanov/authapi/internal/apperrors"
	"github.com/nkiryanov/authapi/internal/models"
)

const DefaultPrefix = "authapi:rt:"

var ErrDuplicateToken = errors.New("refresh token already exists")

const (
	statusNotFound      int64 = 0
	statusRevoked       int64 = 1
	statusExpired       int64 = 2
	statusOwnerMismatch int64 = 3
	statusDone          int64 = 4
	statusDuplicate     int64 = 5
)

// KEYS: token, user set
// ARGV: id, user id, token value, created ms, expires ms, revoked ms or ""
const saveScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 5
end
redis.call("HSET", KEYS[1], "id", ARGV[1], "user_id", ARGV[2], "created_at", ARGV[4], "expires_at", ARGV[5])
if ARGV[6] ~= "" then
  redis.call("HSET", KEYS[1], "revoked_at", ARGV[6])
end
redis.call("SADD", KEYS[2], ARGV[3])
return 4
`

var saveLua = redis.NewScript(saveScript)

// KEYS: presented token, next token, user set
// ARGV: user id, now ms, next id, next expires ms, next token value
const rotateScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
local current = redis.call("HMGET", KEYS[1], "user_id", "expires_at", "revoked_at")
if current[1] ~= ARGV[1] then
  return 3
end
if current[3] then
  return 1
end
if tonumber(current[2]) <= tonumber(ARGV[2]) then
  return 2
end
if redis.call("EXISTS", KEYS[2]) == 1 then
  return 5
end
redis.call("HSET", KEYS[1], "revoked_at", ARGV[2])
redis.call("HSET", KEYS[2], "id", ARGV[3], "user_id", ARGV[1], "created_at", ARGV[2], "expires_at", ARGV[4])
redis.call("SADD", KEYS[3], ARGV[5])
return 4
`

var rotateLua = redis.NewScript(rotateScript)

// KEYS: token
// ARGV: now ms
const revokeScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
return redis.call("HSETNX", KEYS[1], "revoked_at", ARGV[1])
`

var revokeLua = redis.NewScript(revokeScript)

// KEYS: user set
// ARGV: now ms, token key prefix
// Token keys are derived inside the script, so it is not cluster safe
const revokeAllScript = `
local revoked = 0
for _, token in ipairs(redis.call("SMEMBERS", KEYS[1])) do
  revoked = revoked + redis.call("HSETNX", ARGV[2] .. token, "revoked_at", ARGV[1])
end
return revoked
`

var revokeAllLua = redis.NewScript(revokeAllScript)

type RefreshTokenRepo struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRefreshTokenRepo(client redis.UniversalClient, prefix string) *RefreshTokenRepo {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RefreshTokenRepo{redis: client, prefix: prefix}
}

func (r *RefreshTokenRepo) tokenPrefix() string {
	return r.prefix + "token:"
}

func (r *RefreshTokenRepo) tokenKey(token string) string {
	return r.tokenPrefix() + token
}

func (r *RefreshTokenRepo) userKey(userID uuid.UUID) string {
	return r.prefix + "user:" + userID.String()
}

func (r *RefreshTokenRepo) Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error) {
	revokedAt := ""
	if token.RevokedAt != nil {
		revokedAt = strconv.FormatInt(token.RevokedAt.UnixMilli(), 10)
	}

	code, err := saveLua.Run(
		ctx,
		r.redis,
		[]string{r.tokenKey(token.Token), r.userKey(token.UserID)},
		token.ID.String(),
		token.UserID.String(),
		token.Token,
		token.CreatedAt.UnixMilli(),
		token.ExpiresAt.UnixMilli(),
		revokedAt,
	).Int64()
	if err != nil {
		return token, fmt.Errorf("redis error: %w", err)
	}

	if code == statusDuplicate {
		return token, fmt.Errorf("repo error: %w", ErrDuplicateToken)
	}

	return r.Get(ctx, token.Token)
}

// Get token
// It returns result even if token expired or revoked already
func (r *RefreshTokenRepo) Get(ctx context.Context, token string) (models.RefreshToken, error) {
	fields, err := r.redis.HGetAll(ctx, r.tokenKey(token)).Result()
	if err != nil {
		return models.RefreshToken{}, fmt.Errorf("redis error: %w", err)
	}

	if len(fields) == 0 {
		return models.RefreshToken{}, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	}

	return decodeToken(token, fields)
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

func (r *RefreshTokenRepo) Rotate(ctx context.Context, presented string, next models.RefreshToken) error {
	code, err := rotateLua.Run(
		ctx,
		r.redis,
		[]string{r.tokenKey(presented), r.tokenKey(next.Token), r.userKey(next.UserID)},
		next.UserID.String(),
		next.CreatedAt.UnixMilli(),
		next.ID.String(),
		next.ExpiresAt.UnixMilli(),
		next.Token,
	).Int64()
	if err != nil {
		return fmt.Errorf("redis error: %w", err)
	}

	switch code {
	case statusDone:
		return nil
	case statusNotFound:
		return fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	case statusRevoked:
		return fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenRevoked)
	case statusExpired:
		return fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenExpired)
	case statusOwnerMismatch:
		return fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenOwnerMismatch)
	case statusDuplicate:
		return fmt.Errorf("repo error: %w", ErrDuplicateToken)
	default:
		return fmt.Errorf("redis error: unknown rotate status %d", code)
	}
}

func (r *RefreshTokenRepo) Revoke(ctx context.Context, token string) error {
	err := revokeLua.Run(ctx, r.redis, []string{r.tokenKey(token)}, time.Now().UnixMilli()).Err()
	if err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}

func (r *RefreshTokenRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	count, err := revokeAllLua.Run(
		ctx,
		r.redis,
		[]string{r.userKey(userID)},
		time.Now().UnixMilli(),
		r.tokenPrefix(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis error: %w", err)
	}
	return count, nil
}

func decodeToken(token string, fields map[string]string) (models.RefreshToken, error) {
	t := models.RefreshToken{Token: token}

	id, err := uuid.Parse(fields["id"])
	if err != nil {
		return t, fmt.Errorf("corrupted token id: %w", err)
	}
	userID, err := uuid.Parse(fields["user_id"])
	if err != nil {
		return t, fmt.Errorf("corrupted token owner: %w", err)
	}
	createdAt, err := parseMillis(fields["created_at"])
	if err != nil {
		return t, fmt.Errorf("corrupted token created at: %w", err)
	}
	expiresAt, err := parseMillis(fields["expires_at"])
	if err != nil {
		return t, fmt.Errorf("corrupted token expires at: %w", err)
	}

	t.ID, t.UserID, t.CreatedAt, t.ExpiresAt = id, userID, createdAt, expiresAt

	if value, ok := fields["revoked_at"]; ok {
		revokedAt, err := parseMillis(value)
		if err != nil {
			return t, fmt.Errorf("corrupted token revoked at: %w", err)
		}
		t.RevokedAt = &revokedAt
	}

	return t, nil
}

func parseMillis(value string) (time.Time, error) {
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}
