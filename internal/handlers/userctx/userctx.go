package userctx

import (
	"context"

	"github.com/nkiryanov/authapi/internal/models"
)

type ctxKey string

const claimsKey ctxKey = "claims"

// Create a new context with claims of authenticated user
func New(ctx context.Context, c models.AccessClaims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

// Extract claims of authenticated user from the context
func FromContext(ctx context.Context) (models.AccessClaims, bool) {
	c, ok := ctx.Value(claimsKey).(models.AccessClaims)
	return c, ok
}
