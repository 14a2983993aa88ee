package models

import (
	"time"

	"github.com/google/uuid"
)

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// Token pair issued by TokenManager and returned by AuthService
type TokenPair struct {
	Access  IssuedToken
	Refresh IssuedToken
	Role    Role
}

// Claims decoded from a valid access token
type AccessClaims struct {
	UserID    uuid.UUID
	Email     string
	TokenID   string
	Role      Role
	ExpiresAt time.Time
}
