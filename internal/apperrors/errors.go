package apperrors

import (
	"errors"
	"fmt"
)

// Error kinds
// Every error returned by the auth service wraps exactly one of them, so callers may branch with errors.Is
var (
	ErrConflict        = errors.New("conflict")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrMisconfigured   = errors.New("misconfigured")
	ErrInvalidFormat   = errors.New("invalid format")
	ErrUnexpected      = errors.New("unexpected error")
)

var (
	ErrUserAlreadyExists = fmt.Errorf("%w: user already exists", ErrConflict)

	ErrInvalidCredentials   = fmt.Errorf("%w: invalid credentials", ErrUnauthenticated)
	ErrInvalidAccessToken   = fmt.Errorf("%w: invalid access token", ErrUnauthenticated)
	ErrInvalidRefreshToken  = fmt.Errorf("%w: invalid refresh token", ErrUnauthenticated)
	ErrRefreshTokenRejected = fmt.Errorf("%w: refresh token expired or revoked", ErrUnauthenticated)
	ErrInvalidAssertion     = fmt.Errorf("%w: invalid identity token", ErrUnauthenticated)
	ErrUnverifiedEmail      = fmt.Errorf("%w: email is not verified", ErrUnauthenticated)

	ErrFederationNotConfigured = fmt.Errorf("%w: federated login is not configured", ErrMisconfigured)

	ErrMalformedRefreshToken = fmt.Errorf("%w: malformed refresh token", ErrInvalidFormat)
	ErrInvalidRole           = fmt.Errorf("%w: unknown role", ErrInvalidFormat)
)

// Storage level errors
// They never leave the auth service as is
var (
	ErrUserNotFound = errors.New("user not found")

	ErrRefreshTokenNotFound      = errors.New("refresh token not found")
	ErrRefreshTokenRevoked       = errors.New("refresh token is revoked")
	ErrRefreshTokenExpired       = errors.New("refresh token is expired")
	ErrRefreshTokenOwnerMismatch = errors.New("refresh token belongs to another user")
)
