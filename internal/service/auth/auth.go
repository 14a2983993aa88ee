package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/authapi/internal/apperrors"
	"github.com/nkiryanov/authapi/internal/logger"
	"github.com/nkiryanov/authapi/internal/models"
	"github.com/nkiryanov/authapi/internal/repository"
	"github.com/nkiryanov/authapi/internal/service/auth/federated"
	"github.com/nkiryanov/authapi/internal/service/auth/tokenmanager"
)

// Interface to create or compare user password hashes
type PasswordHasher interface {
	// Generate Hash from password
	Hash(password string) (string, error)

	// Compare known hashedPassword and user provided password
	// Must be protected against timing attacks
	Compare(hashedPassword string, password string) error
}

type TokenManager interface {
	// Issue access and refresh tokens. Refresh token is returned separately to be persisted
	GeneratePair(user models.User) (models.TokenPair, models.RefreshToken, error)

	// Validate access token; expiration is checked only if enforceExpiry is set
	ParseAccess(access string, enforceExpiry bool) (models.AccessClaims, bool)
}

type FederatedVerifier interface {
	Configured() bool
	Verify(ctx context.Context, assertion string) (federated.Identity, bool)
}

type Config struct {
	// Hasher to use during user registration or login process
	// BcryptHasher if not set
	Hasher PasswordHasher

	// Verifier of identity provider tokens
	// Federated login is rejected as misconfigured if not set
	Federated FederatedVerifier

	// Logger for unexpected failures
	// NoOp logger if not set
	Logger logger.Logger

	// Role of registered users if they did not ask for another one
	// models.RoleUser if not set
	DefaultRole models.Role

	// Roles user may ask for on registration
	// models.DefaultRoles if not set
	AllowedRoles []models.Role
}

type RegisterParams struct {
	Email    string
	Username string
	Password string
	Role     models.Role // DefaultRole if empty
}

// Auth service
type AuthService struct {
	// Manager to issue and validate token pairs (access and refresh)
	tokens TokenManager

	// hasher to hash or compare user passwords
	hasher PasswordHasher

	federated FederatedVerifier
	logger    logger.Logger

	defaultRole  models.Role
	allowedRoles []models.Role

	// Compared against when user is not found, so login time does not depend on user existence
	dummyHash string

	// Repositories to access long term data
	storage repository.Storage

	now func() time.Time
}

func NewService(cfg Config, tokenManager TokenManager, storage repository.Storage) (*AuthService, error) {
	if tokenManager == nil || storage == nil {
		return nil, errors.New("token manager and storage must not be nil")
	}

	if cfg.Hasher == nil {
		cfg.Hasher = BcryptHasher{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoOpLogger()
	}
	if cfg.DefaultRole == "" {
		cfg.DefaultRole = models.RoleUser
	}
	if len(cfg.AllowedRoles) == 0 {
		cfg.AllowedRoles = models.DefaultRoles
	}
	if !slices.Contains(cfg.AllowedRoles, cfg.DefaultRole) {
		return nil, fmt.Errorf("default role %q is not allowed", cfg.DefaultRole)
	}

	dummyHash, err := cfg.Hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("error while preparing dummy hash. Err: %w", err)
	}

	return &AuthService{
		tokens:       tokenManager,
		hasher:       cfg.Hasher,
		federated:    cfg.Federated,
		logger:       cfg.Logger,
		defaultRole:  cfg.DefaultRole,
		allowedRoles: slices.Clone(cfg.AllowedRoles),
		dummyHash:    dummyHash,
		storage:      storage,
		now:          time.Now,
	}, nil
}

// Register user with password and return first token pair
func (s *AuthService) Register(ctx context.Context, params RegisterParams) (models.TokenPair, error) {
	// Taken email is reported before anything else is checked
	_, err := s.storage.User().GetUserByEmail(ctx, params.Email)
	switch {
	case err == nil:
		return models.TokenPair{}, apperrors.ErrUserAlreadyExists
	case errors.Is(err, apperrors.ErrUserNotFound):
	default:
		return models.TokenPair{}, s.unexpected("get user by email", err)
	}

	role := params.Role
	if role == "" {
		role = s.defaultRole
	}
	if !slices.Contains(s.allowedRoles, role) {
		return models.TokenPair{}, apperrors.ErrInvalidRole
	}

	hash, err := s.hasher.Hash(params.Password)
	if err != nil {
		return models.TokenPair{}, s.unexpected("hash password", err)
	}

	user, err := s.storage.User().CreateUser(ctx, repository.CreateUserParams{
		Email:        params.Email,
		Username:     params.Username,
		PasswordHash: hash,
		Role:         role,
	})
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrUserAlreadyExists):
		// Registered concurrently after the check above
		return models.TokenPair{}, apperrors.ErrUserAlreadyExists
	default:
		return models.TokenPair{}, s.unexpected("create user", err)
	}

	return s.issue(ctx, user)
}

// Login user with email and password
// Unknown email and wrong password are indistinguishable: both return apperrors.ErrInvalidCredentials
func (s *AuthService) Login(ctx context.Context, email string, password string) (models.TokenPair, error) {
	user, err := s.storage.User().GetUserByEmail(ctx, email)
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrUserNotFound):
		_ = s.hasher.Compare(s.dummyHash, password)
		return models.TokenPair{}, apperrors.ErrInvalidCredentials
	default:
		return models.TokenPair{}, s.unexpected("get user by email", err)
	}

	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		return models.TokenPair{}, apperrors.ErrInvalidCredentials
	}

	loginAt := s.now()
	user.LastLoginAt = &loginAt
	user, err = s.storage.User().UpdateUser(ctx, user)
	if err != nil {
		return models.TokenPair{}, s.unexpected("update last login", err)
	}

	return s.issue(ctx, user)
}

// Exchange refresh token for new pair
// Access token has to be genuine and belong to the refresh token owner, but may be expired.
// Presented refresh token is revoked: it can not be exchanged twice, even concurrently.
func (s *AuthService) RefreshPair(ctx context.Context, access string, refresh string) (models.TokenPair, error) {
	claims, ok := s.tokens.ParseAccess(access, false)
	if !ok {
		return models.TokenPair{}, apperrors.ErrInvalidAccessToken
	}

	// Cheap rejection before any write; Rotate below is authoritative
	stored, err := s.storage.Refresh().GetActive(ctx, refresh)
	if err != nil {
		return models.TokenPair{}, s.refreshError(err)
	}
	if stored.UserID != claims.UserID {
		return models.TokenPair{}, apperrors.ErrInvalidRefreshToken
	}
	if !stored.Active(s.now()) {
		return models.TokenPair{}, apperrors.ErrRefreshTokenRejected
	}

	user, err := s.storage.User().GetUserByID(ctx, claims.UserID)
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrUserNotFound):
		return models.TokenPair{}, apperrors.ErrInvalidRefreshToken
	default:
		return models.TokenPair{}, s.unexpected("get user by id", err)
	}

	pair, next, err := s.tokens.GeneratePair(user)
	if err != nil {
		return models.TokenPair{}, s.unexpected("generate token pair", err)
	}

	err = s.storage.Refresh().Rotate(ctx, refresh, next)
	if err != nil {
		return models.TokenPair{}, s.refreshError(err)
	}

	return pair, nil
}

// Login or sign up with identity provider token
// New users are provisioned with unusable random password and default role
func (s *AuthService) FederatedLogin(ctx context.Context, idToken string) (models.TokenPair, error) {
	if s.federated == nil || !s.federated.Configured() {
		return models.TokenPair{}, apperrors.ErrFederationNotConfigured
	}

	identity, ok := s.federated.Verify(ctx, idToken)
	if !ok {
		return models.TokenPair{}, apperrors.ErrInvalidAssertion
	}
	if !identity.EmailVerified {
		return models.TokenPair{}, apperrors.ErrUnverifiedEmail
	}

	user, err := s.storage.User().GetUserByEmail(ctx, identity.Email)
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrUserNotFound):
		user, err = s.provision(ctx, identity)
		if err != nil {
			return models.TokenPair{}, err
		}
	default:
		return models.TokenPair{}, s.unexpected("get user by email", err)
	}

	return s.issue(ctx, user)
}

// Revoke refresh token
// Revoking unknown or already revoked token is not an error
func (s *AuthService) Logout(ctx context.Context, refresh string) error {
	if !tokenmanager.RefreshFormatValid(refresh) {
		return apperrors.ErrMalformedRefreshToken
	}

	if err := s.storage.Refresh().Revoke(ctx, refresh); err != nil {
		return s.unexpected("revoke refresh token", err)
	}

	return nil
}

// Revoke every active refresh token of the user and return their number
// Issued access tokens stay valid until they expire
func (s *AuthService) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	count, err := s.storage.Refresh().RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, s.unexpected("revoke user refresh tokens", err)
	}

	s.logger.Info("refresh tokens revoked", "user_id", userID, "count", count)
	return count, nil
}

// Validate access token strictly (expiration included) and return its claims
func (s *AuthService) Authenticate(_ context.Context, access string) (models.AccessClaims, error) {
	claims, ok := s.tokens.ParseAccess(access, true)
	if !ok {
		return models.AccessClaims{}, apperrors.ErrInvalidAccessToken
	}
	return claims, nil
}

func (s *AuthService) provision(ctx context.Context, identity federated.Identity) (models.User, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return models.User{}, s.unexpected("generate password for federated user", err)
	}

	hash, err := s.hasher.Hash(base64.StdEncoding.EncodeToString(secret))
	if err != nil {
		return models.User{}, s.unexpected("hash password", err)
	}

	user, err := s.storage.User().CreateUser(ctx, repository.CreateUserParams{
		Email:        identity.Email,
		PasswordHash: hash,
		Role:         s.defaultRole,
	})
	switch {
	case err == nil:
		s.logger.Info("federated user provisioned", "user_id", user.ID)
		return user, nil
	case errors.Is(err, apperrors.ErrUserAlreadyExists):
		// Provisioned by a concurrent login
		user, err = s.storage.User().GetUserByEmail(ctx, identity.Email)
		if err != nil {
			return user, s.unexpected("get user by email", err)
		}
		return user, nil
	default:
		return user, s.unexpected("create federated user", err)
	}
}

// Generate pair and persist its refresh token
func (s *AuthService) issue(ctx context.Context, user models.User) (models.TokenPair, error) {
	pair, refresh, err := s.tokens.GeneratePair(user)
	if err != nil {
		return models.TokenPair{}, s.unexpected("generate token pair", err)
	}

	_, err = s.storage.Refresh().Save(ctx, refresh)
	if err != nil {
		return models.TokenPair{}, s.unexpected("save refresh token", err)
	}

	return pair, nil
}

func (s *AuthService) refreshError(err error) error {
	switch {
	case errors.Is(err, apperrors.ErrRefreshTokenNotFound), errors.Is(err, apperrors.ErrRefreshTokenOwnerMismatch):
		return apperrors.ErrInvalidRefreshToken
	case errors.Is(err, apperrors.ErrRefreshTokenRevoked), errors.Is(err, apperrors.ErrRefreshTokenExpired):
		return apperrors.ErrRefreshTokenRejected
	default:
		return s.unexpected("refresh token store", err)
	}
}

// Log the cause and hide it from the caller
func (s *AuthService) unexpected(action string, err error) error {
	s.logger.Error("auth service failure", "action", action, "error", err.Error())
	return apperrors.ErrUnexpected
}
