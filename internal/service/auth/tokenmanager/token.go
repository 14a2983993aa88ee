package tokenmanager

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nkiryanov/authapi/internal/models"
)

const (
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultRefreshTokenTTL = 7 * 24 * time.Hour
	defaultSigningMethod   = "HS256"
	defaultIssuer          = "authapi"
	defaultAudience        = "authapi.clients"

	// Refresh token is random bytes of this length encoded with standard base64
	RefreshTokenBytes = 64

	// Role claim key understood by .NET based clients
	RoleClaimURI = "http://schemas.microsoft.com/ws/2008/06/identity/claims/role"
)

// Access token payload
// Role is written twice: under RoleClaimURI and the short "role" key
type AccessTokenClaims struct {
	jwt.RegisteredClaims
	Email   string      `json:"email"`
	Role    models.Role `json:"role"`
	RoleURI models.Role `json:"http://schemas.microsoft.com/ws/2008/06/identity/claims/role"`
}

// Token manager with sensible default
type Config struct {
	// Secret key to sign access token
	// Required to be set
	SecretKey string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set than default is used
	Alg string

	// Issuer and audience stamped into and required from access tokens
	// If not set than default is used
	Issuer   string
	Audience string

	// Access and refresh token lifetimes
	// If not set than default is used
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type TokenManager struct {
	// Secret key to sign access token
	key []byte

	// JWT MAC (Message Authentication Code) algorithm
	alg jwt.SigningMethod

	issuer   string
	audience string

	// Access and refresh token lifetimes
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func New(cfg Config) (*TokenManager, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}
	alg, ok := jwt.GetSigningMethod(cfg.Alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("unsupported signing method %q, only HMAC ones allowed", cfg.Alg)
	}

	setDefaultString := func(field *string, def string) {
		if *field == "" {
			*field = def
		}
	}
	setDefaultString(&cfg.Issuer, defaultIssuer)
	setDefaultString(&cfg.Audience, defaultAudience)

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field == 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.AccessTTL, defaultAccessTokenTTL)
	setDefaultDuration(&cfg.RefreshTTL, defaultRefreshTokenTTL)

	return &TokenManager{
		key:        []byte(cfg.SecretKey),
		alg:        alg,
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
	}, nil
}

// Issue signed access token for the user
func (m *TokenManager) IssueAccess(user models.User, now time.Time) (models.IssuedToken, error) {
	expiresAt := now.Add(m.accessTTL)

	token := jwt.NewWithClaims(
		m.alg,
		AccessTokenClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   user.ID.String(),
				ID:        uuid.NewString(),
				Issuer:    m.issuer,
				Audience:  jwt.ClaimStrings{m.audience},
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(expiresAt),
			},
			Email:   user.Email,
			Role:    user.Role,
			RoleURI: user.Role,
		},
	)

	signed, err := token.SignedString(m.key)
	if err != nil {
		return models.IssuedToken{}, fmt.Errorf("error while signing access token. Err: %w", err)
	}

	return models.IssuedToken{Value: signed, ExpiresAt: expiresAt}, nil
}

// Issue random refresh token
// It is not persisted here: it is up to caller to save or rotate it
func (m *TokenManager) IssueRefresh(userID uuid.UUID, now time.Time) (models.RefreshToken, error) {
	b := make([]byte, RefreshTokenBytes)
	_, err := rand.Read(b)
	if err != nil {
		return models.RefreshToken{}, fmt.Errorf("error while generate refresh token. Err: %w", err)
	}

	return models.RefreshToken{
		ID:        uuid.New(),
		UserID:    userID,
		Token:     base64.StdEncoding.EncodeToString(b),
		CreatedAt: now,
		ExpiresAt: now.Add(m.refreshTTL),
	}, nil
}

// Generate access and refresh tokens issued at the same moment
func (m *TokenManager) GeneratePair(user models.User) (models.TokenPair, models.RefreshToken, error) {
	now := time.Now().Truncate(time.Second)

	access, err := m.IssueAccess(user, now)
	if err != nil {
		return models.TokenPair{}, models.RefreshToken{}, err
	}

	refresh, err := m.IssueRefresh(user.ID, now)
	if err != nil {
		return models.TokenPair{}, models.RefreshToken{}, err
	}

	return models.TokenPair{
		Access:  access,
		Refresh: models.IssuedToken{Value: refresh.Token, ExpiresAt: refresh.ExpiresAt},
		Role:    user.Role,
	}, refresh, nil
}

// Parse and validate access token
// Signature, issuer and audience are always checked. Expiration is checked (without any leeway) only if enforceExpiry is set.
// Any failure results in ok=false
func (m *TokenManager) ParseAccess(access string, enforceExpiry bool) (models.AccessClaims, bool) {
	claims := &AccessTokenClaims{}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{m.alg.Alg()})}
	if enforceExpiry {
		opts = append(opts,
			jwt.WithIssuer(m.issuer),
			jwt.WithAudience(m.audience),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(0),
		)
	} else {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	token, err := jwt.ParseWithClaims(access, claims, func(t *jwt.Token) (any, error) { return m.key, nil }, opts...)
	if err != nil || !token.Valid {
		return models.AccessClaims{}, false
	}

	// Claims validation is skipped entirely above, so check issuer and audience by hand
	if !enforceExpiry && !m.trusted(claims) {
		return models.AccessClaims{}, false
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return models.AccessClaims{}, false
	}

	role := claims.RoleURI
	if role == "" {
		role = claims.Role
	}

	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}

	return models.AccessClaims{
		UserID:    userID,
		Email:     claims.Email,
		TokenID:   claims.ID,
		Role:      role,
		ExpiresAt: expiresAt,
	}, true
}

func (m *TokenManager) trusted(claims *AccessTokenClaims) bool {
	if claims.Issuer != m.issuer {
		return false
	}

	for _, aud := range claims.Audience {
		if aud == m.audience {
			return true
		}
	}
	return false
}

// Report whether token looks like refresh token issued by IssueRefresh
func RefreshFormatValid(token string) bool {
	b, err := base64.StdEncoding.DecodeString(token)
	return err == nil && len(b) == RefreshTokenBytes
}
