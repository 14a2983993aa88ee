package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/nkiryanov/authapi/internal/handlers/middleware"
	"github.com/nkiryanov/authapi/internal/logger"
	"github.com/nkiryanov/authapi/internal/models"
	"github.com/nkiryanov/authapi/internal/service/admin"
	"github.com/nkiryanov/authapi/internal/service/auth"
	"github.com/nkiryanov/authapi/internal/service/user"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

func NewRouter(
	authService authService,
	userService userService,
	adminService adminService,
	logger logger.Logger,
	corsOrigins []string,
) http.Handler {
	withAuth := middleware.AuthMiddleware(authService)
	adminOnly := func(h http.Handler) http.Handler {
		return withAuth(middleware.RequireRole(models.RoleAdmin)(h))
	}

	mux := http.NewServeMux()

	mux.Handle("POST /auth/register", handleRegister(authService, logger))
	mux.Handle("POST /auth/login", handleLogin(authService, logger))
	mux.Handle("POST /auth/refresh", handleRefresh(authService, logger))
	mux.Handle("POST /auth/google", handleGoogleLogin(authService, logger))
	mux.Handle("POST /auth/logout", withAuth(handleLogout(authService, logger)))

	mux.Handle("GET /user/info", withAuth(handleUserInfo()))
	mux.Handle("GET /user/profile", withAuth(handleGetProfile(userService, logger)))
	mux.Handle("PUT /user/profile", withAuth(handleUpdateProfile(userService, logger)))

	mux.Handle("GET /admin/users", adminOnly(handleListUsers(adminService, logger)))
	mux.Handle("POST /admin/users", adminOnly(handleCreateUser(adminService, logger)))
	mux.Handle("GET /admin/users/{key}", adminOnly(handleGetUserOrRole(adminService, logger)))
	mux.Handle("PUT /admin/users/{id}", adminOnly(handleUpdateUser(adminService, logger)))
	mux.Handle("DELETE /admin/users/{id}", adminOnly(handleDeleteUser(adminService, logger)))
	mux.Handle("POST /admin/users/{id}/revoke-tokens", adminOnly(handleRevokeUserTokens(authService, logger)))
	mux.Handle("GET /admin/stats", adminOnly(handleStats(adminService, logger)))

	mux.Handle("GET /health", handleHealth())

	return chain(mux,
		middleware.LoggerMiddleware(logger),
		middleware.CORS(corsOrigins),
	)
}

type authService interface {
	// Register user with email and password
	// Has to return apperrors.ErrUserAlreadyExists if user already exists
	Register(ctx context.Context, params auth.RegisterParams) (models.TokenPair, error)

	// Login user with email and password
	// Has to return apperrors.ErrInvalidCredentials whatever was wrong
	Login(ctx context.Context, email string, password string) (models.TokenPair, error)

	// Exchange refresh token (and possibly expired access token) for new pair
	RefreshPair(ctx context.Context, access string, refresh string) (models.TokenPair, error)

	// Login with identity provider token
	FederatedLogin(ctx context.Context, idToken string) (models.TokenPair, error)

	// Revoke refresh token
	Logout(ctx context.Context, refresh string) error

	// Revoke all refresh tokens of the user
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error)

	// Validate access token and return its claims
	Authenticate(ctx context.Context, access string) (models.AccessClaims, error)
}

type userService interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (models.User, error)
	UpdateProfile(ctx context.Context, userID uuid.UUID, params user.UpdateProfileParams) (models.User, error)
}

type adminService interface {
	ListUsers(ctx context.Context) ([]models.User, error)
	ListUsersByRole(ctx context.Context, role models.Role) ([]models.User, error)
	GetUser(ctx context.Context, userID uuid.UUID) (models.User, error)
	CreateUser(ctx context.Context, params admin.CreateUserParams) (models.User, error)
	UpdateUser(ctx context.Context, userID uuid.UUID, params admin.UpdateUserParams) (models.User, error)
	DeleteUser(ctx context.Context, userID uuid.UUID) error
	Stats(ctx context.Context) (admin.Stats, error)
}
