package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/authapi/internal/apperrors"
	"github.com/nkiryanov/authapi/internal/handlers/render"
	"github.com/nkiryanov/authapi/internal/handlers/userctx"
	"github.com/nkiryanov/authapi/internal/logger"
	"github.com/nkiryanov/authapi/internal/models"
	"github.com/nkiryanov/authapi/internal/service/admin"
)

type adminUserResponse struct {
	ID          uuid.UUID  `json:"id"`
	Email       string     `json:"email"`
	Role        string     `json:"role"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastLoginAt *time.Time `json:"lastLoginAt"`
}

func toAdminUsers(users []models.User) []adminUserResponse {
	resp := make([]adminUserResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, adminUserResponse{
			ID:          u.ID,
			Email:       u.Email,
			Role:        string(u.Role),
			CreatedAt:   u.CreatedAt,
			LastLoginAt: u.LastLoginAt,
		})
	}
	return resp
}

func renderAdminError(w http.ResponseWriter, err error, logger logger.Logger) {
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		render.ServiceError(w, "User not found", http.StatusNotFound)
	case errors.Is(err, apperrors.ErrUserAlreadyExists):
		render.ServiceError(w, "Email is already taken", http.StatusConflict)
	case errors.Is(err, apperrors.ErrInvalidFormat):
		render.ServiceError(w, err.Error(), http.StatusBadRequest)
	default:
		logger.Error("admin failure", "error", err.Error())
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
	}
}

func handleListUsers(adminService adminService, logger logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		users, err := adminService.ListUsers(r.Context())
		if err != nil {
			renderAdminError(w, err, logger)
			return
		}

		render.JSON(w, toAdminUsers(users))
	})
}

// Path segment is either user id or role name
func handleGetUserOrRole(adminService adminService, logger logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		segment := r.PathValue("key")

		userID, err := uuid.Parse(segment)
		if err != nil {
			users, err := adminService.ListUsersByRole(r.Context(), models.Role(segment))
			if err != nil {
				renderAdminError(w, err, logger)
				return
			}
			render.JSON(w, toAdminUsers(users))
			return
		}

		u, err := adminService.GetUser(r.Context(), userID)
		if err != nil {
			renderAdminError(w, err, logger)
			return
		}
		render.JSON(w, toAdminUsers([]models.User{u})[0])
	})
}

func handleCreateUser(adminService adminService, logger logger.Logger) http.Handler {
	type request struct {
		Email    string `json:"email" validate:"required,email,max=254"`
		Username string `json:"username" validate:"max=100"`
		Password string `json:"password" validate:"required,min=8"`
		Role     string `json:"role"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		u, err := adminService.CreateUser(r.Context(), admin.CreateUserParams{
			Email:    data.Email,
			Username: data.Username,
			Password: data.Password,
			Role:     models.Role(data.Role),
		})
		if err != nil {
			renderAdminError(w, err, logger)
			return
		}

		w.Header().Set("Location", "/admin/users/"+u.ID.String())
		render.JSONWithStatus(w, toAdminUsers([]models.User{u})[0], http.StatusCreated)
	})
}

func handleUpdateUser(adminService adminService, logger logger.Logger) http.Handler {
	type request struct {
		Email *string `json:"email" validate:"omitempty,email,max=254"`
		Role  *string `json:"role"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			render.ServiceError(w, "Invalid user id", http.StatusBadRequest)
			return
		}

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		params := admin.UpdateUserParams{Email: data.Email}
		if data.Role != nil && *data.Role != "" {
			role := models.Role(*data.Role)
			params.Role = &role
		}

		u, err := adminService.UpdateUser(r.Context(), userID, params)
		if err != nil {
			renderAdminError(w, err, logger)
			return
		}

		render.JSON(w, toAdminUsers([]models.User{u})[0])
	})
}

func handleDeleteUser(adminService adminService, logger logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			render.ServiceError(w, "Invalid user id", http.StatusBadRequest)
			return
		}

		if err := adminService.DeleteUser(r.Context(), userID); err != nil {
			renderAdminError(w, err, logger)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}

func handleStats(adminService adminService, logger logger.Logger) http.Handler {
	type response struct {
		TotalUsers   int                 `json:"totalUsers"`
		AdminUsers   int                 `json:"adminUsers"`
		RegularUsers int                 `json:"regularUsers"`
		RecentUsers  []adminUserResponse `json:"recentUsers"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stats, err := adminService.Stats(r.Context())
		if err != nil {
			renderAdminError(w, err, logger)
			return
		}

		render.JSON(w, response{
			TotalUsers:   stats.TotalUsers,
			AdminUsers:   stats.AdminUsers,
			RegularUsers: stats.RegularUsers,
			RecentUsers:  toAdminUsers(stats.RecentUsers),
		})
	})
}

func handleRevokeUserTokens(authService authService, logger logger.Logger) http.Handler {
	type response struct {
		Revoked int64 `json:"revoked"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			render.ServiceError(w, "Invalid user id", http.StatusBadRequest)
			return
		}

		count, err := authService.RevokeAllForUser(r.Context(), userID)
		if err != nil {
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		claims, _ := userctx.FromContext(r.Context())
		logger.Info("admin revoked user tokens", "admin_id", claims.UserID, "user_id", userID, "revoked", count)
		render.JSON(w, response{Revoked: count})
	})
}
