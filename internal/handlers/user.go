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
	"github.com/nkiryanov/authapi/internal/service/user"
)

// Identity of the caller as it is written in the access token
func handleUserInfo() http.Handler {
	type response struct {
		UserID uuid.UUID `json:"userId"`
		Email  string    `json:"email"`
		Role   string    `json:"role"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, _ := userctx.FromContext(r.Context())
		render.JSON(w, response{UserID: claims.UserID, Email: claims.Email, Role: string(claims.Role)})
	})
}

type profileResponse struct {
	ID          uuid.UUID  `json:"id"`
	Email       string     `json:"email"`
	Username    string     `json:"username"`
	Role        string     `json:"role"`
	Phone       string     `json:"phone"`
	Address     string     `json:"address"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastLoginAt *time.Time `json:"lastLoginAt"`
}

func renderProfile(w http.ResponseWriter, u models.User) {
	render.JSON(w, profileResponse{
		ID:          u.ID,
		Email:       u.Email,
		Username:    u.Username,
		Role:        string(u.Role),
		Phone:       u.Phone,
		Address:     u.Address,
		CreatedAt:   u.CreatedAt,
		LastLoginAt: u.LastLoginAt,
	})
}

func renderProfileError(w http.ResponseWriter, err error, logger logger.Logger) {
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		render.ServiceError(w, "User not found", http.StatusNotFound)
		return
	case errors.Is(err, apperrors.ErrUserAlreadyExists):
		render.ServiceError(w, "Email is already taken", http.StatusConflict)
		return
	}
	logger.Error("profile failure", "error", err.Error())
	render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
}

func handleGetProfile(userService userService, logger logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, _ := userctx.FromContext(r.Context())

		u, err := userService.GetProfile(r.Context(), claims.UserID)
		if err != nil {
			renderProfileError(w, err, logger)
			return
		}

		renderProfile(w, u)
	})
}

func handleUpdateProfile(userService userService, logger logger.Logger) http.Handler {
	type request struct {
		Email    *string `json:"email" validate:"omitempty,email,max=254"`
		Username *string `json:"username" validate:"omitempty,max=100"`
		Phone    *string `json:"phone" validate:"omitempty,max=50"`
		Address  *string `json:"address" validate:"omitempty,max=500"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, _ := userctx.FromContext(r.Context())

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		u, err := userService.UpdateProfile(r.Context(), claims.UserID, user.UpdateProfileParams{
			Email:    data.Email,
			Username: data.Username,
			Phone:    data.Phone,
			Address:  data.Address,
		})
		if err != nil {
			renderProfileError(w, err, logger)
			return
		}

		renderProfile(w, u)
	})
}
