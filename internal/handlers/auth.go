package handlers

import (
	"errors"
	"net/http"

	"github.com/nkiryanov/authapi/internal/apperrors"
	"github.com/nkiryanov/authapi/internal/handlers/render"
	"github.com/nkiryanov/authapi/internal/logger"
	"github.com/nkiryanov/authapi/internal/models"
	"github.com/nkiryanov/authapi/internal/service/auth"
)

type tokenPairResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	Role         string `json:"role"`
}

func renderPair(w http.ResponseWriter, pair models.TokenPair) {
	render.JSON(w, tokenPairResponse{
		AccessToken:  pair.Access.Value,
		RefreshToken: pair.Refresh.Value,
		Role:         string(pair.Role),
	})
}

func handleRegister(authService authService, logger logger.Logger) http.Handler {
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

		pair, err := authService.Register(r.Context(), auth.RegisterParams{
			Email:    data.Email,
			Username: data.Username,
			Password: data.Password,
			Role:     models.Role(data.Role),
		})
		if err != nil {
			renderAuthError(w, err, "Registration failed", logger)
			return
		}

		logger.Info("user registered", "role", pair.Role)
		renderPair(w, pair)
	})
}

func handleLogin(authService authService, logger logger.Logger) http.Handler {
	type request struct {
		Email    string `json:"email" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		pair, err := authService.Login(r.Context(), data.Email, data.Password)
		if err != nil {
			renderAuthError(w, err, "Invalid credentials", logger)
			return
		}

		renderPair(w, pair)
	})
}

func handleRefresh(authService authService, logger logger.Logger) http.Handler {
	type request struct {
		AccessToken  string `json:"accessToken" validate:"required"`
		RefreshToken string `json:"refreshToken" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		pair, err := authService.RefreshPair(r.Context(), data.AccessToken, data.RefreshToken)
		if err != nil {
			message := "Invalid token"
			if errors.Is(err, apperrors.ErrRefreshTokenRejected) {
				message = "Refresh token expired or revoked"
			}
			renderAuthError(w, err, message, logger)
			return
		}

		renderPair(w, pair)
	})
}

func handleGoogleLogin(authService authService, logger logger.Logger) http.Handler {
	type request struct {
		IDToken string `json:"idToken" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		pair, err := authService.FederatedLogin(r.Context(), data.IDToken)
		if err != nil {
			message := "Invalid Google token"
			if errors.Is(err, apperrors.ErrUnverifiedEmail) {
				message = "Unverified Google email"
			}
			renderAuthError(w, err, message, logger)
			return
		}

		renderPair(w, pair)
	})
}

func handleLogout(authService authService, logger logger.Logger) http.Handler {
	type request struct {
		RefreshToken string `json:"refreshToken" validate:"required"`
	}
	type response struct {
		Message string `json:"message"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		err = authService.Logout(r.Context(), data.RefreshToken)
		if err != nil {
			renderAuthError(w, err, "Unauthorized", logger)
			return
		}

		render.JSON(w, response{Message: "Logged out successfully"})
	})
}
