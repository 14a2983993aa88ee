package handlers

import (
	"errors"
	"net/http"

	"github.com/nkiryanov/authapi/internal/apperrors"
	"github.com/nkiryanov/authapi/internal/handlers/render"
	"github.com/nkiryanov/authapi/internal/logger"
)

// Render auth service error by its kind
// Unauthenticated errors are rendered with fixed message, so the response never tells what exactly was wrong
func renderAuthError(w http.ResponseWriter, err error, unauthenticatedMessage string, l logger.Logger) {
	switch {
	case errors.Is(err, apperrors.ErrConflict):
		render.ServiceError(w, "User already exists", http.StatusConflict)
	case errors.Is(err, apperrors.ErrUnauthenticated):
		render.ServiceError(w, unauthenticatedMessage, http.StatusUnauthorized)
	case errors.Is(err, apperrors.ErrInvalidFormat):
		render.ServiceError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, apperrors.ErrMisconfigured):
		l.Error("service is misconfigured", "error", err.Error())
		render.ServiceError(w, err.Error(), http.StatusInternalServerError)
	default:
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
	}
}
