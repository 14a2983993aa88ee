package handlers

import (
	"net/http"
	"time"

	"github.com/nkiryanov/authapi/internal/handlers/render"
)

func handleHealth() http.Handler {
	type response struct {
		Status    string    `json:"status"`
		Timestamp time.Time `json:"timestamp"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, response{Status: "Healthy", Timestamp: time.Now().UTC()})
	})
}
