package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/marque-dev/marque/internal/httpserver/deps"
)

type readyzResponse struct {
	Ready bool   `json:"ready"`
	Redis string `json:"redis"`
}

// Readyz reports readiness: the process serves traffic only when
// the durable store answers.
func Readyz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := d.RedisClient.Ping(ctx).Err(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, readyzResponse{Ready: false, Redis: "down"})
			return
		}

		writeJSON(w, http.StatusOK, readyzResponse{Ready: true, Redis: "ok"})
	}
}
