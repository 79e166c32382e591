package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/marque-dev/marque/internal/httpserver/deps"
)

type signInRequest struct {
	Token string `json:"token"`
}

// SignIn resolves the session token and makes its subject the
// active user. The engine reacts to the identity change by loading
// that user's bookmarks and opening the feed.
func SignIn(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req signInRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if err := d.Gate.SignIn(req.Token); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid session token")
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// SignOut ends the session and clears the canonical collection.
func SignOut(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d.Engine.SignOut()
		w.WriteHeader(http.StatusNoContent)
	}
}
