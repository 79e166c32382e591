package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/marque-dev/marque/internal/httpserver/deps"
	"github.com/marque-dev/marque/internal/httpserver/handlers"
)

func init() { Register(registerSession) }

func registerSession(r chi.Router, d deps.Deps) {
	r.Post("/api/session", handlers.SignIn(d))
	r.Delete("/api/session", handlers.SignOut(d))
}
