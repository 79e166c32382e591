package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/marque-dev/marque/internal/httpserver/deps"
	"github.com/marque-dev/marque/internal/httpserver/handlers"
)

func init() { Register(registerFeed) }

func registerFeed(r chi.Router, d deps.Deps) {
	// Long-lived WebSocket; must stay outside any request timeout.
	r.Get("/api/feed", handlers.Feed(d))
}
