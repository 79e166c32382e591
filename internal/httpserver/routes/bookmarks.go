package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/marque-dev/marque/internal/httpserver/deps"
	"github.com/marque-dev/marque/internal/httpserver/handlers"
)

func init() { Register(registerBookmarks) }

func registerBookmarks(r chi.Router, d deps.Deps) {
	r.Get("/api/bookmarks", handlers.List(d))
	r.Post("/api/bookmarks", handlers.Create(d))
	r.Delete("/api/bookmarks/{id}", handlers.Delete(d))
}
