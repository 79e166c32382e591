package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/marque-dev/marque/internal/domain"
	"github.com/marque-dev/marque/internal/httpserver/deps"
	"github.com/marque-dev/marque/internal/logger"
)

type bookmarksResponse struct {
	Loading   bool              `json:"loading"`
	Feed      bool              `json:"feed"`
	Bookmarks []domain.Bookmark `json:"bookmarks"`
}

type createBookmarkRequest struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// List returns a snapshot of the canonical collection plus the
// loading flag. 503 while identity is still unknown, 401 when
// signed out.
func List(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !d.Gate.Resolved() {
			writeError(w, http.StatusServiceUnavailable, "identity not yet resolved")
			return
		}
		if _, ok := d.Gate.Current(); !ok {
			writeError(w, http.StatusUnauthorized, "no active session")
			return
		}

		writeJSON(w, http.StatusOK, bookmarksResponse{
			Loading:   d.Engine.Loading(),
			Feed:      d.Engine.FeedConnected(),
			Bookmarks: d.Engine.Snapshot(),
		})
	}
}

// Create issues the remote insert. The response is 202: the
// collection reflects the row once the feed echoes it back.
func Create(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createBookmarkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if err := d.Engine.AddBookmark(r.Context(), req.URL, req.Title); err != nil {
			writeMutationError(w, d, "add bookmark", err)
			return
		}

		w.WriteHeader(http.StatusAccepted)
	}
}

// Delete issues the remote delete. Removal from the collection
// happens via the feed Delete event; deleting an absent id is not
// a distinct failure.
func Delete(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid bookmark id")
			return
		}

		if err := d.Engine.DeleteBookmark(r.Context(), id); err != nil {
			writeMutationError(w, d, "delete bookmark", err)
			return
		}

		w.WriteHeader(http.StatusAccepted)
	}
}

func writeMutationError(w http.ResponseWriter, d deps.Deps, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrIdentityUnresolved):
		writeError(w, http.StatusServiceUnavailable, "identity not yet resolved")
	case errors.Is(err, domain.ErrNoSession):
		writeError(w, http.StatusUnauthorized, "no active session")
	case domain.IsStoreError(err):
		d.Logger.Error("store call failed", logger.String("op", op), logger.Error(err))
		writeError(w, http.StatusBadGateway, "store operation failed")
	default:
		d.Logger.Error("unexpected failure", logger.String("op", op), logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
