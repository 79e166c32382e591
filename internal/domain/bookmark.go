package domain

import "time"

// Bookmark is one saved link, owned by exactly one user.
// Bookmarks are immutable once created; only create and delete
// are supported operations.
type Bookmark struct {
	// ID is assigned by the durable store on insert and never changes.
	ID int64 `json:"id"`

	// Owner is the user identifier the bookmark belongs to.
	// Every bookmark visible to a session must match that
	// session's user.
	Owner string `json:"owner"`

	// URL is the saved link. Non-empty after trimming.
	URL string `json:"url"`

	// Title is the display name. Non-empty after trimming.
	Title string `json:"title"`

	// CreatedAt is assigned by the store at insertion and is the
	// sole sort key (newest first).
	CreatedAt time.Time `json:"createdAt"`
}
