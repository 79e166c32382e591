package feed

import (
	"context"

	"github.com/marque-dev/marque/internal/domain"
)

// Kind classifies a row-level change in the durable store.
type Kind string

const (
	KindInsert Kind = "insert"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Event is one change notification pushed to subscribers of an
// owner's feed. Row is a full bookmark for Insert/Update; for
// Delete only Row.ID is populated.
//
// Delivery is at-least-once: consumers must tolerate duplicates,
// and ordering holds only within a single subscription.
type Event struct {
	Kind Kind            `json:"kind"`
	Row  domain.Bookmark `json:"row"`
}

// Channel returns the pub/sub channel name carrying events for
// the given owner. Publishers and subscribers must agree on it.
func Channel(owner string) string {
	return "marque:feed:" + owner
}

// Subscription is an open per-owner change feed. Events() is closed
// when the underlying connection drops or Close is called; there is
// no implicit timeout.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// Opener establishes per-owner feed subscriptions.
type Opener interface {
	Open(ctx context.Context, owner string) (Subscription, error)
}
