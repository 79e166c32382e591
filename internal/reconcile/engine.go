package reconcile

import (
	"context"
	"strings"
	"sync"

	"github.com/marque-dev/marque/internal/domain"
	"github.com/marque-dev/marque/internal/feed"
	"github.com/marque-dev/marque/internal/identity"
	"github.com/marque-dev/marque/internal/logger"
)

// State of the engine's session lifecycle.
type State int

const (
	// Uninitialized: no session, collection empty.
	Uninitialized State = iota
	// Loading: session known, initial list in flight.
	Loading
	// Live: list complete, feed open.
	Live
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Live:
		return "live"
	default:
		return "uninitialized"
	}
}

// Store is the remote bookmark store consumed by the engine.
type Store interface {
	ListByOwner(ctx context.Context, owner string) ([]domain.Bookmark, error)
	Insert(ctx context.Context, owner, url, title string) (domain.Bookmark, error)
	DeleteByID(ctx context.Context, owner string, id int64) error
}

// Engine owns the canonical in-memory bookmark collection for the
// current session and keeps it consistent with the remote store
// under three concurrent change sources: the initial load, local
// mutations confirmed asynchronously, and the per-owner change
// feed. Nothing else mutates the collection.
//
// AddBookmark and DeleteBookmark only perform the remote call; the
// feed is the single source of truth for collection mutation. This
// guarantees at most one visible copy of a row across any number of
// sessions, at the cost of a short delay between a local action and
// its visible effect.
type Engine struct {
	store Store
	feeds feed.Opener
	gate  *identity.Gate
	log   logger.Logger

	mu         sync.RWMutex
	state      State
	owner      string
	items      []domain.Bookmark
	tombstones map[int64]struct{}
	feedDown   bool

	// Loop-owned; async results are tagged with the epoch of the
	// session that produced them and dropped when stale.
	epoch         uint64
	sub           feed.Subscription
	sessionCancel context.CancelFunc

	identityCh chan identity.Change
	loadCh     chan loadResult
	feedCh     chan feedDelivery

	notifier *notifier
}

type loadResult struct {
	epoch uint64
	items []domain.Bookmark
	err   error
}

type feedDelivery struct {
	epoch  uint64
	ev     feed.Event
	closed bool
}

// New creates an engine. Call Run to start it.
func New(store Store, feeds feed.Opener, gate *identity.Gate, log logger.Logger) *Engine {
	return &Engine{
		store:      store,
		feeds:      feeds,
		gate:       gate,
		log:        log,
		identityCh: make(chan identity.Change, 4),
		loadCh:     make(chan loadResult, 1),
		feedCh:     make(chan feedDelivery, 32),
		notifier:   newNotifier(),
	}
}

// Run drives the engine until ctx is canceled. All state mutation
// happens on this goroutine; identity changes, load completions and
// feed events are serialized through its mailbox channels.
func (e *Engine) Run(ctx context.Context) {
	unsubscribe := e.gate.OnChange(func(c identity.Change) {
		select {
		case e.identityCh <- c:
		case <-ctx.Done():
		}
	})
	defer unsubscribe()

	// The gate may have resolved before we subscribed.
	if user, ok := e.gate.Current(); ok {
		e.beginSession(ctx, user)
	}

	for {
		select {
		case <-ctx.Done():
			e.endSession()
			return

		case c := <-e.identityCh:
			e.endSession()
			if c.User != "" {
				e.beginSession(ctx, c.User)
			}
			e.notifier.broadcast()

		case res := <-e.loadCh:
			e.handleLoad(res)

		case d := <-e.feedCh:
			e.handleFeed(d)
		}
	}
}

// beginSession transitions to Loading for user, requests the
// initial list, then opens the feed. The feed is opened strictly
// after the load is requested; their completions may interleave
// arbitrarily, which the merge handles.
func (e *Engine) beginSession(ctx context.Context, user string) {
	e.epoch++
	epoch := e.epoch

	e.mu.Lock()
	e.state = Loading
	e.owner = user
	e.items = nil
	e.tombstones = make(map[int64]struct{})
	e.feedDown = false
	e.mu.Unlock()

	sctx, cancel := context.WithCancel(ctx)
	e.sessionCancel = cancel

	e.log.Info("session starting", logger.String("owner", user))

	go func() {
		items, err := e.store.ListByOwner(sctx, user)
		select {
		case e.loadCh <- loadResult{epoch: epoch, items: items, err: err}:
		case <-sctx.Done():
		}
	}()

	sub, err := e.feeds.Open(sctx, user)
	if err != nil {
		e.log.Error("failed to open change feed", logger.String("owner", user), logger.Error(err))
		e.mu.Lock()
		e.feedDown = true
		e.mu.Unlock()
		return
	}
	e.sub = sub

	go func() {
		for ev := range sub.Events() {
			select {
			case e.feedCh <- feedDelivery{epoch: epoch, ev: ev}:
			case <-sctx.Done():
				// Session torn down; keep draining so Close can finish
			}
		}
		select {
		case e.feedCh <- feedDelivery{epoch: epoch, closed: true}:
		case <-sctx.Done():
		}
	}()
}

// endSession abandons any in-flight load, closes the feed and
// clears the collection. Results of the old session still in
// flight carry a stale epoch and are dropped on arrival; stale
// data never reaches the collection.
func (e *Engine) endSession() {
	e.epoch++

	if e.sessionCancel != nil {
		e.sessionCancel()
		e.sessionCancel = nil
	}
	if e.sub != nil {
		if err := e.sub.Close(); err != nil {
			e.log.Warn("failed to close change feed", logger.Error(err))
		}
		e.sub = nil
	}

	e.mu.Lock()
	if e.state != Uninitialized {
		e.log.Info("session ended", logger.String("owner", e.owner))
	}
	e.state = Uninitialized
	e.owner = ""
	e.items = nil
	e.tombstones = nil
	e.feedDown = false
	e.mu.Unlock()
}

func (e *Engine) handleLoad(res loadResult) {
	if res.epoch != e.epoch {
		return
	}

	if res.err != nil {
		// Stay in Loading; the caller retries by re-signing in.
		e.log.Error("initial load failed", logger.Error(res.err))
		return
	}

	e.mu.Lock()
	if e.state != Loading {
		e.mu.Unlock()
		return
	}
	e.items = mergeLoad(e.items, res.items, e.tombstones)
	e.tombstones = nil
	e.state = Live
	count := len(e.items)
	owner := e.owner
	e.mu.Unlock()

	e.log.Info("initial load complete",
		logger.String("owner", owner),
		logger.Int("bookmarks", count))
	e.notifier.broadcast()
}

func (e *Engine) handleFeed(d feedDelivery) {
	if d.epoch != e.epoch {
		return
	}

	if d.closed {
		e.mu.Lock()
		e.feedDown = true
		e.mu.Unlock()
		e.log.Warn("change feed disconnected; re-sign-in to refresh")
		e.notifier.broadcast()
		return
	}

	e.mu.Lock()
	owner := e.owner

	// Rows from a foreign owner never enter the collection.
	if d.ev.Kind != feed.KindDelete && d.ev.Row.Owner != owner {
		e.mu.Unlock()
		e.log.Warn("dropping feed event for foreign owner",
			logger.String("owner", owner),
			logger.String("event_owner", d.ev.Row.Owner))
		return
	}

	switch d.ev.Kind {
	case feed.KindInsert:
		e.items = applyInsert(e.items, d.ev.Row)
	case feed.KindUpdate:
		e.items = applyUpdate(e.items, d.ev.Row)
	case feed.KindDelete:
		e.items = applyDelete(e.items, d.ev.Row.ID)
		if e.state == Loading {
			// Remember the delete so the load result cannot
			// resurrect the row.
			e.tombstones[d.ev.Row.ID] = struct{}{}
		}
	}
	e.mu.Unlock()

	e.notifier.broadcast()
}

// Snapshot returns a read-only copy of the canonical collection,
// ordered createdAt descending.
func (e *Engine) Snapshot() []domain.Bookmark {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]domain.Bookmark, len(e.items))
	copy(out, e.items)
	return out
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.state
}

// Loading is true only while the initial list is in flight.
func (e *Engine) Loading() bool {
	return e.State() == Loading
}

// FeedConnected reports whether the change feed is healthy for the
// current session.
func (e *Engine) FeedConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.state != Uninitialized && !e.feedDown
}

// Changes returns a channel signaled after every applied mutation
// and state transition, plus a cancel func.
func (e *Engine) Changes() (<-chan struct{}, func()) {
	return e.notifier.subscribe()
}

// AddBookmark trims url and title and inserts the bookmark
// remotely. If either is empty after trimming no remote call is
// made and nothing changes. The collection is not mutated here; the
// feed Insert event reflects the row back, deduplicated against
// any echo.
func (e *Engine) AddBookmark(ctx context.Context, url, title string) error {
	url = strings.TrimSpace(url)
	title = strings.TrimSpace(title)
	if url == "" || title == "" {
		return nil
	}

	owner, err := e.sessionOwner()
	if err != nil {
		return err
	}

	if _, err := e.store.Insert(ctx, owner, url, title); err != nil {
		return err
	}
	return nil
}

// DeleteBookmark deletes remotely; removal from the collection
// happens via the subsequent feed Delete event. Deleting an absent
// id is not a distinct failure.
func (e *Engine) DeleteBookmark(ctx context.Context, id int64) error {
	owner, err := e.sessionOwner()
	if err != nil {
		return err
	}
	return e.store.DeleteByID(ctx, owner, id)
}

// SignOut ends the session: the identity change it triggers tears
// down the feed and clears the collection.
func (e *Engine) SignOut() {
	e.gate.SignOut()
}

func (e *Engine) sessionOwner() (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.owner == "" {
		if !e.gate.Resolved() {
			return "", domain.ErrIdentityUnresolved
		}
		return "", domain.ErrNoSession
	}
	return e.owner, nil
}
