package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/marque-dev/marque/internal/domain"
	"github.com/marque-dev/marque/internal/feed"
	"github.com/marque-dev/marque/internal/identity"
	"github.com/marque-dev/marque/internal/logger"
)

var engineSecret = []byte("engine-test-secret")

// ── fakes ─────────────────────────────────────────────────────────

type insertCall struct {
	owner, url, title string
}

type fakeStore struct {
	mu       sync.Mutex
	listFn   func(ctx context.Context, owner string) ([]domain.Bookmark, error)
	insertFn func(ctx context.Context, owner, url, title string) (domain.Bookmark, error)
	deleteFn func(ctx context.Context, owner string, id int64) error
	inserts  []insertCall
	deletes  []int64
}

func (s *fakeStore) ListByOwner(ctx context.Context, owner string) ([]domain.Bookmark, error) {
	if s.listFn != nil {
		return s.listFn(ctx, owner)
	}
	return []domain.Bookmark{}, nil
}

func (s *fakeStore) Insert(ctx context.Context, owner, url, title string) (domain.Bookmark, error) {
	s.mu.Lock()
	s.inserts = append(s.inserts, insertCall{owner: owner, url: url, title: title})
	s.mu.Unlock()

	if s.insertFn != nil {
		return s.insertFn(ctx, owner, url, title)
	}
	return domain.Bookmark{ID: 1, Owner: owner, URL: url, Title: title, CreatedAt: time.Now()}, nil
}

func (s *fakeStore) DeleteByID(ctx context.Context, owner string, id int64) error {
	s.mu.Lock()
	s.deletes = append(s.deletes, id)
	s.mu.Unlock()

	if s.deleteFn != nil {
		return s.deleteFn(ctx, owner, id)
	}
	return nil
}

func (s *fakeStore) insertCalls() []insertCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]insertCall, len(s.inserts))
	copy(out, s.inserts)
	return out
}

type fakeSub struct {
	ch   chan feed.Event
	once sync.Once
}

func (s *fakeSub) Events() <-chan feed.Event { return s.ch }

func (s *fakeSub) Close() error {
	s.once.Do(func() { close(s.ch) })
	return nil
}

type fakeFeed struct {
	mu   sync.Mutex
	subs []*fakeSub
}

func (f *fakeFeed) Open(ctx context.Context, owner string) (feed.Subscription, error) {
	sub := &fakeSub{ch: make(chan feed.Event, 32)}
	f.mu.Lock()
	f.subs = append(f.subs, sub)
	f.mu.Unlock()
	return sub, nil
}

func (f *fakeFeed) current(t *testing.T) *fakeSub {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		n := len(f.subs)
		var sub *fakeSub
		if n > 0 {
			sub = f.subs[n-1]
		}
		f.mu.Unlock()
		if sub != nil {
			return sub
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no feed subscription was opened")
	return nil
}

func (f *fakeFeed) emit(t *testing.T, ev feed.Event) {
	t.Helper()
	f.current(t).ch <- ev
}

// ── harness ───────────────────────────────────────────────────────

func signToken(t *testing.T, sub string) string {
	t.Helper()
	token, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{"sub": sub}).
		SignedString(engineSecret)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return token
}

func startEngine(t *testing.T, store Store, feeds feed.Opener) (*Engine, *identity.Gate) {
	t.Helper()

	gate := identity.NewGate(engineSecret, logger.Nop())
	if err := gate.Resolve(""); err != nil {
		t.Fatalf("gate.Resolve() error = %v", err)
	}

	e := New(store, feeds, gate, logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go e.Run(ctx)

	return e, gate
}

func signIn(t *testing.T, gate *identity.Gate, user string) {
	t.Helper()
	if err := gate.SignIn(signToken(t, user)); err != nil {
		t.Fatalf("SignIn(%s) error = %v", user, err)
	}
}

func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func ownedBookmark(id int64, owner string, createdAt time.Time) domain.Bookmark {
	return domain.Bookmark{
		ID:        id,
		Owner:     owner,
		URL:       "https://a",
		Title:     "A",
		CreatedAt: createdAt,
	}
}

// ── scenarios ─────────────────────────────────────────────────────

// Load returns one row, the feed then deletes it: collection ends empty.
func TestLoadThenFeedDelete(t *testing.T) {
	store := &fakeStore{
		listFn: func(ctx context.Context, owner string) ([]domain.Bookmark, error) {
			return []domain.Bookmark{ownedBookmark(1, owner, baseTime)}, nil
		},
	}
	feeds := &fakeFeed{}
	e, gate := startEngine(t, store, feeds)

	signIn(t, gate, "user-a")
	waitFor(t, "live with one bookmark", func() bool {
		return e.State() == Live && len(e.Snapshot()) == 1
	})

	feeds.emit(t, feed.Event{Kind: feed.KindDelete, Row: domain.Bookmark{ID: 1}})
	waitFor(t, "empty collection", func() bool {
		return len(e.Snapshot()) == 0
	})
}

// A feed Insert arrives while the initial load is still in flight;
// the load result contains the same row. Exactly one copy survives.
func TestFeedInsertDuringLoad(t *testing.T) {
	release := make(chan struct{})
	store := &fakeStore{
		listFn: func(ctx context.Context, owner string) ([]domain.Bookmark, error) {
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return []domain.Bookmark{ownedBookmark(2, owner, baseTime)}, nil
		},
	}
	feeds := &fakeFeed{}
	e, gate := startEngine(t, store, feeds)

	signIn(t, gate, "user-a")
	waitFor(t, "loading state", func() bool { return e.Loading() })

	feeds.emit(t, feed.Event{Kind: feed.KindInsert, Row: ownedBookmark(2, "user-a", baseTime)})
	waitFor(t, "early feed row applied", func() bool {
		return len(e.Snapshot()) == 1
	})

	close(release)
	waitFor(t, "live state", func() bool { return e.State() == Live })

	snap := e.Snapshot()
	if len(snap) != 1 || snap[0].ID != 2 {
		t.Fatalf("collection = %v, want exactly one element with id 2", ids(snap))
	}
}

// An early feed Delete must not be resurrected by the load result.
func TestFeedDeleteDuringLoadIsNotResurrected(t *testing.T) {
	release := make(chan struct{})
	store := &fakeStore{
		listFn: func(ctx context.Context, owner string) ([]domain.Bookmark, error) {
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return []domain.Bookmark{
				ownedBookmark(1, owner, baseTime),
				ownedBookmark(2, owner, baseTime.Add(time.Minute)),
			}, nil
		},
	}
	feeds := &fakeFeed{}
	e, gate := startEngine(t, store, feeds)

	signIn(t, gate, "user-a")
	waitFor(t, "loading state", func() bool { return e.Loading() })

	feeds.emit(t, feed.Event{Kind: feed.KindDelete, Row: domain.Bookmark{ID: 1}})
	// Give the engine a chance to apply the delete before the load lands.
	waitFor(t, "feed subscription", func() bool { return feeds.current(t) != nil })
	time.Sleep(20 * time.Millisecond)

	close(release)
	waitFor(t, "live state", func() bool { return e.State() == Live })

	for _, b := range e.Snapshot() {
		if b.ID == 1 {
			t.Fatalf("deleted row resurrected by load: %v", ids(e.Snapshot()))
		}
	}
	if len(e.Snapshot()) != 1 {
		t.Fatalf("collection = %v, want [2]", ids(e.Snapshot()))
	}
}

// AddBookmark trims inputs before the remote call; the echoed feed
// Insert produces exactly one row.
func TestAddBookmarkTrimsAndDeduplicatesEcho(t *testing.T) {
	store := &fakeStore{}
	feeds := &fakeFeed{}
	e, gate := startEngine(t, store, feeds)

	signIn(t, gate, "user-a")
	waitFor(t, "live state", func() bool { return e.State() == Live })

	if err := e.AddBookmark(context.Background(), "  https://b  ", "  B  "); err != nil {
		t.Fatalf("AddBookmark() error = %v", err)
	}

	calls := store.insertCalls()
	if len(calls) != 1 {
		t.Fatalf("got %d insert calls, want 1", len(calls))
	}
	if calls[0].url != "https://b" || calls[0].title != "B" {
		t.Errorf("insert call = %+v, want trimmed url and title", calls[0])
	}

	// The direct response did not touch the collection.
	if len(e.Snapshot()) != 0 {
		t.Fatalf("insert response mutated the collection: %v", ids(e.Snapshot()))
	}

	// The echo arrives (twice, at-least-once delivery).
	row := domain.Bookmark{ID: 3, Owner: "user-a", URL: "https://b", Title: "B", CreatedAt: baseTime}
	feeds.emit(t, feed.Event{Kind: feed.KindInsert, Row: row})
	feeds.emit(t, feed.Event{Kind: feed.KindInsert, Row: row})

	waitFor(t, "echoed row", func() bool { return len(e.Snapshot()) > 0 })
	snap := e.Snapshot()
	if len(snap) != 1 || snap[0].URL != "https://b" || snap[0].Title != "B" {
		t.Fatalf("collection = %+v, want exactly one trimmed row", snap)
	}
}

// Empty url or title after trimming: no remote call, no state change.
func TestAddBookmarkEmptyIsSilentNoop(t *testing.T) {
	store := &fakeStore{}
	feeds := &fakeFeed{}
	e, gate := startEngine(t, store, feeds)

	signIn(t, gate, "user-a")
	waitFor(t, "live state", func() bool { return e.State() == Live })

	if err := e.AddBookmark(context.Background(), "", "X"); err != nil {
		t.Fatalf("AddBookmark() error = %v", err)
	}
	if err := e.AddBookmark(context.Background(), "https://x", "   "); err != nil {
		t.Fatalf("AddBookmark() error = %v", err)
	}

	if calls := store.insertCalls(); len(calls) != 0 {
		t.Fatalf("remote insert was called %d times, want 0", len(calls))
	}
	if len(e.Snapshot()) != 0 {
		t.Fatal("collection changed on a no-op add")
	}
}

// Duplicate delivery of the same Insert leaves exactly one element.
func TestDuplicateFeedInsert(t *testing.T) {
	store := &fakeStore{}
	feeds := &fakeFeed{}
	e, gate := startEngine(t, store, feeds)

	signIn(t, gate, "user-a")
	waitFor(t, "live state", func() bool { return e.State() == Live })

	row := ownedBookmark(4, "user-a", baseTime)
	feeds.emit(t, feed.Event{Kind: feed.KindInsert, Row: row})
	feeds.emit(t, feed.Event{Kind: feed.KindInsert, Row: row})

	waitFor(t, "row applied", func() bool { return len(e.Snapshot()) > 0 })
	time.Sleep(20 * time.Millisecond)

	if snap := e.Snapshot(); len(snap) != 1 || snap[0].ID != 4 {
		t.Fatalf("collection = %v, want exactly one element with id 4", ids(snap))
	}
}

// ── invariants ────────────────────────────────────────────────────

func TestIdentitySwitchClearsState(t *testing.T) {
	store := &fakeStore{
		listFn: func(ctx context.Context, owner string) ([]domain.Bookmark, error) {
			return []domain.Bookmark{ownedBookmark(1, owner, baseTime)}, nil
		},
	}
	feeds := &fakeFeed{}
	e, gate := startEngine(t, store, feeds)

	signIn(t, gate, "user-a")
	waitFor(t, "user-a live", func() bool {
		snap := e.Snapshot()
		return e.State() == Live && len(snap) == 1 && snap[0].Owner == "user-a"
	})

	signIn(t, gate, "user-b")
	waitFor(t, "user-b live", func() bool {
		snap := e.Snapshot()
		return e.State() == Live && len(snap) == 1 && snap[0].Owner == "user-b"
	})

	for _, b := range e.Snapshot() {
		if b.Owner != "user-b" {
			t.Fatalf("foreign-owner row visible after switch: %+v", b)
		}
	}
}

func TestSignOutClearsCollection(t *testing.T) {
	store := &fakeStore{
		listFn: func(ctx context.Context, owner string) ([]domain.Bookmark, error) {
			return []domain.Bookmark{ownedBookmark(1, owner, baseTime)}, nil
		},
	}
	feeds := &fakeFeed{}
	e, gate := startEngine(t, store, feeds)

	signIn(t, gate, "user-a")
	waitFor(t, "live state", func() bool { return e.State() == Live })

	e.SignOut()
	waitFor(t, "uninitialized state", func() bool {
		return e.State() == Uninitialized && len(e.Snapshot()) == 0
	})

	if err := e.AddBookmark(context.Background(), "https://x", "X"); !errors.Is(err, domain.ErrNoSession) {
		t.Errorf("AddBookmark after sign-out error = %v, want ErrNoSession", err)
	}
}

// A load still in flight for the previous user must never reach the
// collection after an identity switch.
func TestStaleLoadDiscardedOnIdentitySwitch(t *testing.T) {
	releaseA := make(chan struct{})
	store := &fakeStore{
		listFn: func(ctx context.Context, owner string) ([]domain.Bookmark, error) {
			if owner == "user-a" {
				<-releaseA
				return []domain.Bookmark{ownedBookmark(1, "user-a", baseTime)}, nil
			}
			return []domain.Bookmark{ownedBookmark(2, "user-b", baseTime)}, nil
		},
	}
	feeds := &fakeFeed{}
	e, gate := startEngine(t, store, feeds)

	signIn(t, gate, "user-a")
	waitFor(t, "user-a loading", func() bool { return e.Loading() })

	signIn(t, gate, "user-b")
	waitFor(t, "user-b live", func() bool {
		snap := e.Snapshot()
		return e.State() == Live && len(snap) == 1 && snap[0].Owner == "user-b"
	})

	// Let user-a's load complete late; it must be dropped.
	close(releaseA)
	time.Sleep(30 * time.Millisecond)

	for _, b := range e.Snapshot() {
		if b.Owner != "user-b" {
			t.Fatalf("stale user-a data reached the collection: %+v", b)
		}
	}
}

func TestDeleteBookmarkIdempotent(t *testing.T) {
	store := &fakeStore{}
	feeds := &fakeFeed{}
	e, gate := startEngine(t, store, feeds)

	signIn(t, gate, "user-a")
	waitFor(t, "live state", func() bool { return e.State() == Live })

	if err := e.DeleteBookmark(context.Background(), 99); err != nil {
		t.Fatalf("DeleteBookmark(absent) error = %v", err)
	}
	if len(e.Snapshot()) != 0 {
		t.Fatal("collection changed on delete of absent id")
	}
}

func TestStoreErrorSurfacedWithoutMutation(t *testing.T) {
	store := &fakeStore{
		insertFn: func(ctx context.Context, owner, url, title string) (domain.Bookmark, error) {
			return domain.Bookmark{}, domain.NewStoreError("insert", errors.New("boom"))
		},
	}
	feeds := &fakeFeed{}
	e, gate := startEngine(t, store, feeds)

	signIn(t, gate, "user-a")
	waitFor(t, "live state", func() bool { return e.State() == Live })

	err := e.AddBookmark(context.Background(), "https://x", "X")
	if !domain.IsStoreError(err) {
		t.Fatalf("AddBookmark() error = %v, want StoreError", err)
	}
	if len(e.Snapshot()) != 0 {
		t.Fatal("failed insert mutated the collection")
	}
}

func TestForeignOwnerEventDropped(t *testing.T) {
	store := &fakeStore{}
	feeds := &fakeFeed{}
	e, gate := startEngine(t, store, feeds)

	signIn(t, gate, "user-a")
	waitFor(t, "live state", func() bool { return e.State() == Live })

	feeds.emit(t, feed.Event{Kind: feed.KindInsert, Row: ownedBookmark(9, "user-b", baseTime)})
	time.Sleep(30 * time.Millisecond)

	if len(e.Snapshot()) != 0 {
		t.Fatalf("foreign-owner row entered the collection: %v", ids(e.Snapshot()))
	}
}

func TestLoadFailureStaysLoading(t *testing.T) {
	store := &fakeStore{
		listFn: func(ctx context.Context, owner string) ([]domain.Bookmark, error) {
			return nil, domain.NewStoreError("list", errors.New("down"))
		},
	}
	feeds := &fakeFeed{}
	e, gate := startEngine(t, store, feeds)

	signIn(t, gate, "user-a")
	waitFor(t, "loading state", func() bool { return e.Loading() })
	time.Sleep(30 * time.Millisecond)

	if e.State() != Loading {
		t.Errorf("state = %v after load failure, want Loading", e.State())
	}
	if len(e.Snapshot()) != 0 {
		t.Error("failed load must not fall back to an empty-but-live collection")
	}
}

func TestFeedDisconnectSurfaced(t *testing.T) {
	store := &fakeStore{}
	feeds := &fakeFeed{}
	e, gate := startEngine(t, store, feeds)

	signIn(t, gate, "user-a")
	waitFor(t, "live state", func() bool { return e.State() == Live })
	if !e.FeedConnected() {
		t.Fatal("feed should be connected while live")
	}

	feeds.current(t).Close()
	waitFor(t, "feed disconnect surfaced", func() bool { return !e.FeedConnected() })
}
