package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/marque-dev/marque/internal/domain"
	"github.com/marque-dev/marque/internal/feed"
	"github.com/redis/go-redis/v9"
)

// Store performs the three remote bookmark operations against Redis
// and publishes a feed event for every successful mutation. It is
// the only writer of bookmark data.
type Store struct {
	client *redis.Client
	now    func() time.Time
}

// NewStore creates a new Redis-backed bookmark store
func NewStore(client *redis.Client) *Store {
	return &Store{
		client: client,
		now:    time.Now,
	}
}

// ListByOwner returns every bookmark of owner, newest first. Any
// failure is a StoreError; callers treat it as "no data yet", not
// as an empty collection.
func (s *Store) ListByOwner(ctx context.Context, owner string) ([]domain.Bookmark, error) {
	ids, err := s.client.ZRevRange(ctx, OwnerIndexKey(owner), 0, -1).Result()
	if err != nil {
		return nil, domain.NewStoreError("list", fmt.Errorf("failed to read owner index: %w", err))
	}

	if len(ids) == 0 {
		return []domain.Bookmark{}, nil
	}

	keys := make([]string, 0, len(ids))
	for _, raw := range ids {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			// Foreign member in the index; skip it
			continue
		}
		keys = append(keys, BookmarkKey(owner, id))
	}
	if len(keys) == 0 {
		return []domain.Bookmark{}, nil
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, domain.NewStoreError("list", fmt.Errorf("failed to read bookmarks: %w", err))
	}

	bookmarks := make([]domain.Bookmark, 0, len(vals))
	for _, val := range vals {
		data, ok := val.(string)
		if !ok {
			// Dangling index entry (value expired or deleted); skip
			continue
		}

		var b domain.Bookmark
		if err := json.Unmarshal([]byte(data), &b); err != nil {
			continue
		}
		bookmarks = append(bookmarks, b)
	}

	return bookmarks, nil
}

// Insert creates a bookmark for owner, assigning its id and
// creation time, and publishes the Insert feed event. The caller
// must not assume the event arrives before or after this returns;
// both orders happen.
func (s *Store) Insert(ctx context.Context, owner, urlStr, title string) (domain.Bookmark, error) {
	if _, err := url.ParseRequestURI(urlStr); err != nil {
		return domain.Bookmark{}, domain.NewStoreError("insert", fmt.Errorf("malformed url %q: %w", urlStr, err))
	}

	id, err := s.client.Incr(ctx, KeySequence).Result()
	if err != nil {
		return domain.Bookmark{}, domain.NewStoreError("insert", fmt.Errorf("failed to allocate id: %w", err))
	}

	b := domain.Bookmark{
		ID:        id,
		Owner:     owner,
		URL:       urlStr,
		Title:     title,
		CreatedAt: s.now().UTC(),
	}

	data, err := json.Marshal(b)
	if err != nil {
		return domain.Bookmark{}, domain.NewStoreError("insert", fmt.Errorf("failed to marshal bookmark: %w", err))
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, BookmarkKey(owner, id), data, 0)
	pipe.ZAdd(ctx, OwnerIndexKey(owner), redis.Z{
		Score:  float64(b.CreatedAt.UnixNano()),
		Member: id,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.Bookmark{}, domain.NewStoreError("insert", fmt.Errorf("failed to save bookmark: %w", err))
	}

	if err := s.publish(ctx, owner, feed.Event{Kind: feed.KindInsert, Row: b}); err != nil {
		return domain.Bookmark{}, err
	}

	return b, nil
}

// DeleteByID removes a bookmark and publishes the Delete feed event.
// Deleting an id that is already absent succeeds; the event payload
// carries only the id.
func (s *Store) DeleteByID(ctx context.Context, owner string, id int64) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, BookmarkKey(owner, id))
	pipe.ZRem(ctx, OwnerIndexKey(owner), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.NewStoreError("delete", fmt.Errorf("failed to delete bookmark %d: %w", id, err))
	}

	return s.publish(ctx, owner, feed.Event{Kind: feed.KindDelete, Row: domain.Bookmark{ID: id}})
}

// publish sends one feed event to every session subscribed to the
// owner's channel. The event is part of the mutation contract:
// local sessions rely on it to reflect the change.
func (s *Store) publish(ctx context.Context, owner string, ev feed.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return domain.NewStoreError("publish", fmt.Errorf("failed to marshal feed event: %w", err))
	}

	if err := s.client.Publish(ctx, feed.Channel(owner), payload).Err(); err != nil {
		return domain.NewStoreError("publish", fmt.Errorf("failed to publish feed event: %w", err))
	}
	return nil
}
