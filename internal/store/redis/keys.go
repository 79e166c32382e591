package redis

import "fmt"

const (
	// KeyPrefixBookmark is the prefix for per-bookmark values
	KeyPrefixBookmark = "marque:bookmark:"
	// KeyPrefixOwnerIndex is the prefix for per-owner sorted indexes
	KeyPrefixOwnerIndex = "marque:bookmarks:"
	// KeySequence holds the monotonically increasing bookmark id counter
	KeySequence = "marque:bookmarks:seq"
)

// BookmarkKey returns the Redis key holding one bookmark's JSON value
func BookmarkKey(owner string, id int64) string {
	return fmt.Sprintf("%s%s:%d", KeyPrefixBookmark, owner, id)
}

// OwnerIndexKey returns the Redis key for an owner's sorted index.
// Members are bookmark ids, scored by creation time, so a reverse
// range yields newest-first.
func OwnerIndexKey(owner string) string {
	return KeyPrefixOwnerIndex + owner + ":index"
}
