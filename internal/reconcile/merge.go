package reconcile

import (
	"sort"

	"github.com/marque-dev/marque/internal/domain"
)

// The merge primitives below are commutative and idempotent under
// any interleaving of initial-load rows, feed events, and direct
// call echoes. They are the only way the canonical collection is
// ever modified.

// applyInsert adds b in sorted position (createdAt descending,
// ties keep arrival order). If an element with b.ID already exists
// this is a no-op: a second copy is never appended.
func applyInsert(items []domain.Bookmark, b domain.Bookmark) []domain.Bookmark {
	for _, x := range items {
		if x.ID == b.ID {
			return items
		}
	}

	// First element strictly older than b; equal timestamps stay
	// ahead, preserving arrival order among ties.
	i := sort.Search(len(items), func(i int) bool {
		return items[i].CreatedAt.Before(b.CreatedAt)
	})

	items = append(items, domain.Bookmark{})
	copy(items[i+1:], items[i:])
	items[i] = b
	return items
}

// applyDelete removes the element with the given id. Absence is a
// no-op, not an error.
func applyDelete(items []domain.Bookmark, id int64) []domain.Bookmark {
	for i, x := range items {
		if x.ID == id {
			return append(items[:i], items[i+1:]...)
		}
	}
	return items
}

// applyUpdate replaces the element matching b.ID. The sort position
// is kept when createdAt is unchanged, otherwise the element is
// re-inserted in order. An update for an id not present yet is
// applied as an insert, so it commutes with a load that has not
// delivered the row.
func applyUpdate(items []domain.Bookmark, b domain.Bookmark) []domain.Bookmark {
	for i, x := range items {
		if x.ID != b.ID {
			continue
		}
		if x.CreatedAt.Equal(b.CreatedAt) {
			items[i] = b
			return items
		}
		items = append(items[:i], items[i+1:]...)
		return applyInsert(items, b)
	}
	return applyInsert(items, b)
}

// mergeLoad folds the initial load result into whatever the
// collection already holds from early feed events. Rows whose id
// was deleted by an early feed event (tombstoned) are skipped, so
// the load never resurrects them; rows already present from the
// feed win over their load copy.
func mergeLoad(items, loaded []domain.Bookmark, tombstones map[int64]struct{}) []domain.Bookmark {
	for _, b := range loaded {
		if _, dead := tombstones[b.ID]; dead {
			continue
		}
		items = applyInsert(items, b)
	}
	return items
}
