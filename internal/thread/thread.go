// Package thread keeps the parent/child structure of a comment collection valid:
// no self parents, no cycles, bounded depth, and no orphaning deletes.
package thread

import (
	"errors"

	"commentry/internal/models"
)

var (
	ErrOwnParent         = errors.New("comment cannot be its own parent")
	ErrThreadingDisabled = errors.New("threaded replies are disabled for this field")
	ErrCycle             = errors.New("parent is a descendant of the comment")
	ErrDepthExceeded     = errors.New("reply exceeds the maximum thread depth")
)

// IsValidation reports whether err is one of the threading rejections.
func IsValidation(err error) bool {
	return errors.Is(err, ErrOwnParent) || errors.Is(err, ErrThreadingDisabled) ||
		errors.Is(err, ErrCycle) || errors.Is(err, ErrDepthExceeded)
}

// AssignParent resolves the parent id comment should be stored under.
//
// A parent missing from the collection resolves to 0. A parent that already
// sits at maxDepth is replaced by its nearest ancestor with room for a reply,
// so the result always satisfies depth <= maxDepth.
func AssignParent(coll *Collection, comment *models.Comment, requested uint, maxDepth int) (uint, error) {
	if requested == 0 {
		return 0, nil
	}
	if comment.ID != 0 && requested == comment.ID {
		return 0, ErrOwnParent
	}
	if maxDepth <= 0 {
		return 0, ErrThreadingDisabled
	}

	parent := coll.Get(requested)
	if parent == nil {
		return 0, nil
	}
	if comment.ID != 0 && coll.IsDescendant(comment, parent) {
		return 0, ErrCycle
	}

	for parent != nil && coll.Depth(parent) >= maxDepth {
		parent = coll.Get(parent.ParentID)
	}
	if parent == nil {
		return 0, nil
	}
	return parent.ID, nil
}

// CanDelete reports whether comment may be physically removed: every direct
// child must already be pending deletion.
func CanDelete(coll *Collection, comment *models.Comment) bool {
	for _, child := range coll.Children(comment) {
		if child.Status < models.StatusDeletePending {
			return false
		}
	}
	return true
}

// Revalidate re-checks a parent assignment against the links (id -> parent id)
// read inside the persisting transaction. It returns the parent id to store:
// a parent that vanished since validation resolves to 0. Unlike AssignParent it
// never re-parents; a depth overflow here means the snapshot was stale.
func Revalidate(links map[uint]uint, id, parentID uint, maxDepth int) (uint, error) {
	if parentID == 0 {
		return 0, nil
	}
	if id != 0 && parentID == id {
		return 0, ErrOwnParent
	}
	if maxDepth <= 0 {
		return 0, ErrThreadingDisabled
	}
	if _, ok := links[parentID]; !ok {
		return 0, nil
	}

	depth := 0
	seen := map[uint]bool{parentID: true}
	for cur := links[parentID]; cur != 0; cur = links[cur] {
		if cur == id || seen[cur] {
			return 0, ErrCycle
		}
		if _, ok := links[cur]; !ok {
			// dangling ancestor, the chain ends here as it does for Collection.Parents
			break
		}
		seen[cur] = true
		depth++
	}
	if depth >= maxDepth {
		return 0, ErrDepthExceeded
	}
	return parentID, nil
}
