package thread

import (
	"fmt"
	"strings"

	"commentry/internal/models"
)

// Collection holds the comments of one (page, field) pair for the duration of a request.
// Total may exceed Len when the collection was loaded with a limit.
type Collection struct {
	Scope  models.Scope
	Total  int
	Limit  int
	Offset int

	items []*models.Comment
}

// NewCollection wraps items that all belong to scope.
func NewCollection(scope models.Scope, items []*models.Comment) *Collection {
	return &Collection{
		Scope: scope,
		Total: len(items),
		items: items,
	}
}

func (c *Collection) Len() int { return len(c.items) }

// Items returns the comments in their insertion/sort order.
func (c *Collection) Items() []*models.Comment { return c.items }

// Get returns the comment with the given id, or nil.
func (c *Collection) Get(id uint) *models.Comment {
	if id == 0 {
		return nil
	}
	for _, item := range c.items {
		if item.ID == id {
			return item
		}
	}
	return nil
}

// Add appends a comment, replacing an existing entry with the same non-zero id.
func (c *Collection) Add(comment *models.Comment) {
	if comment.ID != 0 {
		for i, item := range c.items {
			if item.ID == comment.ID {
				c.items[i] = comment
				return
			}
		}
	}
	c.items = append(c.items, comment)
	c.Total++
}

// Remove drops the comment with the given id and reports whether it was present.
func (c *Collection) Remove(id uint) bool {
	for i, item := range c.items {
		if item.ID == id {
			c.items = append(c.items[:i], c.items[i+1:]...)
			if c.Total > 0 {
				c.Total--
			}
			return true
		}
	}
	return false
}

// Children returns the direct replies to comment.
func (c *Collection) Children(comment *models.Comment) []*models.Comment {
	if comment == nil || comment.ID == 0 {
		return nil
	}
	var out []*models.Comment
	for _, item := range c.items {
		if item.ParentID == comment.ID && item.ID != comment.ID {
			out = append(out, item)
		}
	}
	return out
}

// Parents returns the ancestors of comment, nearest first. A corrupted chain
// that loops is cut at the first repeated id.
func (c *Collection) Parents(comment *models.Comment) []*models.Comment {
	var out []*models.Comment
	seen := map[uint]bool{comment.ID: true}
	parentID := comment.ParentID
	for parentID != 0 && !seen[parentID] {
		parent := c.Get(parentID)
		if parent == nil {
			break
		}
		seen[parentID] = true
		out = append(out, parent)
		parentID = parent.ParentID
	}
	return out
}

// Depth is the number of ancestors; root comments have depth 0.
func (c *Collection) Depth(comment *models.Comment) int {
	return len(c.Parents(comment))
}

// Descendants returns every comment below comment, breadth first.
func (c *Collection) Descendants(comment *models.Comment) []*models.Comment {
	if comment == nil || comment.ID == 0 {
		return nil
	}
	var out []*models.Comment
	seen := map[uint]bool{comment.ID: true}
	queue := []*models.Comment{comment}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		for _, child := range c.Children(next) {
			if seen[child.ID] {
				continue
			}
			seen[child.ID] = true
			out = append(out, child)
			queue = append(queue, child)
		}
	}
	return out
}

// IsDescendant reports whether candidate sits somewhere below ancestor.
func (c *Collection) IsDescendant(ancestor, candidate *models.Comment) bool {
	if ancestor == nil || candidate == nil || ancestor.ID == 0 {
		return false
	}
	for _, d := range c.Descendants(ancestor) {
		if d.ID == candidate.ID {
			return true
		}
	}
	return false
}

// URL is the anchor link of comment on the page at pageURL.
func (c *Collection) URL(comment *models.Comment, pageURL string) string {
	return fmt.Sprintf("%s#Comment%d", strings.TrimSuffix(pageURL, "#"), comment.ID)
}

// Links returns the id -> parent id map of the loaded comments.
func (c *Collection) Links() map[uint]uint {
	links := make(map[uint]uint, len(c.items))
	for _, item := range c.items {
		if item.ID != 0 {
			links[item.ID] = item.ParentID
		}
	}
	return links
}

// Emails returns the distinct, lower-cased author emails of comments matching keep.
func (c *Collection) Emails(keep func(*models.Comment) bool) []string {
	seen := make(map[string]bool)
	var out []string
	for _, item := range c.items {
		email := strings.ToLower(strings.TrimSpace(item.Email))
		if email == "" || seen[email] || (keep != nil && !keep(item)) {
			continue
		}
		seen[email] = true
		out = append(out, email)
	}
	return out
}
