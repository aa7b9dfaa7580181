package services

import (
	"context"
	"time"

	"commentry/internal/models"
	"commentry/internal/thread"
)

// LoadOptions controls pagination and order of a collection load. Limit 0 loads everything.
type LoadOptions struct {
	Limit  int
	Offset int
	Newest bool
}

// Store persists comments. Every method is scoped by (page, field) either
// explicitly or through the comment passed in. Implementations serialize
// writes to one scope so threading checks made in Save hold at commit time.
type Store interface {
	Load(ctx context.Context, scope models.Scope, opts LoadOptions) (*thread.Collection, error)
	Get(ctx context.Context, scope models.Scope, id uint) (*models.Comment, error)

	// Save inserts (ID == 0) or updates the comment. The parent link is
	// re-validated against the stored tree with thread.Revalidate. Updates
	// only write the editable content and the parent link; status, flags,
	// the code and the vote counters keep their stored values.
	Save(ctx context.Context, c *models.Comment, maxDepth int) error

	// UpdateStatus moves the comment from one status to another only if it
	// still has status from. A missing comment yields ErrNotFound, a status
	// changed in the meantime ErrConflict.
	UpdateStatus(ctx context.Context, scope models.Scope, id uint, from, to models.Status) error

	// Delete physically removes the comment if thread.CanDelete still holds.
	Delete(ctx context.Context, c *models.Comment) error

	// ConsumeCode finds the comment whose code digest equals digest, lets apply
	// mutate its status, then clears the code only if code and status are
	// still unchanged.
	// A missing or already consumed code yields ErrNotFound.
	ConsumeCode(ctx context.Context, scope models.Scope, digest string, apply func(*models.Comment) error) (*models.Comment, error)

	// SubcodeForEmail returns the subcode already bound to email, "" if none.
	// pageID 0 searches site-wide.
	SubcodeForEmail(ctx context.Context, email string, pageID uint) (string, error)
	// EmailForSubcode resolves a subcode. pageID 0 searches site-wide.
	EmailForSubcode(ctx context.Context, subcode string, pageID uint) (string, error)
	// CommentsByEmail lists the comments of an author. pageID 0 searches site-wide.
	CommentsByEmail(ctx context.Context, email string, pageID uint) ([]*models.Comment, error)
	// ChangeFlags sets and clears notification bits in place, leaving the
	// other bits as stored. It reports whether the stored flags changed.
	ChangeFlags(ctx context.Context, id uint, set, clear models.Flags) (bool, error)

	// RecordVote stores one vote per (comment, ip) and bumps the counters.
	// It reports false when the ip already voted.
	RecordVote(ctx context.Context, commentID uint, ip string, value int) (bool, error)

	// PurgeSpam deletes spam comments created before the cutoff that have no live replies.
	PurgeSpam(ctx context.Context, scope models.Scope, before time.Time) (int64, error)
}

// Directory gives read access to pages and users for recipient resolution and link building.
type Directory interface {
	PageURL(ctx context.Context, pageID uint) (string, error)
	// PageField returns a field value of the page identified by id or path.
	PageField(ctx context.Context, pageRef string, field string) (string, error)
	UserEmail(ctx context.Context, username string) (string, error)
}
