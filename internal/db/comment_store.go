package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"commentry/internal/models"
	"commentry/internal/services"
	"commentry/internal/thread"
)

// CommentStore is the gorm implementation of services.Store.
type CommentStore struct {
	db *gorm.DB
}

var _ services.Store = (*CommentStore)(nil)

func NewCommentStore(db *gorm.DB) *CommentStore {
	return &CommentStore{db: db}
}

func scoped(tx *gorm.DB, scope models.Scope) *gorm.DB {
	return tx.Where("pages_id = ? AND field = ?", scope.PageID, scope.Field)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return services.ErrNotFound
	}
	return err
}

func (s *CommentStore) Load(ctx context.Context, scope models.Scope, opts services.LoadOptions) (*thread.Collection, error) {
	var total int64
	if err := scoped(s.db.WithContext(ctx).Model(&models.Comment{}), scope).Count(&total).Error; err != nil {
		return nil, err
	}

	order := "sort ASC, id ASC"
	if opts.Newest {
		order = "created DESC, id DESC"
	}
	q := scoped(s.db.WithContext(ctx), scope).Order(order)
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit).Offset(opts.Offset)
	}
	var items []*models.Comment
	if err := q.Find(&items).Error; err != nil {
		return nil, err
	}

	coll := thread.NewCollection(scope, items)
	coll.Total = int(total)
	coll.Limit = opts.Limit
	coll.Offset = opts.Offset
	return coll, nil
}

func (s *CommentStore) Get(ctx context.Context, scope models.Scope, id uint) (*models.Comment, error) {
	var c models.Comment
	if err := scoped(s.db.WithContext(ctx), scope).First(&c, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

type link struct {
	ID       uint
	ParentID uint
}

// editableColumns are the only columns Save writes for an existing comment.
// Status, flags, the code and the vote counters have guarded updates of
// their own, so a stale copy cannot roll them back.
var editableColumns = []string{"parent_id", "text", "sort", "email", "cite", "website", "stars", "meta"}

// Save re-validates the parent link against rows locked in the same
// transaction, so concurrent re-parenting cannot build a cycle.
func (s *CommentStore) Save(ctx context.Context, c *models.Comment, maxDepth int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if c.ID != 0 {
			var stored link
			err := scoped(tx.Model(&models.Comment{}), c.Scope()).
				Clauses(clause.Locking{Strength: "UPDATE"}).
				Select("id", "parent_id").
				Where("id = ?", c.ID).
				Take(&stored).Error
			if err != nil {
				return notFound(err)
			}
			if stored.ParentID == c.ParentID {
				return tx.Model(c).Select(editableColumns).Updates(c).Error
			}
		}

		var rows []link
		err := scoped(tx.Model(&models.Comment{}), c.Scope()).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "parent_id").
			Find(&rows).Error
		if err != nil {
			return err
		}
		links := make(map[uint]uint, len(rows))
		for _, r := range rows {
			links[r.ID] = r.ParentID
		}
		parentID, err := thread.Revalidate(links, c.ID, c.ParentID, maxDepth)
		if err != nil {
			return err
		}
		c.ParentID = parentID

		if c.ID == 0 {
			return tx.Create(c).Error
		}
		return tx.Model(c).Select(editableColumns).Updates(c).Error
	})
}

// UpdateStatus is a compare-and-swap on the stored status.
func (s *CommentStore) UpdateStatus(ctx context.Context, scope models.Scope, id uint, from, to models.Status) error {
	res := scoped(s.db.WithContext(ctx).Model(&models.Comment{}), scope).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var n int64
	if err := scoped(s.db.WithContext(ctx).Model(&models.Comment{}), scope).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return services.ErrNotFound
	}
	return services.ErrConflict
}

func (s *CommentStore) Delete(ctx context.Context, c *models.Comment) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var live int64
		err := tx.Model(&models.Comment{}).
			Where("parent_id = ? AND status < ?", c.ID, models.StatusDeletePending).
			Count(&live).Error
		if err != nil {
			return err
		}
		if live > 0 {
			return services.ErrCannotDelete
		}

		res := scoped(tx, c.Scope()).Where("id = ?", c.ID).Delete(&models.Comment{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return services.ErrNotFound
		}
		return tx.Where("comment_id = ?", c.ID).Delete(&models.Vote{}).Error
	})
}

// ConsumeCode clears the code with a compare-and-swap on its current value
// and the status it was read with; of two concurrent requests presenting the
// same code only one matches.
func (s *CommentStore) ConsumeCode(ctx context.Context, scope models.Scope, digest string, apply func(*models.Comment) error) (*models.Comment, error) {
	var c models.Comment
	if err := scoped(s.db.WithContext(ctx), scope).Where("code = ?", digest).Take(&c).Error; err != nil {
		return nil, notFound(err)
	}
	from := c.Status
	if err := apply(&c); err != nil {
		return nil, err
	}

	res := s.db.WithContext(ctx).Model(&models.Comment{}).
		Where("id = ? AND code = ? AND status = ?", c.ID, digest, from).
		Updates(map[string]any{"status": c.Status, "code": nil})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, services.ErrNotFound
	}
	c.Code = nil
	return &c, nil
}

func byEmail(tx *gorm.DB, email string, pageID uint) *gorm.DB {
	tx = tx.Where("email = ?", email)
	if pageID != 0 {
		tx = tx.Where("pages_id = ?", pageID)
	}
	return tx
}

func (s *CommentStore) SubcodeForEmail(ctx context.Context, email string, pageID uint) (string, error) {
	var subs []string
	err := byEmail(s.db.WithContext(ctx).Model(&models.Comment{}), email, pageID).
		Where("subcode <> ''").
		Order("id ASC").
		Limit(1).
		Pluck("subcode", &subs).Error
	if err != nil || len(subs) == 0 {
		return "", err
	}
	return subs[0], nil
}

func (s *CommentStore) EmailForSubcode(ctx context.Context, subcode string, pageID uint) (string, error) {
	q := s.db.WithContext(ctx).Model(&models.Comment{}).Where("subcode = ?", subcode)
	if pageID != 0 {
		q = q.Where("pages_id = ?", pageID)
	}
	var emails []string
	if err := q.Order("id ASC").Limit(1).Pluck("email", &emails).Error; err != nil {
		return "", err
	}
	if len(emails) == 0 {
		return "", services.ErrNotFound
	}
	return emails[0], nil
}

func (s *CommentStore) CommentsByEmail(ctx context.Context, email string, pageID uint) ([]*models.Comment, error) {
	var out []*models.Comment
	err := byEmail(s.db.WithContext(ctx), email, pageID).Order("id ASC").Find(&out).Error
	return out, err
}

// ChangeFlags computes the new flags in SQL from the stored value, so two
// requests touching different bits do not overwrite each other.
func (s *CommentStore) ChangeFlags(ctx context.Context, id uint, set, clear models.Flags) (bool, error) {
	keep := int64(^clear)
	res := s.db.WithContext(ctx).Model(&models.Comment{}).
		Where("id = ? AND flags <> ((flags | ?) & ?)", id, int64(set), keep).
		UpdateColumn("flags", gorm.Expr("(flags | ?) & ?", int64(set), keep))
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Comment{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, err
	}
	if n == 0 {
		return false, services.ErrNotFound
	}
	return false, nil
}

var errDuplicateVote = errors.New("duplicate vote")

func (s *CommentStore) RecordVote(ctx context.Context, commentID uint, ip string, value int) (bool, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		vote := models.Vote{CommentID: commentID, IP: ip, Value: value}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&vote)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errDuplicateVote
		}

		column := "upvotes"
		if value < 0 {
			column = "downvotes"
		}
		return tx.Model(&models.Comment{}).Where("id = ?", commentID).
			UpdateColumn(column, gorm.Expr(column+" + 1")).Error
	})
	if errors.Is(err, errDuplicateVote) {
		return false, nil
	}
	return err == nil, err
}

// PurgeSpam deletes old spam together with its votes. A scope with PageID 0
// covers the field on every page.
func (s *CommentStore) PurgeSpam(ctx context.Context, scope models.Scope, before time.Time) (int64, error) {
	var purged int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&models.Comment{}).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("field = ? AND status = ? AND created < ?", scope.Field, models.StatusSpam, before.UTC()).
			Where("NOT EXISTS (SELECT 1 FROM comments AS child WHERE child.parent_id = comments.id AND child.status < ?)", models.StatusDeletePending)
		if scope.PageID != 0 {
			q = q.Where("pages_id = ?", scope.PageID)
		}
		var ids []uint
		if err := q.Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		res := tx.Where("id IN ? AND status = ?", ids, models.StatusSpam).Delete(&models.Comment{})
		if res.Error != nil {
			return res.Error
		}
		purged = res.RowsAffected
		return tx.Where("comment_id IN ?", ids).Delete(&models.Vote{}).Error
	})
	if err != nil {
		return 0, err
	}
	return purged, nil
}
