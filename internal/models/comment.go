package models

import (
	"time"

	"gorm.io/gorm"
)

// Status 评论审核状态
type Status int

const (
	StatusSpam          Status = -2
	StatusPending       Status = 0
	StatusApproved      Status = 1
	StatusFeatured      Status = 2
	StatusDeletePending Status = 999
)

// Published reports whether comments in this status are visible to readers.
func (s Status) Published() bool {
	return s == StatusApproved || s == StatusFeatured
}

func (s Status) String() string {
	switch s {
	case StatusSpam:
		return "spam"
	case StatusPending:
		return "pending"
	case StatusApproved:
		return "approved"
	case StatusFeatured:
		return "featured"
	case StatusDeletePending:
		return "delete-pending"
	}
	return "unknown"
}

// ParseStatus accepts either the name or the numeric value of a status.
func ParseStatus(v string) (Status, bool) {
	switch v {
	case "spam", "-2":
		return StatusSpam, true
	case "pending", "0":
		return StatusPending, true
	case "approved", "approve", "1":
		return StatusApproved, true
	case "featured", "2":
		return StatusFeatured, true
	case "delete-pending", "delete", "999":
		return StatusDeletePending, true
	}
	return 0, false
}

// Flags 通知订阅位
type Flags int

const (
	FlagNotifyReply     Flags = 2
	FlagNotifyAll       Flags = 4
	FlagNotifyConfirmed Flags = 8
	FlagNotifyQueued    Flags = 16
)

func (f Flags) Has(flag Flags) bool { return f&flag != 0 }

func (f Flags) Set(flag Flags) Flags { return f | flag }

func (f Flags) Clear(flag Flags) Flags { return f &^ flag }

// Scope identifies the (page, field) pair a comment belongs to.
type Scope struct {
	PageID uint   `json:"page_id"`
	Field  string `json:"field"`
}

type Comment struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	PageID         uint           `gorm:"column:pages_id;not null;index:idx_comments_scope" json:"page_id"`
	Field          string         `gorm:"size:128;not null;index:idx_comments_scope" json:"field"`
	ParentID       uint           `gorm:"not null;default:0;index" json:"parent_id"` // 0 为根评论
	Text           string         `gorm:"type:text;not null" json:"text"`
	Sort           int            `gorm:"not null;default:0" json:"sort"`
	Status         Status         `gorm:"not null;default:0;index" json:"status"`
	Flags          Flags          `gorm:"not null;default:0" json:"flags"`
	CreatedAt      time.Time      `gorm:"column:created;autoCreateTime" json:"created"`
	CreatedUsersID uint           `gorm:"column:created_users_id;default:0" json:"created_users_id"`
	Email          string         `gorm:"size:250;index" json:"email"`
	Cite           string         `gorm:"size:128" json:"cite"`
	Website        string         `gorm:"size:250" json:"website"`
	IP             string         `gorm:"size:45" json:"ip"`
	UserAgent      string         `gorm:"size:255" json:"user_agent"`
	Code           *string        `gorm:"size:128;index" json:"-"` // 审核链接码的摘要，消费后置空
	Subcode        string         `gorm:"size:40;index" json:"-"`
	Upvotes        int            `gorm:"not null;default:0" json:"upvotes"`
	Downvotes      int            `gorm:"not null;default:0" json:"downvotes"`
	Stars          int            `gorm:"not null;default:0" json:"stars"`
	Meta           map[string]any `gorm:"serializer:json" json:"meta,omitempty"`

	loaded     bool
	prevStatus *Status
}

func (Comment) TableName() string { return "comments" }

// AfterFind marks rows that came from storage so later status changes are tracked.
func (c *Comment) AfterFind(tx *gorm.DB) error {
	c.loaded = true
	return nil
}

// Scope returns the (page, field) pair of the comment.
func (c *Comment) Scope() Scope {
	return Scope{PageID: c.PageID, Field: c.Field}
}

// Loaded reports whether the comment was read from storage.
func (c *Comment) Loaded() bool { return c.loaded }

// MarkLoaded is used by stores that populate comments without going through gorm hooks.
func (c *Comment) MarkLoaded() { c.loaded = true }

// SetStatus changes the status. For loaded comments the outgoing value is kept in PrevStatus.
func (c *Comment) SetStatus(s Status) {
	if s == c.Status {
		return
	}
	if c.loaded {
		prev := c.Status
		c.prevStatus = &prev
	}
	c.Status = s
}

// PrevStatus returns the status before the most recent change, if one was recorded.
func (c *Comment) PrevStatus() (Status, bool) {
	if c.prevStatus == nil {
		return 0, false
	}
	return *c.prevStatus, true
}

// HasCode reports whether a one-time moderator action is still outstanding.
func (c *Comment) HasCode() bool {
	return c.Code != nil && *c.Code != ""
}

// Notifies reports whether the author asked for any kind of reply notification.
func (c *Comment) Notifies() bool {
	return c.Flags.Has(FlagNotifyReply) || c.Flags.Has(FlagNotifyAll)
}
