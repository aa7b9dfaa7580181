package models

import (
	"time"
)

// Vote records one up/down vote per IP per comment.
type Vote struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CommentID uint      `gorm:"not null;uniqueIndex:idx_comment_vote_ip" json:"comment_id"`
	IP        string    `gorm:"size:45;not null;uniqueIndex:idx_comment_vote_ip" json:"-"`
	Value     int       `gorm:"not null" json:"value"` // 1 or -1
	CreatedAt time.Time `json:"created_at"`
}

func (Vote) TableName() string { return "comment_votes" }
