package models

import "strings"

// ModerationMode 字段的审核策略
type ModerationMode int

const (
	ModerationNone        ModerationMode = iota // 直接发布
	ModerationPendingOnly                       // 新评论者需要审核
	ModerationAll                               // 所有评论都需要审核
)

// ParseModerationMode maps config strings to a mode, defaulting to ModerationAll.
func ParseModerationMode(v string) ModerationMode {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "none", "0", "off":
		return ModerationNone
	case "pending", "pending-only", "new", "1":
		return ModerationPendingOnly
	}
	return ModerationAll
}

// FieldConfig is the read-only configuration of one comments field.
type FieldConfig struct {
	Name                string
	MaxDepth            int
	ModerationMode      ModerationMode
	NotifySpamToAdmin   bool
	DeleteSpamAfterDays int
	UseNotify           bool
	NotificationEmail   string // 管理员收件人规格，逗号分隔
	UseVotes            bool
	UseStars            bool
	UseWebsite          bool
	DoubleOptIn         bool
	SubcodeSiteWide     bool
	SortNewest          bool
}
