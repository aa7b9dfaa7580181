package models

type NotificationType string

const (
	NotificationTypeAdmin   NotificationType = "admin"   // 新评论通知管理员（含审核链接）
	NotificationTypeReply   NotificationType = "reply"   // 回复了订阅者的评论
	NotificationTypeAll     NotificationType = "all"     // 页面上的任何新评论
	NotificationTypeConfirm NotificationType = "confirm" // 双重确认订阅
)

// Notification is one outgoing email. UnsubscribeURL is empty for admin mail.
type Notification struct {
	Type           NotificationType `json:"type"`
	Recipient      string           `json:"recipient"`
	Subject        string           `json:"subject"`
	BodyText       string           `json:"body_text"`
	BodyHTML       string           `json:"body_html"`
	UnsubscribeURL string           `json:"unsubscribe_url,omitempty"`
	CommentID      uint             `json:"comment_id"`
}
