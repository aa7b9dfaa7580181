package models

import (
	"time"
)

// Page is the minimal view of a CMS page the comments engine needs:
// where it lives and the values of its plain fields.
type Page struct {
	ID        uint              `gorm:"primaryKey" json:"id"`
	Path      string            `gorm:"uniqueIndex;not null" json:"path"` // e.g. /blog/hello/
	Title     string            `json:"title"`
	Fields    map[string]string `gorm:"serializer:json" json:"fields,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}
