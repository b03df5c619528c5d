package content

import (
	"time"
)

// Content is the document collaboration sessions are bound to.
type Content struct {
	ID         uint64
	Title      string
	Body       string
	OwnerID    uint64
	VersionSeq uint64 `gorm:"default:0"` // last saved version number
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ContentVersion is a saved snapshot of a content body, numbered per content.
type ContentVersion struct {
	ID          uint64
	ContentID   uint64 `gorm:"uniqueIndex:idx_content_version,priority:1"`
	Content     Content
	Number      uint64 `gorm:"uniqueIndex:idx_content_version,priority:2"`
	Body        string
	CreatedByID uint64
	CreatedAt   time.Time
}
