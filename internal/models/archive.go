package models

import "time"

// ArchivePage remembers the newest stanza id seen from an archive so a later
// catch-up query can resume after it.
type ArchivePage struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	AccountID    uint      `gorm:"not null;uniqueIndex:idx_archive_pages_account_archive,priority:1" json:"account_id"`
	Archive      string    `gorm:"not null;uniqueIndex:idx_archive_pages_account_archive,priority:2" json:"archive"`
	LastStanzaID string    `gorm:"not null" json:"last_stanza_id"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM.
func (ArchivePage) TableName() string {
	return "archive_pages"
}
