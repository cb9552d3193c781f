// Package models contains the persistent conversation model: accounts, chats,
// messages with their versions and contents, states and reactions.
package models

import "time"

// Account is a local XMPP identity. Every chat belongs to exactly one account.
type Account struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Address   string    `gorm:"not null;uniqueIndex" json:"address"` // bare JID
	Enabled   bool      `gorm:"not null" json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM.
func (Account) TableName() string {
	return "accounts"
}
