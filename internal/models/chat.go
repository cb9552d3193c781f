package models

import "time"

// ChatKind classifies a chat by how its remote party is addressed.
type ChatKind string

const (
	ChatKindIndividual ChatKind = "INDIVIDUAL"
	ChatKindMuc        ChatKind = "MUC"
	ChatKindMucPm      ChatKind = "MUC_PM"
)

// IsMuc reports whether messages in chats of this kind are identified by
// server assigned stanza ids.
func (k ChatKind) IsMuc() bool {
	return k == ChatKindMuc
}

// MucState is the last known join state of a group chat.
type MucState string

const (
	MucStateNone      MucState = ""
	MucStateAvailable MucState = "AVAILABLE"
	MucStateShutdown  MucState = "SHUTDOWN"
	MucStateError     MucState = "ERROR"
)

// Chat is a conversation with one remote address. The address is a bare JID,
// except for MUC_PM chats where it is the occupant's full JID.
type Chat struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	AccountID         uint      `gorm:"not null;uniqueIndex:idx_chats_account_address,priority:1" json:"account_id"`
	Address           string    `gorm:"not null;uniqueIndex:idx_chats_account_address,priority:2" json:"address"`
	Kind              ChatKind  `gorm:"type:varchar(16);not null" json:"kind"`
	Archived          bool      `gorm:"not null;index" json:"archived"`
	MucState          MucState  `gorm:"type:varchar(16);default:''" json:"muc_state,omitempty"`
	MucErrorCondition string    `gorm:"default:''" json:"muc_error_condition,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM.
func (Chat) TableName() string {
	return "chats"
}

// Bookmark is a stored group chat bookmark (XEP-0402) of an account.
type Bookmark struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	AccountID uint   `gorm:"not null;uniqueIndex:idx_bookmarks_account_address,priority:1" json:"account_id"`
	Address   string `gorm:"not null;uniqueIndex:idx_bookmarks_account_address,priority:2" json:"address"`
	Name      string `json:"name,omitempty"`
	Nick      string `json:"nick,omitempty"`
	Autojoin  bool   `gorm:"not null" json:"autojoin"`
}

// TableName specifies the table name for GORM.
func (Bookmark) TableName() string {
	return "bookmarks"
}

// ChatOverviewItem is one row of the chat list. It is computed, not stored.
type ChatOverviewItem struct {
	ChatID       uint         `json:"chat_id"`
	Address      string       `json:"address"`
	Kind         ChatKind     `json:"kind"`
	MucState     MucState     `json:"muc_state,omitempty"`
	MessageID    *uint        `json:"message_id,omitempty"`
	Sender       string       `json:"sender,omitempty"`
	Body         string       `json:"body,omitempty"`
	Outgoing     bool         `json:"outgoing"`
	Modification Modification `json:"modification,omitempty"`
	ReceivedAt   *time.Time   `json:"received_at,omitempty"`
}
