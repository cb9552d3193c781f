package models

import "time"

// StateKind is the kind of a delivery state.
type StateKind string

const (
	StateDelivered StateKind = "DELIVERED"
	StateDisplayed StateKind = "DISPLAYED"
	StateError     StateKind = "ERROR"
)

// MessageState records a receipt, marker or error reported by ByIdentity about
// a message. There is at most one row per (message, kind, identity).
type MessageState struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	MessageID      uint      `gorm:"not null;uniqueIndex:idx_message_states_unique,priority:1" json:"message_id"`
	Kind           StateKind `gorm:"type:varchar(16);not null;uniqueIndex:idx_message_states_unique,priority:2" json:"kind"`
	ByIdentity     string    `gorm:"not null;uniqueIndex:idx_message_states_unique,priority:3" json:"by"`
	ErrorCondition string    `gorm:"default:''" json:"error_condition,omitempty"`
	ErrorText      string    `gorm:"type:text;default:''" json:"error_text,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName specifies the table name for GORM.
func (MessageState) TableName() string {
	return "message_states"
}
