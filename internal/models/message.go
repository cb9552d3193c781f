package models

import "time"

// Modification describes how far a message has been changed after it was sent.
// It only ever grows: ORIGINAL < CORRECTION < RETRACTION.
type Modification string

const (
	ModificationOriginal   Modification = "ORIGINAL"
	ModificationCorrection Modification = "CORRECTION"
	ModificationRetraction Modification = "RETRACTION"
)

// Rank orders modifications. Versions of a higher rank always supersede
// versions of a lower rank when the latest version is chosen.
func (m Modification) Rank() int {
	switch m {
	case ModificationCorrection:
		return 1
	case ModificationRetraction:
		return 2
	default:
		return 0
	}
}

// Max returns the stronger of two modifications.
func (m Modification) Max(other Modification) Modification {
	if other.Rank() > m.Rank() {
		return other
	}
	return m
}

// Message is one logical message of a chat. Stub messages exist only to anchor
// reactions, states, corrections or replies that arrived before the message
// itself; they become real when the message arrives and keep their id.
type Message struct {
	ID              uint         `gorm:"primaryKey" json:"id"`
	ChatID          uint         `gorm:"not null;index:idx_messages_chat_stanza,priority:1;index:idx_messages_chat_message,priority:1" json:"chat_id"`
	StanzaID        string       `gorm:"default:'';index:idx_messages_chat_stanza,priority:2" json:"stanza_id,omitempty"`
	MessageID       string       `gorm:"default:'';index:idx_messages_chat_message,priority:2" json:"message_id,omitempty"`
	SenderBare      string       `gorm:"default:''" json:"sender_bare,omitempty"`
	SenderAddress   string       `gorm:"default:''" json:"sender_address,omitempty"`
	OccupantID      string       `gorm:"default:'';index" json:"occupant_id,omitempty"`
	SentAt          time.Time    `gorm:"index" json:"sent_at"`
	ReceivedAt      time.Time    `json:"received_at"`
	Outgoing        bool         `gorm:"not null" json:"outgoing"`
	Stub            bool         `gorm:"not null;index" json:"stub"`
	Modification    Modification `gorm:"type:varchar(16);not null" json:"modification"`
	LatestVersionID *uint        `json:"latest_version_id,omitempty"`

	InReplyToID     *uint  `gorm:"index" json:"in_reply_to_id,omitempty"`
	InReplyToSender string `gorm:"default:''" json:"in_reply_to_sender,omitempty"`
	InReplyToBody   string `gorm:"type:text;default:''" json:"in_reply_to_body,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM.
func (Message) TableName() string {
	return "messages"
}

// SenderIdentity is the occupant id when known, otherwise the sender's bare
// address. An empty identity means the sender is unknown.
func (m *Message) SenderIdentity() string {
	if m.OccupantID != "" {
		return m.OccupantID
	}
	return m.SenderBare
}

// MessageVersion is one revision of a message. Versions are append only.
type MessageVersion struct {
	ID              uint         `gorm:"primaryKey" json:"id"`
	MessageID       uint         `gorm:"not null;index" json:"message_id"`
	Modification    Modification `gorm:"type:varchar(16);not null" json:"modification"`
	OriginMessageID string       `gorm:"default:''" json:"origin_message_id,omitempty"`
	OriginStanzaID  string       `gorm:"default:''" json:"origin_stanza_id,omitempty"`
	SentAt          time.Time    `json:"sent_at"`
	ReceivedAt      time.Time    `json:"received_at"`
	ReceivedOrder   int          `gorm:"not null" json:"received_order"`
	ByIdentity      string       `gorm:"default:''" json:"by_identity,omitempty"`
	Encryption      string       `gorm:"default:''" json:"encryption,omitempty"`
	IdentityKey     string       `gorm:"default:''" json:"identity_key,omitempty"`
}

// TableName specifies the table name for GORM.
func (MessageVersion) TableName() string {
	return "message_versions"
}

// Supersedes reports whether v sorts after other in the latest version order.
// The modification rank is the first key, so a correction always supersedes
// the original and a retraction supersedes both; within one rank the later
// sent_at wins, then the later received order.
func (v *MessageVersion) Supersedes(other *MessageVersion) bool {
	if a, b := v.Modification.Rank(), other.Modification.Rank(); a != b {
		return a > b
	}
	if !v.SentAt.Equal(other.SentAt) {
		return v.SentAt.After(other.SentAt)
	}
	if v.ReceivedOrder != other.ReceivedOrder {
		return v.ReceivedOrder > other.ReceivedOrder
	}
	return v.ID > other.ID
}

// PartType is the kind of a content part.
type PartType string

const (
	PartTypeText       PartType = "TEXT"
	PartTypeFile       PartType = "FILE"
	PartTypeRetraction PartType = "RETRACTION"
)

// MessageContent is one part of a version: text in one language, an attached
// file, or the marker that the message was retracted.
type MessageContent struct {
	ID        uint     `gorm:"primaryKey" json:"id"`
	VersionID uint     `gorm:"not null;index" json:"version_id"`
	Position  int      `gorm:"not null" json:"position"`
	Type      PartType `gorm:"type:varchar(16);not null" json:"type"`
	Language  string   `gorm:"default:''" json:"language,omitempty"`
	Body      string   `gorm:"type:text;default:''" json:"body,omitempty"`
	URL       string   `gorm:"default:''" json:"url,omitempty"`
}

// TableName specifies the table name for GORM.
func (MessageContent) TableName() string {
	return "message_contents"
}

// MessageWithContents is the read model of a message: its latest version's
// contents plus everything attached to it.
type MessageWithContents struct {
	Message
	Contents   []MessageContent     `json:"contents"`
	Reactions  []MessageReaction    `json:"reactions"`
	Aggregated []AggregatedReaction `json:"aggregated_reactions"`
	States     []MessageState       `json:"states"`
}

// TextBody returns the body of the first text part, or "".
func (m *MessageWithContents) TextBody() string {
	for _, c := range m.Contents {
		if c.Type == PartTypeText {
			return c.Body
		}
	}
	return ""
}
