package models

import (
	"sort"
	"time"
)

// MessageReaction is one emoji of the reaction set a sender holds on a message.
type MessageReaction struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	MessageID  uint      `gorm:"not null;uniqueIndex:idx_message_reactions_unique,priority:1" json:"message_id"`
	ByIdentity string    `gorm:"not null;uniqueIndex:idx_message_reactions_unique,priority:2" json:"by"`
	Emoji      string    `gorm:"not null;uniqueIndex:idx_message_reactions_unique,priority:3" json:"reaction"`
	ByAddress  string    `gorm:"default:''" json:"by_address,omitempty"`
	StanzaID   string    `gorm:"default:''" json:"stanza_id,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// TableName specifies the table name for GORM.
func (MessageReaction) TableName() string {
	return "message_reactions"
}

// AggregatedReaction is the number of senders that reacted with Emoji.
type AggregatedReaction struct {
	Emoji string `json:"reaction"`
	Count int    `json:"count"`
}

// AggregateReactions counts reactions per emoji, most frequent first and
// alphabetical among equals.
func AggregateReactions(reactions []MessageReaction) []AggregatedReaction {
	counts := make(map[string]int)
	for _, r := range reactions {
		counts[r.Emoji]++
	}
	aggregated := make([]AggregatedReaction, 0, len(counts))
	for emoji, count := range counts {
		aggregated = append(aggregated, AggregatedReaction{Emoji: emoji, Count: count})
	}
	sort.Slice(aggregated, func(i, j int) bool {
		if aggregated[i].Count != aggregated[j].Count {
			return aggregated[i].Count > aggregated[j].Count
		}
		return aggregated[i].Emoji < aggregated[j].Emoji
	})
	return aggregated
}
