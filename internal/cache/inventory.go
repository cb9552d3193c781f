package cache

import (
	"context"
	"fmt"
	"time"
)

const (
	OverviewKeyPrefix = "parley:overview:%d"
	MessagesKeyPrefix = "parley:chat:%d:messages"

	// ChangesChannel carries ChangeEvents published after commits.
	ChangesChannel = "parley:changes"
)

const (
	DefaultOverviewTTL = 30 * time.Second
	MessagesTTL        = 2 * time.Minute
)

func OverviewKey(accountID uint) string {
	return fmt.Sprintf(OverviewKeyPrefix, accountID)
}

func MessagesKey(chatID uint) string {
	return fmt.Sprintf(MessagesKeyPrefix, chatID)
}

func InvalidateOverview(ctx context.Context, accountID uint) {
	Invalidate(ctx, OverviewKey(accountID))
}

// ChatKeys lists the keys a change to chatIDs of the account makes stale:
// the account overview and the message list of every chat.
func ChatKeys(accountID uint, chatIDs []uint) []string {
	keys := make([]string, 0, len(chatIDs)+1)
	keys = append(keys, OverviewKey(accountID))
	for _, id := range chatIDs {
		keys = append(keys, MessagesKey(id))
	}
	return keys
}
