package cache

import (
	"context"
	"encoding/json"
	"log/slog"

	"parley/internal/observability"

	"github.com/redis/go-redis/v9"
)

// ChangeEvent tells subscribers which chats of an account changed.
type ChangeEvent struct {
	AccountID uint   `json:"account_id"`
	ChatIDs   []uint `json:"chat_ids"`
}

// Feed invalidates cached reads and publishes a ChangeEvent whenever the
// transformer commits changes.
type Feed struct {
	client *redis.Client
}

// NewFeed returns a Feed on c. A nil client uses the package client.
func NewFeed(c *redis.Client) *Feed {
	return &Feed{client: c}
}

func (f *Feed) redis() *redis.Client {
	if f.client != nil {
		return f.client
	}
	return client
}

// ChatsChanged implements the transformer's ChangeNotifier. Failures are
// logged; the committed transformation stands.
func (f *Feed) ChatsChanged(ctx context.Context, accountID uint, chatIDs []uint) {
	rdb := f.redis()
	if rdb == nil {
		return
	}
	ctx, span := observability.StartRedisSpan(ctx, "PUBLISH", ChangesChannel)
	defer span.End()

	if err := rdb.Del(ctx, ChatKeys(accountID, chatIDs)...).Err(); err != nil {
		observability.LogAfterCommitError(ctx, "cache_invalidate", err, "account_id", accountID)
	}

	payload, err := json.Marshal(ChangeEvent{AccountID: accountID, ChatIDs: chatIDs})
	if err != nil {
		return
	}
	if err := rdb.Publish(ctx, ChangesChannel, payload).Err(); err != nil {
		observability.LogAfterCommitError(ctx, "change_publish", err, "account_id", accountID)
	}
}

// Subscribe delivers ChangeEvents until ctx is done. The returned channel is
// closed afterwards.
func (f *Feed) Subscribe(ctx context.Context) (<-chan ChangeEvent, error) {
	rdb := f.redis()
	if rdb == nil {
		return nil, redis.ErrClosed
	}
	sub := rdb.Subscribe(ctx, ChangesChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	events := make(chan ChangeEvent)
	go func() {
		defer close(events)
		defer func() { _ = sub.Close() }()
		messages := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var event ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					observability.GlobalLogger.WarnContext(ctx, "malformed change event",
						slog.String("payload", msg.Payload))
					continue
				}
				select {
				case events <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return events, nil
}
