// Package service provides the read side of the conversation store and the
// ingest path that feeds stanzas into the transformer.
package service

import (
	"context"
	"time"

	"parley/internal/cache"
	"parley/internal/models"
	"parley/internal/repository"
	"parley/internal/validation"
)

// ChatService provides chat listing, message listing, bookmark and group
// chat state operations for one store.
type ChatService struct {
	accountRepo repository.AccountRepository
	chatRepo    repository.ChatRepository
	messageRepo repository.MessageRepository
	overviewTTL time.Duration
}

// NewChatService returns a new ChatService. A non-positive overviewTTL uses
// cache.DefaultOverviewTTL.
func NewChatService(
	accountRepo repository.AccountRepository,
	chatRepo repository.ChatRepository,
	messageRepo repository.MessageRepository,
	overviewTTL time.Duration,
) *ChatService {
	if overviewTTL <= 0 {
		overviewTTL = cache.DefaultOverviewTTL
	}
	return &ChatService{
		accountRepo: accountRepo,
		chatRepo:    chatRepo,
		messageRepo: messageRepo,
		overviewTTL: overviewTTL,
	}
}

// Overview returns the unarchived chats of the account, most recent first.
func (s *ChatService) Overview(ctx context.Context, address string) ([]models.ChatOverviewItem, error) {
	account, err := s.accountRepo.GetByAddress(ctx, address)
	if err != nil {
		return nil, err
	}

	var items []models.ChatOverviewItem
	err = cache.Aside(ctx, "overview", cache.OverviewKey(account.ID), &items, s.overviewTTL, func() error {
		var fetchErr error
		items, fetchErr = s.chatRepo.GetOverview(ctx, account.ID)
		return fetchErr
	})
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []models.ChatOverviewItem{}
	}
	return items, nil
}

// Messages returns the real messages of a chat in display order.
func (s *ChatService) Messages(ctx context.Context, chatID uint) ([]models.MessageWithContents, error) {
	if _, err := s.chatRepo.GetByID(ctx, chatID); err != nil {
		return nil, err
	}

	var messages []models.MessageWithContents
	err := cache.Aside(ctx, "messages", cache.MessagesKey(chatID), &messages, cache.MessagesTTL, func() error {
		var fetchErr error
		messages, fetchErr = s.messageRepo.GetMessages(ctx, chatID)
		return fetchErr
	})
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []models.MessageWithContents{}
	}
	return messages, nil
}

// Bookmarks returns the stored group chat bookmarks of the account.
func (s *ChatService) Bookmarks(ctx context.Context, address string) ([]models.Bookmark, error) {
	account, err := s.accountRepo.GetByAddress(ctx, address)
	if err != nil {
		return nil, err
	}
	bookmarks, err := s.chatRepo.GetBookmarks(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	if bookmarks == nil {
		bookmarks = []models.Bookmark{}
	}
	return bookmarks, nil
}

// SyncBookmarks replaces the bookmarks of the account and archives or
// unarchives its group chats to match.
func (s *ChatService) SyncBookmarks(ctx context.Context, address string, bookmarks []models.Bookmark) error {
	if err := validation.ValidateAccountAddress(address); err != nil {
		return models.NewValidationError(err.Error())
	}
	if err := validation.ValidateBookmarks(bookmarks); err != nil {
		return models.NewValidationError(err.Error())
	}
	account, err := s.accountRepo.GetOrCreate(ctx, address)
	if err != nil {
		return err
	}
	if err := s.chatRepo.SyncWithBookmarks(ctx, account.ID, bookmarks); err != nil {
		return err
	}
	cache.InvalidateOverview(ctx, account.ID)
	return nil
}

// SetMucState records the join state of a group chat.
func (s *ChatService) SetMucState(ctx context.Context, chatID uint, state models.MucState, condition string) error {
	switch state {
	case models.MucStateAvailable, models.MucStateShutdown, models.MucStateError, models.MucStateNone:
	default:
		return models.NewValidationError("unknown muc state " + string(state))
	}

	chat, err := s.chatRepo.GetByID(ctx, chatID)
	if err != nil {
		return err
	}
	if !chat.Kind.IsMuc() {
		return models.NewValidationError("chat is not a group chat")
	}
	if err := s.chatRepo.SetMucState(ctx, chatID, state, condition); err != nil {
		return err
	}
	cache.InvalidateOverview(ctx, chat.AccountID)
	return nil
}

// ResetMucStates forgets the join state of every group chat of the account,
// as done after the stream reconnects.
func (s *ChatService) ResetMucStates(ctx context.Context, address string) error {
	account, err := s.accountRepo.GetByAddress(ctx, address)
	if err != nil {
		return err
	}
	if err := s.chatRepo.ResetMucStates(ctx, account.ID); err != nil {
		return err
	}
	cache.InvalidateOverview(ctx, account.ID)
	return nil
}
