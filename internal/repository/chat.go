package repository

import (
	"context"
	"errors"

	"parley/internal/models"
	"parley/internal/observability"
	"parley/internal/stanza"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"mellium.im/xmpp/jid"
)

// ChatRepository defines the interface for chat data operations
type ChatRepository interface {
	GetOrCreate(ctx context.Context, accountID uint, remote jid.JID, typ stanza.Type, isMuc bool) (*models.Chat, error)
	GetByID(ctx context.Context, id uint) (*models.Chat, error)
	GetByAddress(ctx context.Context, accountID uint, address string) (*models.Chat, error)
	SetArchived(ctx context.Context, id uint, archived bool) error
	SetMucState(ctx context.Context, id uint, state models.MucState, errorCondition string) error
	ResetMucStates(ctx context.Context, accountID uint) error
	SyncWithBookmarks(ctx context.Context, accountID uint, bookmarks []models.Bookmark) error
	GetBookmarks(ctx context.Context, accountID uint) ([]models.Bookmark, error)
	GetOverview(ctx context.Context, accountID uint) ([]models.ChatOverviewItem, error)
}

// chatRepository implements ChatRepository
type chatRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewChatRepository creates a new chat repository
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db, log: observability.NewRepoLogger("chats")}
}

// Classify returns the kind of the chat a stanza of type typ from remote
// belongs to, and the address the chat is stored under.
func Classify(remote jid.JID, typ stanza.Type, isMuc bool) (models.ChatKind, string) {
	switch {
	case typ == stanza.TypeGroupchat:
		return models.ChatKindMuc, remote.Bare().String()
	case (typ == stanza.TypeChat || typ == stanza.TypeNormal) && isMuc:
		return models.ChatKindMucPm, remote.String()
	default:
		return models.ChatKindIndividual, remote.Bare().String()
	}
}

func (r *chatRepository) GetOrCreate(ctx context.Context, accountID uint, remote jid.JID, typ stanza.Type, isMuc bool) (*models.Chat, error) {
	kind, address := Classify(remote, typ, isMuc)
	return r.getOrCreate(ctx, accountID, address, kind)
}

func (r *chatRepository) getOrCreate(ctx context.Context, accountID uint, address string, kind models.ChatKind) (*models.Chat, error) {
	chat := models.Chat{
		AccountID: accountID,
		Address:   address,
		Kind:      kind,
		Archived:  true,
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&chat)
	if res.Error != nil {
		r.log.LogError(ctx, res.Error, "get_or_create")
		return nil, res.Error
	}
	if res.RowsAffected > 0 {
		r.log.LogCreate(ctx, "chat_id", chat.ID, "kind", kind)
	}
	return r.GetByAddress(ctx, accountID, address)
}

func (r *chatRepository) GetByID(ctx context.Context, id uint) (*models.Chat, error) {
	var chat models.Chat
	if err := r.db.WithContext(ctx).First(&chat, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Chat", id)
		}
		return nil, err
	}
	return &chat, nil
}

func (r *chatRepository) GetByAddress(ctx context.Context, accountID uint, address string) (*models.Chat, error) {
	var chat models.Chat
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND address = ?", accountID, address).
		First(&chat).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Chat", address)
		}
		return nil, err
	}
	return &chat, nil
}

func (r *chatRepository) SetArchived(ctx context.Context, id uint, archived bool) error {
	res := r.db.WithContext(ctx).Model(&models.Chat{}).
		Where("id = ? AND archived = ?", id, !archived).
		Update("archived", archived)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		r.log.LogUpdate(ctx, "chat_id", id, "archived", archived)
	}
	return nil
}

func (r *chatRepository) SetMucState(ctx context.Context, id uint, state models.MucState, errorCondition string) error {
	if state != models.MucStateError {
		errorCondition = ""
	}
	return r.db.WithContext(ctx).Model(&models.Chat{}).
		Where("id = ? AND kind = ?", id, models.ChatKindMuc).
		Updates(map[string]interface{}{"muc_state": state, "muc_error_condition": errorCondition}).Error
}

// ResetMucStates forgets the join state of every group chat of the account.
func (r *chatRepository) ResetMucStates(ctx context.Context, accountID uint) error {
	return r.db.WithContext(ctx).Model(&models.Chat{}).
		Where("account_id = ? AND kind = ?", accountID, models.ChatKindMuc).
		Updates(map[string]interface{}{"muc_state": models.MucStateNone, "muc_error_condition": ""}).Error
}

// SyncWithBookmarks replaces the stored bookmarks of the account. Group chats
// without a bookmark are archived; autojoin bookmarks get an unarchived chat.
func (r *chatRepository) SyncWithBookmarks(ctx context.Context, accountID uint, bookmarks []models.Bookmark) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRepo := &chatRepository{db: tx, log: r.log}

		stored := make([]models.Bookmark, 0, len(bookmarks))
		addresses := make([]string, 0, len(bookmarks))
		for _, b := range bookmarks {
			addr, err := jid.Parse(b.Address)
			if err != nil {
				return models.NewValidationError("invalid bookmark address " + b.Address)
			}
			b.ID = 0
			b.AccountID = accountID
			b.Address = addr.Bare().String()
			stored = append(stored, b)
			addresses = append(addresses, b.Address)
		}

		stale := tx.Where("account_id = ?", accountID)
		if len(addresses) > 0 {
			stale = stale.Where("address NOT IN ?", addresses)
		}
		if err := stale.Delete(&models.Bookmark{}).Error; err != nil {
			return err
		}
		if len(stored) > 0 {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "account_id"}, {Name: "address"}},
				DoUpdates: clause.AssignmentColumns([]string{"name", "nick", "autojoin"}),
			}).Create(&stored).Error
			if err != nil {
				return err
			}
		}

		unbookmarked := tx.Model(&models.Chat{}).
			Where("account_id = ? AND kind = ? AND archived = ?", accountID, models.ChatKindMuc, false)
		if len(addresses) > 0 {
			unbookmarked = unbookmarked.Where("address NOT IN ?", addresses)
		}
		if err := unbookmarked.Update("archived", true).Error; err != nil {
			return err
		}

		for _, b := range stored {
			if !b.Autojoin {
				continue
			}
			chat, err := txRepo.getOrCreate(ctx, accountID, b.Address, models.ChatKindMuc)
			if err != nil {
				return err
			}
			if err := txRepo.SetArchived(ctx, chat.ID, false); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *chatRepository) GetBookmarks(ctx context.Context, accountID uint) ([]models.Bookmark, error) {
	var bookmarks []models.Bookmark
	err := r.db.WithContext(ctx).Where("account_id = ?", accountID).Order("address ASC").Find(&bookmarks).Error
	return bookmarks, err
}

// GetOverview lists the unarchived chats of the account, most recently
// active first, each with its newest real message.
func (r *chatRepository) GetOverview(ctx context.Context, accountID uint) ([]models.ChatOverviewItem, error) {
	ctx, span := observability.StartStoreSpan(ctx, "GetOverview", "chats")
	defer span.End()
	defer observability.TrackQuery("overview", "chats")()

	var items []models.ChatOverviewItem
	err := r.db.WithContext(ctx).Raw(`
		SELECT c.id AS chat_id, c.address, c.kind, c.muc_state,
			m.id AS message_id,
			COALESCE(m.sender_address, '') AS sender,
			COALESCE(m.outgoing, ?) AS outgoing,
			COALESCE(m.modification, '') AS modification,
			m.received_at
		FROM chats c
		LEFT JOIN messages m ON m.id = (
			SELECT m2.id FROM messages m2
			WHERE m2.chat_id = c.id AND m2.stub = ?
			ORDER BY m2.received_at DESC, m2.id DESC
			LIMIT 1
		)
		WHERE c.account_id = ? AND c.archived = ?
		ORDER BY m.received_at IS NULL, m.received_at DESC, c.id ASC`,
		false, false, accountID, false,
	).Scan(&items).Error
	if err != nil {
		observability.FailSpan(span, err)
		return nil, err
	}

	var ids []uint
	for _, item := range items {
		if item.MessageID != nil {
			ids = append(ids, *item.MessageID)
		}
	}
	bodies, err := latestBodies(ctx, r.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].MessageID != nil {
			items[i].Body = bodies[*items[i].MessageID]
		}
	}
	return items, nil
}
