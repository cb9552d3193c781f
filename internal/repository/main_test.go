package repository

import (
	"context"
	"testing"
	"time"

	"parley/internal/models"
	"parley/internal/testutil"

	"github.com/stretchr/testify/require"
)

const accountAddress = "romeo@montague.lit"

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(testutil.NewTestDB(t))
}

func createChat(t *testing.T, store *Store, address string, kind models.ChatKind) *models.Chat {
	t.Helper()
	ctx := context.Background()
	account, err := store.Accounts().GetOrCreate(ctx, accountAddress)
	require.NoError(t, err)
	chat := &models.Chat{AccountID: account.ID, Address: address, Kind: kind, Archived: true}
	require.NoError(t, store.DB().Create(chat).Error)
	return chat
}

func textParts(body string) []models.MessageContent {
	return []models.MessageContent{{Type: models.PartTypeText, Body: body}}
}

// storeMessage stores an original message with a text body.
func storeMessage(t *testing.T, store *Store, chat *models.Chat, view *MessageView, body string) *MessageIdentifier {
	t.Helper()
	ctx := context.Background()
	id, err := store.Messages().GetOrCreateMessage(ctx, chat, view)
	require.NoError(t, err)
	if !id.Duplicate {
		require.NoError(t, store.Messages().InsertContents(ctx, id.VersionID, textParts(body)))
	}
	return id
}

func storeCorrection(t *testing.T, store *Store, chat *models.Chat, view *MessageView, target, body string) *MessageIdentifier {
	t.Helper()
	ctx := context.Background()
	id, err := store.Messages().GetOrCreateVersion(ctx, chat, view, target, models.ModificationCorrection)
	require.NoError(t, err)
	if !id.Duplicate {
		require.NoError(t, store.Messages().InsertContents(ctx, id.VersionID, textParts(body)))
	}
	return id
}

func listMessages(t *testing.T, store *Store, chat *models.Chat) []models.MessageWithContents {
	t.Helper()
	messages, err := store.Messages().GetMessages(context.Background(), chat.ID)
	require.NoError(t, err)
	return messages
}

func countRows(t *testing.T, store *Store, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, store.DB().Model(model).Where(query, args...).Count(&n).Error)
	return n
}
