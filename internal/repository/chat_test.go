package repository

import (
	"context"
	"testing"
	"time"

	"parley/internal/models"
	"parley/internal/stanza"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mellium.im/xmpp/jid"
)

func TestClassify(t *testing.T) {
	remote := jid.MustParse("coven@chat.shakespeare.lit/thirdwitch")

	tests := []struct {
		name        string
		typ         stanza.Type
		isMuc       bool
		wantKind    models.ChatKind
		wantAddress string
	}{
		{"Groupchat", stanza.TypeGroupchat, false, models.ChatKindMuc, "coven@chat.shakespeare.lit"},
		{"GroupchatWithMucUser", stanza.TypeGroupchat, true, models.ChatKindMuc, "coven@chat.shakespeare.lit"},
		{"PrivateChat", stanza.TypeChat, true, models.ChatKindMucPm, "coven@chat.shakespeare.lit/thirdwitch"},
		{"PrivateNormal", stanza.TypeNormal, true, models.ChatKindMucPm, "coven@chat.shakespeare.lit/thirdwitch"},
		{"Chat", stanza.TypeChat, false, models.ChatKindIndividual, "coven@chat.shakespeare.lit"},
		{"Headline", stanza.TypeHeadline, true, models.ChatKindIndividual, "coven@chat.shakespeare.lit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, address := Classify(remote, tt.typ, tt.isMuc)
			assert.Equal(t, tt.wantKind, kind)
			assert.Equal(t, tt.wantAddress, address)
		})
	}
}

func TestChatRepository(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	repo := store.Chats()
	account, err := store.Accounts().GetOrCreate(ctx, accountAddress)
	require.NoError(t, err)

	t.Run("GetOrCreate", func(t *testing.T) {
		remote := jid.MustParse("juliet@capulet.lit/balcony")
		chat, err := repo.GetOrCreate(ctx, account.ID, remote, stanza.TypeChat, false)
		require.NoError(t, err)
		assert.Equal(t, "juliet@capulet.lit", chat.Address)
		assert.Equal(t, models.ChatKindIndividual, chat.Kind)
		assert.True(t, chat.Archived)

		again, err := repo.GetOrCreate(ctx, account.ID, jid.MustParse("juliet@capulet.lit/garden"), stanza.TypeChat, false)
		require.NoError(t, err)
		assert.Equal(t, chat.ID, again.ID)
	})

	t.Run("SetArchived", func(t *testing.T) {
		chat, err := repo.GetOrCreate(ctx, account.ID, jid.MustParse("nurse@capulet.lit"), stanza.TypeChat, false)
		require.NoError(t, err)

		require.NoError(t, repo.SetArchived(ctx, chat.ID, false))
		require.NoError(t, repo.SetArchived(ctx, chat.ID, false))

		fetched, err := repo.GetByID(ctx, chat.ID)
		require.NoError(t, err)
		assert.False(t, fetched.Archived)
	})

	t.Run("MucState", func(t *testing.T) {
		chat, err := repo.GetOrCreate(ctx, account.ID, jid.MustParse("coven@chat.shakespeare.lit"), stanza.TypeGroupchat, false)
		require.NoError(t, err)

		require.NoError(t, repo.SetMucState(ctx, chat.ID, models.MucStateError, "forbidden"))
		fetched, _ := repo.GetByID(ctx, chat.ID)
		assert.Equal(t, models.MucStateError, fetched.MucState)
		assert.Equal(t, "forbidden", fetched.MucErrorCondition)

		require.NoError(t, repo.SetMucState(ctx, chat.ID, models.MucStateAvailable, "ignored"))
		fetched, _ = repo.GetByID(ctx, chat.ID)
		assert.Equal(t, models.MucStateAvailable, fetched.MucState)
		assert.Empty(t, fetched.MucErrorCondition)

		require.NoError(t, repo.ResetMucStates(ctx, account.ID))
		fetched, _ = repo.GetByID(ctx, chat.ID)
		assert.Equal(t, models.MucStateNone, fetched.MucState)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.GetByID(ctx, 9999)
		var appErr *models.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, "NOT_FOUND", appErr.Code)
	})
}

func TestChatRepository_SyncWithBookmarks(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	repo := store.Chats()
	account, err := store.Accounts().GetOrCreate(ctx, accountAddress)
	require.NoError(t, err)

	forgotten, err := repo.GetOrCreate(ctx, account.ID, jid.MustParse("old@chat.shakespeare.lit"), stanza.TypeGroupchat, false)
	require.NoError(t, err)
	require.NoError(t, repo.SetArchived(ctx, forgotten.ID, false))

	err = repo.SyncWithBookmarks(ctx, account.ID, []models.Bookmark{
		{Address: "coven@chat.shakespeare.lit", Name: "Coven", Nick: "thirdwitch", Autojoin: true},
		{Address: "library@chat.shakespeare.lit", Autojoin: false},
	})
	require.NoError(t, err)

	coven, err := repo.GetByAddress(ctx, account.ID, "coven@chat.shakespeare.lit")
	require.NoError(t, err)
	assert.False(t, coven.Archived)
	assert.Equal(t, models.ChatKindMuc, coven.Kind)

	_, err = repo.GetByAddress(ctx, account.ID, "library@chat.shakespeare.lit")
	assert.Error(t, err)

	fetched, err := repo.GetByID(ctx, forgotten.ID)
	require.NoError(t, err)
	assert.True(t, fetched.Archived)

	bookmarks, err := repo.GetBookmarks(ctx, account.ID)
	require.NoError(t, err)
	require.Len(t, bookmarks, 2)
	assert.Equal(t, "coven@chat.shakespeare.lit", bookmarks[0].Address)
	assert.Equal(t, "thirdwitch", bookmarks[0].Nick)

	t.Run("RemovesStaleBookmarks", func(t *testing.T) {
		require.NoError(t, repo.SyncWithBookmarks(ctx, account.ID, nil))

		bookmarks, err := repo.GetBookmarks(ctx, account.ID)
		require.NoError(t, err)
		assert.Empty(t, bookmarks)

		coven, err := repo.GetByAddress(ctx, account.ID, "coven@chat.shakespeare.lit")
		require.NoError(t, err)
		assert.True(t, coven.Archived)
	})

	t.Run("RejectsInvalidAddress", func(t *testing.T) {
		err := repo.SyncWithBookmarks(ctx, account.ID, []models.Bookmark{{Address: "juliet@"}})
		var appErr *models.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, "VALIDATION_ERROR", appErr.Code)
	})
}

func TestChatRepository_GetOverview(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	repo := store.Chats()

	quiet := createChat(t, store, "quiet@capulet.lit", models.ChatKindIndividual)
	julietChat := createChat(t, store, juliet, models.ChatKindIndividual)
	coven := createChat(t, store, room, models.ChatKindMuc)
	hidden := createChat(t, store, "hidden@capulet.lit", models.ChatKindIndividual)
	for _, c := range []*models.Chat{quiet, julietChat, coven} {
		require.NoError(t, repo.SetArchived(ctx, c.ID, false))
	}

	storeMessage(t, store, julietChat, incoming("1", "", baseTime), "first")
	storeMessage(t, store, julietChat, outgoing("2", "", baseTime.Add(2*time.Minute)), "latest")
	storeMessage(t, store, coven, occupant("user-a", "m1", "a", baseTime.Add(time.Minute)), "coven says")
	storeMessage(t, store, hidden, incoming("h", "", baseTime.Add(time.Hour)), "hidden")
	// A stub must not count as activity.
	_, err := store.Messages().InsertState(ctx, coven, Reference{StanzaID: "future"},
		&models.MessageState{Kind: models.StateDisplayed, ByIdentity: "user-b"})
	require.NoError(t, err)

	items, err := repo.GetOverview(ctx, quiet.AccountID)
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, julietChat.ID, items[0].ChatID)
	assert.Equal(t, "latest", items[0].Body)
	assert.True(t, items[0].Outgoing)
	assert.Equal(t, accountAddress, items[0].Sender)

	assert.Equal(t, coven.ID, items[1].ChatID)
	assert.Equal(t, "coven says", items[1].Body)
	assert.Equal(t, models.ChatKindMuc, items[1].Kind)

	assert.Equal(t, quiet.ID, items[2].ChatID)
	assert.Nil(t, items[2].MessageID)
	assert.Empty(t, items[2].Body)
}
