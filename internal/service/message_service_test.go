package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"parley/internal/decrypt"
	"parley/internal/stanza"
	"parley/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fromRoom(archive string) string {
	return strings.Replace(archive, `<message xmlns="jabber:client"`,
		`<message xmlns="jabber:client" from="`+room+`"`, 1)
}

func TestMessageService_Ingest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	result := f.ingest(t, testutil.NewMessage(juliet+"/balcony", accountAddress, stanza.TypeChat, "m1").
		Body("O Romeo").RequestReceipt())
	assert.True(t, result.Receipt)
	assert.False(t, result.Archived)

	result = f.ingest(t, testutil.NewMessage(juliet+"/balcony", accountAddress, stanza.TypeChat, "m2").Displayed("m1"))
	assert.False(t, result.Receipt)

	messages, err := f.chats.Messages(ctx, f.chatID(t, juliet))
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "O Romeo", messages[0].TextBody())
	assert.Len(t, f.messages.transformers, 1)

	t.Run("Validation", func(t *testing.T) {
		tests := []struct {
			name    string
			account string
			raw     string
		}{
			{"Malformed", accountAddress, "<message"},
			{"NotAMessage", accountAddress, `<presence xmlns="jabber:client"/>`},
			{"ServerAccount", "montague.lit", testutil.NewMessage(juliet, accountAddress, stanza.TypeChat, "x").Body("hi").String()},
			{"InvalidAccount", "@@", testutil.NewMessage(juliet, accountAddress, stanza.TypeChat, "x").Body("hi").String()},
			{"BrokenArchiveResult", accountAddress, `<message xmlns="jabber:client"><result xmlns="` + stanza.NSMam + `" id="a"/></message>`},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := f.messages.Ingest(ctx, tt.account, strings.NewReader(tt.raw))
				requireAppError(t, err, "VALIDATION_ERROR")
			})
		}
	})
}

func TestMessageService_Ingest_ArchiveResult(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	stamp := time.Date(2024, 2, 29, 8, 0, 0, 0, time.UTC)

	raw := testutil.ArchiveResult(accountAddress, "q1", "mam-1", stamp,
		testutil.NewMessage(juliet+"/balcony", accountAddress, stanza.TypeChat, "m1").Body("from the archive").RequestReceipt())
	result, err := f.messages.Ingest(ctx, accountAddress, strings.NewReader(raw))
	require.NoError(t, err)
	assert.True(t, result.Archived)
	assert.False(t, result.Receipt)

	checkpoint, err := f.messages.Checkpoint(ctx, accountAddress, accountAddress)
	require.NoError(t, err)
	assert.Equal(t, "mam-1", checkpoint)

	messages, err := f.chats.Messages(ctx, f.chatID(t, juliet))
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.True(t, messages[0].SentAt.Equal(stamp))
}

func TestMessageService_IngestPage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	stamp := time.Date(2024, 2, 29, 8, 0, 0, 0, time.UTC)

	page := []string{
		fromRoom(testutil.ArchiveResult(accountAddress, "q2", "r-1", stamp,
			testutil.NewMessage(room+"/juliet", accountAddress, stanza.TypeGroupchat, "g1").OccupantID("occ-juliet").Body("hello coven"))),
		fromRoom(testutil.ArchiveResult(accountAddress, "q2", "r-2", stamp.Add(time.Minute),
			testutil.NewMessage(room+"/nurse", accountAddress, stanza.TypeGroupchat, "g2").OccupantID("occ-nurse").Reactions("r-1", "👋"))),
		fromRoom(testutil.ArchiveResult(accountAddress, "q2", "r-3", stamp.Add(2*time.Minute),
			testutil.NewMessage(room+"/juliet", accountAddress, stanza.TypeGroupchat, "g3").OccupantID("occ-juliet").Body("anyone?"))),
	}
	require.NoError(t, f.messages.IngestPage(ctx, accountAddress, page))

	checkpoint, err := f.messages.Checkpoint(ctx, accountAddress, room)
	require.NoError(t, err)
	assert.Equal(t, "r-3", checkpoint)

	messages, err := f.chats.Messages(ctx, f.chatID(t, room))
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "hello coven", messages[0].TextBody())
	require.Len(t, messages[0].Reactions, 1)
	assert.Equal(t, "occ-nurse", messages[0].Reactions[0].ByIdentity)

	t.Run("Empty", func(t *testing.T) {
		assert.NoError(t, f.messages.IngestPage(ctx, accountAddress, nil))
	})

	t.Run("MixedArchives", func(t *testing.T) {
		mixed := []string{
			page[0],
			testutil.ArchiveResult(accountAddress, "q3", "own-1", stamp,
				testutil.NewMessage(juliet, accountAddress, stanza.TypeChat, "c1").Body("hi")),
		}
		err := f.messages.IngestPage(ctx, accountAddress, mixed)
		requireAppError(t, err, "VALIDATION_ERROR")
	})

	t.Run("LiveStanza", func(t *testing.T) {
		err := f.messages.IngestPage(ctx, accountAddress, []string{
			testutil.NewMessage(juliet, accountAddress, stanza.TypeChat, "c2").Body("hi").String(),
		})
		requireAppError(t, err, "VALIDATION_ERROR")
	})
}

func TestMessageService_Decryption(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	key := []byte(strings.Repeat("k", decrypt.KeySize))
	decryptor, err := decrypt.NewPSKDecryptor(key)
	require.NoError(t, err)
	f.messages = NewMessageService(f.store, decryptor, nil)

	iv, payload, err := decrypt.Seal(key, []byte("a secret"))
	require.NoError(t, err)
	result := f.ingest(t, testutil.NewMessage(juliet+"/balcony", accountAddress, stanza.TypeChat, "e1").
		Encrypted(7, iv, payload))
	assert.True(t, result.Receipt)

	messages, err := f.chats.Messages(ctx, f.chatID(t, juliet))
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "a secret", messages[0].TextBody())
}
