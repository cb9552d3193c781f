package decrypt

import (
	"bytes"
	"context"
	"testing"
	"time"

	"parley/internal/models"
	"parley/internal/repository"
	"parley/internal/stanza"
	"parley/internal/testutil"
	"parley/internal/transformer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mellium.im/xmpp/jid"
)

var testKey = bytes.Repeat([]byte{7}, KeySize)

func TestNewPSKDecryptor(t *testing.T) {
	_, err := NewPSKDecryptor([]byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, _, err = Seal([]byte("short"), []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestPSKDecryptor_DecryptPayload(t *testing.T) {
	ctx := context.Background()
	d, err := NewPSKDecryptor(testKey)
	require.NoError(t, err)
	sender := jid.MustParse("juliet@capulet.lit/balcony")

	iv, payload, err := Seal(testKey, []byte("Parting is such sweet sorrow"))
	require.NoError(t, err)

	t.Run("Opens", func(t *testing.T) {
		w, err := d.DecryptPayload(ctx, sender, &stanza.Encrypted{SenderDeviceID: 42, IV: iv, Payload: payload})
		require.NoError(t, err)
		require.Len(t, w.Contents, 1)
		assert.Equal(t, "Parting is such sweet sorrow", w.Contents[0].Body)
		assert.Equal(t, models.PartTypeText, w.Contents[0].Type)
		assert.Equal(t, transformer.EncryptionAxolotl, w.Encryption)
		assert.Equal(t, "42", w.IdentityKey)
		assert.Equal(t, []uint32{42}, d.Devices(sender))
	})

	t.Run("WrongKey", func(t *testing.T) {
		other, err := NewPSKDecryptor(bytes.Repeat([]byte{1}, KeySize))
		require.NoError(t, err)
		_, err = other.DecryptPayload(ctx, sender, &stanza.Encrypted{IV: iv, Payload: payload})
		assert.ErrorIs(t, err, ErrOpen)
	})

	t.Run("BadIV", func(t *testing.T) {
		_, err := d.DecryptPayload(ctx, sender, &stanza.Encrypted{IV: iv[:12], Payload: payload})
		assert.Error(t, err)
	})

	t.Run("NoPayload", func(t *testing.T) {
		_, err := d.DecryptPayload(ctx, sender, &stanza.Encrypted{IV: iv})
		assert.Error(t, err)
	})
}

func TestPSKDecryptor_DecryptEmpty(t *testing.T) {
	ctx := context.Background()
	d, err := NewPSKDecryptor(testKey)
	require.NoError(t, err)
	sender := jid.MustParse("juliet@capulet.lit/balcony")

	assert.True(t, d.DecryptEmpty(ctx, sender, &stanza.Encrypted{SenderDeviceID: 7}))
	assert.False(t, d.DecryptEmpty(ctx, jid.MustParse("juliet@capulet.lit/garden"), &stanza.Encrypted{SenderDeviceID: 7}))
	assert.True(t, d.DecryptEmpty(ctx, sender, &stanza.Encrypted{SenderDeviceID: 8}))
	assert.False(t, d.DecryptEmpty(ctx, sender, nil))

	d.PostTransactionHook(ctx)
	assert.Empty(t, d.pending)
	assert.ElementsMatch(t, []uint32{7, 8}, d.Devices(sender))
}

func TestPSKDecryptor_WithTransformer(t *testing.T) {
	ctx := context.Background()
	store := repository.NewStore(testutil.NewTestDB(t))
	account, err := store.Accounts().GetOrCreate(ctx, "romeo@montague.lit")
	require.NoError(t, err)
	d, err := NewPSKDecryptor(testKey)
	require.NoError(t, err)
	tr, err := transformer.New(store, account, transformer.WithDecryptor(d))
	require.NoError(t, err)

	iv, payload, err := Seal(testKey, []byte("Good night, good night!"))
	require.NoError(t, err)
	msg := testutil.Build(t, testutil.NewMessage("juliet@capulet.lit/balcony", "romeo@montague.lit", stanza.TypeChat, "m1").
		Encrypted(42, iv, payload).
		Body("I sent you an OMEMO encrypted message"))

	receipt, err := tr.Transform(ctx, transformer.FromLive(msg, jid.MustParse("romeo@montague.lit"), time.Now()))
	require.NoError(t, err)
	assert.True(t, receipt)

	chat, err := store.Chats().GetByAddress(ctx, account.ID, "juliet@capulet.lit")
	require.NoError(t, err)
	messages, err := store.Messages().GetMessages(ctx, chat.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "Good night, good night!", messages[0].TextBody())
}
