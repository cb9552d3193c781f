package transformer

import (
	"context"
	"testing"
	"time"

	"parley/internal/models"
	"parley/internal/repository"
	"parley/internal/stanza"
	"parley/internal/testutil"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"mellium.im/xmpp/jid"
)

const (
	accountAddress = "romeo@montague.lit"
	juliet         = "juliet@capulet.lit"
	room           = "coven@chat.shakespeare.lit"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// MockDecryptor is a mock of the Decryptor interface
type MockDecryptor struct {
	mock.Mock
}

func (m *MockDecryptor) DecryptPayload(ctx context.Context, sender jid.JID, encrypted *stanza.Encrypted) (*ContentWrapper, error) {
	args := m.Called(ctx, sender, encrypted)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ContentWrapper), args.Error(1)
}

func (m *MockDecryptor) DecryptEmpty(ctx context.Context, sender jid.JID, encrypted *stanza.Encrypted) bool {
	args := m.Called(ctx, sender, encrypted)
	return args.Bool(0)
}

func (m *MockDecryptor) PostTransactionHook(ctx context.Context) {
	m.Called(ctx)
}

// MockNotifier is a mock of the ChangeNotifier interface
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) ChatsChanged(ctx context.Context, accountID uint, chatIDs []uint) {
	m.Called(ctx, accountID, chatIDs)
}

type fixture struct {
	store       *repository.Store
	account     *models.Account
	transformer *Transformer
	clock       time.Time
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store := repository.NewStore(testutil.NewTestDB(t))
	account, err := store.Accounts().GetOrCreate(context.Background(), accountAddress)
	require.NoError(t, err)
	tr, err := New(store, account, opts...)
	require.NoError(t, err)
	return &fixture{store: store, account: account, transformer: tr, clock: baseTime}
}

// live applies b as received on the stream, one second after the previous
// stanza.
func (f *fixture) live(t *testing.T, b *testutil.StanzaBuilder) bool {
	t.Helper()
	f.clock = f.clock.Add(time.Second)
	receipt, err := f.transformer.Transform(context.Background(),
		FromLive(testutil.Build(t, b), jid.MustParse(accountAddress), f.clock))
	require.NoError(t, err)
	return receipt
}

func (f *fixture) chat(t *testing.T, address string) *models.Chat {
	t.Helper()
	chat, err := f.store.Chats().GetByAddress(context.Background(), f.account.ID, address)
	require.NoError(t, err)
	return chat
}

func (f *fixture) messages(t *testing.T, address string) []models.MessageWithContents {
	t.Helper()
	messages, err := f.store.Messages().GetMessages(context.Background(), f.chat(t, address).ID)
	require.NoError(t, err)
	return messages
}

func (f *fixture) rows(t *testing.T, model interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.store.DB().Model(model).Count(&n).Error)
	return n
}

// firstMessageID returns the id of the oldest message row, stub or not.
func (f *fixture) firstMessageID(t *testing.T) uint {
	t.Helper()
	var msg models.Message
	require.NoError(t, f.store.DB().Order("id ASC").First(&msg).Error)
	return msg.ID
}

func fromJuliet(id string) *testutil.StanzaBuilder {
	return testutil.NewMessage(juliet+"/balcony", accountAddress, stanza.TypeChat, id)
}

func toJuliet(id string) *testutil.StanzaBuilder {
	return testutil.NewMessage(accountAddress+"/orchard", juliet, stanza.TypeChat, id)
}

// inRoom starts a group chat message from nick carrying the occupant id
// "occ-"+nick and the room's stanza id.
func inRoom(nick, id, stanzaID string) *testutil.StanzaBuilder {
	b := testutil.NewMessage(room+"/"+nick, accountAddress, stanza.TypeGroupchat, id).
		OccupantID("occ-" + nick)
	if stanzaID != "" {
		b.StanzaID(stanzaID, room)
	}
	return b
}
