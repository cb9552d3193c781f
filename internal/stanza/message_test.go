package stanza

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mellium.im/xmpp/jid"
)

func mustParse(t *testing.T, s string) *Message {
	t.Helper()
	m, err := ParseString(s)
	require.NoError(t, err)
	return m
}

func TestParse_Attributes(t *testing.T) {
	m := mustParse(t, `<message xmlns="jabber:client" from="juliet@example.com/balcony" to="romeo@example.net" id="m1" type="chat"><body>Art thou not Romeo?</body></message>`)

	assert.Equal(t, "m1", m.ID)
	assert.Equal(t, TypeChat, m.Type)
	assert.Equal(t, "juliet@example.com/balcony", m.From.String())
	assert.Equal(t, "juliet@example.com", m.From.Bare().String())
	assert.Equal(t, "romeo@example.net", m.To.String())
	assert.Equal(t, "Art thou not Romeo?", m.Body())
}

func TestParse_DefaultsAndErrors(t *testing.T) {
	t.Run("missing type is normal", func(t *testing.T) {
		m := mustParse(t, `<message from="a@example.com"/>`)
		assert.Equal(t, TypeNormal, m.Type)
		assert.True(t, m.To.Equal(jid.JID{}))
	})

	t.Run("not a message", func(t *testing.T) {
		_, err := ParseString(`<presence from="a@example.com"/>`)
		assert.Error(t, err)
	})

	t.Run("empty input", func(t *testing.T) {
		_, err := ParseString(``)
		assert.Error(t, err)
	})

	t.Run("invalid address", func(t *testing.T) {
		_, err := ParseString(`<message from="juliet@"/>`)
		assert.Error(t, err)
	})
}

func TestMessage_Extensions(t *testing.T) {
	m := mustParse(t, `<message xmlns="jabber:client" from="a@group.example.com/user-b" type="groupchat" id="r1">
		<reactions xmlns="urn:xmpp:reactions:0" id="stanza-a">
			<reaction>Y</reaction><reaction>Z</reaction><reaction>Y</reaction><reaction> </reaction>
		</reactions>
		<occupant-id xmlns="urn:xmpp:occupant-id:0" id="id-user-b"/>
		<stanza-id xmlns="urn:xmpp:sid:0" id="forged" by="evil.example.com"/>
		<stanza-id xmlns="urn:xmpp:sid:0" id="stanza-b" by="a@group.example.com"/>
		<replace xmlns="urn:xmpp:message-correct:0" id="orig"/>
		<retract xmlns="urn:xmpp:message-retract:0" id="gone"/>
		<delay xmlns="urn:xmpp:delay" stamp="1970-01-01T00:00:02Z"/>
		<request xmlns="urn:xmpp:receipts"/>
	</message>`)

	reactions := m.Reactions()
	require.NotNil(t, reactions)
	assert.Equal(t, "stanza-a", reactions.ID)
	assert.Equal(t, []string{"Y", "Z"}, reactions.Emojis)

	assert.Equal(t, "id-user-b", m.OccupantID())
	assert.Equal(t, "stanza-b", m.StanzaID(jid.MustParse("a@group.example.com")))
	assert.Equal(t, "", m.StanzaID(jid.MustParse("user@example.com")))
	assert.Equal(t, "orig", m.Replace())
	assert.True(t, m.HasReplace())
	assert.Equal(t, "gone", m.Retract())
	assert.True(t, m.HasRetract())
	assert.True(t, m.RequestsReceipt())
	assert.False(t, m.HasMucUser())

	delay, ok := m.Delay()
	assert.True(t, ok)
	assert.True(t, delay.Equal(time.UnixMilli(2000)))
}

func TestMessage_AbsentExtensions(t *testing.T) {
	m := mustParse(t, `<message from="a@example.com" id="1"><body>hi</body></message>`)

	assert.Nil(t, m.Reactions())
	assert.Nil(t, m.Reply())
	assert.Nil(t, m.Error())
	assert.Equal(t, "", m.Replace())
	assert.False(t, m.HasReplace())
	assert.Equal(t, "", m.Displayed())
	assert.Equal(t, "", m.Delivered())
	_, ok := m.Delay()
	assert.False(t, ok)
	enc, err := m.Encrypted()
	assert.NoError(t, err)
	assert.Nil(t, enc)
}

func TestMessage_Markers(t *testing.T) {
	t.Run("receipt", func(t *testing.T) {
		m := mustParse(t, `<message from="a@example.com"><received xmlns="urn:xmpp:receipts" id="1"/></message>`)
		assert.Equal(t, "1", m.Delivered())
	})
	t.Run("chat marker received", func(t *testing.T) {
		m := mustParse(t, `<message from="a@example.com"><received xmlns="urn:xmpp:chat-markers:0" id="2"/></message>`)
		assert.Equal(t, "2", m.Delivered())
	})
	t.Run("displayed", func(t *testing.T) {
		m := mustParse(t, `<message from="a@example.com"><displayed xmlns="urn:xmpp:chat-markers:0" id="3"/></message>`)
		assert.Equal(t, "3", m.Displayed())
	})
}

func TestMessage_ReplyFallback(t *testing.T) {
	m := mustParse(t, `<message from="a@example.com" id="2">
		<body>&gt; Anna wrote:
&gt; Hi
Hello back</body>
		<reply xmlns="urn:xmpp:reply:0" to="anna@example.com/laptop" id="1"/>
		<fallback xmlns="urn:xmpp:fallback:0" for="urn:xmpp:reply:0"><body start="0" end="19"/></fallback>
	</message>`)

	reply := m.Reply()
	require.NotNil(t, reply)
	assert.Equal(t, "1", reply.ID)
	assert.Equal(t, "anna@example.com/laptop", reply.To)

	body, fallback := m.BodyWithoutFallback(NSReply)
	assert.Equal(t, "Hello back", body)
	assert.Equal(t, "> Anna wrote:\n> Hi\n", fallback)

	t.Run("other namespace leaves body untouched", func(t *testing.T) {
		body, fallback := m.BodyWithoutFallback(NSReactions)
		assert.Equal(t, m.Body(), body)
		assert.Empty(t, fallback)
	})
}

func TestMessage_Encrypted(t *testing.T) {
	m := mustParse(t, `<message from="a@example.com" id="e1">
		<encrypted xmlns="eu.siacs.conversations.axolotl">
			<header sid="42"><key rid="7" prekey="true">AQID</key><iv>BAUG</iv></header>
			<payload>BwgJ</payload>
		</encrypted>
	</message>`)

	enc, err := m.Encrypted()
	require.NoError(t, err)
	require.NotNil(t, enc)
	assert.Equal(t, uint32(42), enc.SenderDeviceID)
	require.Len(t, enc.Keys, 1)
	assert.Equal(t, uint32(7), enc.Keys[0].RecipientDeviceID)
	assert.True(t, enc.Keys[0].PreKey)
	assert.Equal(t, []byte{1, 2, 3}, enc.Keys[0].Value)
	assert.Equal(t, []byte{4, 5, 6}, enc.IV)
	assert.True(t, enc.HasPayload())

	t.Run("key transport", func(t *testing.T) {
		m := mustParse(t, `<message from="a@example.com"><encrypted xmlns="eu.siacs.conversations.axolotl"><header sid="1"><key rid="2">AQID</key></header></encrypted></message>`)
		enc, err := m.Encrypted()
		require.NoError(t, err)
		assert.False(t, enc.HasPayload())
	})

	t.Run("broken header", func(t *testing.T) {
		m := mustParse(t, `<message from="a@example.com"><encrypted xmlns="eu.siacs.conversations.axolotl"><header sid="x"/></encrypted></message>`)
		_, err := m.Encrypted()
		assert.Error(t, err)
	})
}

func TestMessage_Error(t *testing.T) {
	m := mustParse(t, `<message xmlns="jabber:client" from="juliet@example.com" type="error" id="1">
		<error type="cancel">
			<service-unavailable xmlns="urn:ietf:params:xml:ns:xmpp-stanzas"/>
			<text xmlns="urn:ietf:params:xml:ns:xmpp-stanzas">Recipient offline</text>
		</error>
	</message>`)

	e := m.Error()
	require.NotNil(t, e)
	assert.Equal(t, "cancel", e.Type)
	assert.Equal(t, "service-unavailable", e.Condition)
	assert.Equal(t, "Recipient offline", e.Text)
}

func TestMessage_OutOfBand(t *testing.T) {
	m := mustParse(t, `<message from="a@example.com"><body>https://files.example.com/cat.jpg</body><x xmlns="jabber:x:oob"><url>https://files.example.com/cat.jpg</url></x></message>`)
	assert.Equal(t, []string{"https://files.example.com/cat.jpg"}, m.OutOfBandURLs())
}

func TestMessage_ArchiveResult(t *testing.T) {
	m := mustParse(t, `<message xmlns="jabber:client" to="user@example.com/phone" from="user@example.com">
		<result xmlns="urn:xmpp:mam:2" queryid="q1" id="28482-98726-73623">
			<forwarded xmlns="urn:xmpp:forward:0">
				<delay xmlns="urn:xmpp:delay" stamp="2010-07-10T23:08:25Z"/>
				<message xmlns="jabber:client" from="juliet@example.com/balcony" to="user@example.com" type="chat" id="m9">
					<body>Call me but love</body>
				</message>
			</forwarded>
		</result>
	</message>`)

	res, err := m.ArchiveResult()
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "q1", res.QueryID)
	assert.Equal(t, "28482-98726-73623", res.ID)
	assert.True(t, res.HasDelay)
	assert.True(t, res.Delay.Equal(time.Date(2010, 7, 10, 23, 8, 25, 0, time.UTC)))
	assert.Equal(t, "m9", res.Message.ID)
	assert.Equal(t, "Call me but love", res.Message.Body())

	t.Run("plain message is not a result", func(t *testing.T) {
		res, err := mustParse(t, `<message from="a@example.com"/>`).ArchiveResult()
		assert.NoError(t, err)
		assert.Nil(t, res)
	})
}
