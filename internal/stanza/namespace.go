package stanza

// XML namespaces of the extensions the transformer understands.
const (
	NSClient      = "jabber:client"
	NSStanzaID    = "urn:xmpp:sid:0"
	NSOccupantID  = "urn:xmpp:occupant-id:0"
	NSCorrection  = "urn:xmpp:message-correct:0"
	NSRetract     = "urn:xmpp:message-retract:0"
	NSReactions   = "urn:xmpp:reactions:0"
	NSReply       = "urn:xmpp:reply:0"
	NSFallback    = "urn:xmpp:fallback:0"
	NSReceipts    = "urn:xmpp:receipts"
	NSChatMarkers = "urn:xmpp:chat-markers:0"
	NSMucUser     = "http://jabber.org/protocol/muc#user"
	NSDelay       = "urn:xmpp:delay"
	NSForward     = "urn:xmpp:forward:0"
	NSMam         = "urn:xmpp:mam:2"
	NSAxolotl     = "eu.siacs.conversations.axolotl"
	NSOob         = "jabber:x:oob"
	NSStanzas     = "urn:ietf:params:xml:ns:xmpp-stanzas"
)
