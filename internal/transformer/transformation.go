// Package transformer reduces incoming message stanzas, live or from an
// archive, into the stored conversation model. Every stanza is applied in one
// transaction and the result does not depend on the order stanzas arrive in.
package transformer

import (
	"errors"
	"time"

	"parley/internal/stanza"

	"mellium.im/xmpp/jid"
)

// Transformation is one stanza ready to be applied.
type Transformation struct {
	Message    *stanza.Message
	StanzaID   string
	SentAt     time.Time
	ReceivedAt time.Time
	// Archived is set for stanzas retrieved from an archive.
	Archived bool
}

// FromLive wraps a stanza received on the stream of account. The stanza id
// is only trusted when it was assigned by the archive the message is stored
// in: the room for group chat messages, the account otherwise.
func FromLive(msg *stanza.Message, account jid.JID, receivedAt time.Time) *Transformation {
	archive := account.Bare()
	if msg.Type == stanza.TypeGroupchat {
		archive = msg.From.Bare()
	}
	sentAt := receivedAt
	if delay, ok := msg.Delay(); ok {
		sentAt = delay
	}
	return &Transformation{
		Message:    msg,
		StanzaID:   msg.StanzaID(archive),
		SentAt:     sentAt,
		ReceivedAt: receivedAt,
	}
}

// FromArchive unwraps a stanza delivered as an archive query result.
func FromArchive(result *stanza.Result, receivedAt time.Time) (*Transformation, error) {
	if result == nil || result.Message == nil {
		return nil, errors.New("empty archive result")
	}
	sentAt := receivedAt
	if result.HasDelay {
		sentAt = result.Delay
	} else if delay, ok := result.Message.Delay(); ok {
		sentAt = delay
	}
	return &Transformation{
		Message:    result.Message,
		StanzaID:   result.ID,
		SentAt:     sentAt,
		ReceivedAt: receivedAt,
		Archived:   true,
	}, nil
}
