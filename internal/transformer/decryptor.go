package transformer

import (
	"context"
	"errors"

	"parley/internal/models"
	"parley/internal/repository"
	"parley/internal/stanza"

	"mellium.im/xmpp/jid"
)

var (
	// ErrDecryptionFailed wraps errors reported by the Decryptor.
	ErrDecryptionFailed = errors.New("decryption failed")
	// ErrInvalidExtension marks a reaction, correction or reply without a target id.
	ErrInvalidExtension = errors.New("extension without target id")
	// ErrIdentityMismatch marks a correction or retraction by someone other
	// than the author.
	ErrIdentityMismatch = repository.ErrIdentityMismatch
	// ErrUnidentifiableSender marks a stanza whose sender identity is unknown.
	ErrUnidentifiableSender = repository.ErrUnidentifiableSender
)

// EncryptionAxolotl names content decrypted from an Axolotl envelope.
const EncryptionAxolotl = "AXOLOTL"

// ContentWrapper is the decoded content of a message.
type ContentWrapper struct {
	Contents    []models.MessageContent
	Encryption  string
	IdentityKey string
}

// IsEmpty reports whether there is no content part.
func (w *ContentWrapper) IsEmpty() bool {
	return w == nil || len(w.Contents) == 0
}

// Decryptor opens end-to-end encrypted messages. Implementations own their
// key material; the transformer only hands over envelopes.
type Decryptor interface {
	// DecryptPayload opens an envelope carrying a message.
	DecryptPayload(ctx context.Context, sender jid.JID, encrypted *stanza.Encrypted) (*ContentWrapper, error)
	// DecryptEmpty processes an envelope that only transports keys and
	// reports whether session state advanced.
	DecryptEmpty(ctx context.Context, sender jid.JID, encrypted *stanza.Encrypted) bool
	// PostTransactionHook runs deferred work after a transformation commits.
	PostTransactionHook(ctx context.Context)
}

// ChangeNotifier is told which chats of an account changed after a commit.
type ChangeNotifier interface {
	ChatsChanged(ctx context.Context, accountID uint, chatIDs []uint)
}
