// Package decrypt provides a Decryptor for development setups. It opens
// Axolotl shaped envelopes whose payload was sealed with a key shared by all
// devices, which is enough to exercise encrypted traffic end to end without a
// real OMEMO session store.
package decrypt

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"parley/internal/models"
	"parley/internal/observability"
	"parley/internal/stanza"
	"parley/internal/transformer"

	"golang.org/x/crypto/nacl/secretbox"
	"mellium.im/xmpp/jid"
)

// KeySize is the length of the pre-shared key.
const KeySize = 32

const nonceSize = 24

var (
	// ErrInvalidKey is returned for keys that are not KeySize bytes long.
	ErrInvalidKey = errors.New("pre-shared key must be 32 bytes")
	// ErrOpen is returned when a payload does not authenticate.
	ErrOpen = errors.New("payload does not authenticate")
)

// PSKDecryptor implements transformer.Decryptor with a pre-shared key. It
// tracks the devices it has seen key transport from and reports newly seen
// devices from PostTransactionHook.
type PSKDecryptor struct {
	key [KeySize]byte

	mu      sync.Mutex
	devices map[string]map[uint32]bool
	pending []string
}

var _ transformer.Decryptor = (*PSKDecryptor)(nil)

// NewPSKDecryptor returns a decryptor for key.
func NewPSKDecryptor(key []byte) (*PSKDecryptor, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	d := &PSKDecryptor{devices: make(map[string]map[uint32]bool)}
	copy(d.key[:], key)
	return d, nil
}

// DecryptPayload opens the payload of encrypted. The plaintext becomes a
// single text part; the sender device id serves as identity key.
func (d *PSKDecryptor) DecryptPayload(ctx context.Context, sender jid.JID, encrypted *stanza.Encrypted) (*transformer.ContentWrapper, error) {
	if encrypted == nil || !encrypted.HasPayload() {
		return nil, errors.New("envelope without payload")
	}
	nonce, err := nonceFrom(encrypted.IV)
	if err != nil {
		return nil, err
	}
	plain, ok := secretbox.Open(nil, encrypted.Payload, &nonce, &d.key)
	if !ok {
		return nil, ErrOpen
	}
	d.remember(sender, encrypted.SenderDeviceID)

	return &transformer.ContentWrapper{
		Contents:    []models.MessageContent{{Type: models.PartTypeText, Body: string(plain)}},
		Encryption:  transformer.EncryptionAxolotl,
		IdentityKey: strconv.FormatUint(uint64(encrypted.SenderDeviceID), 10),
	}, nil
}

// DecryptEmpty records the sending device and reports whether it was new.
func (d *PSKDecryptor) DecryptEmpty(ctx context.Context, sender jid.JID, encrypted *stanza.Encrypted) bool {
	if encrypted == nil {
		return false
	}
	return d.remember(sender, encrypted.SenderDeviceID)
}

// PostTransactionHook logs the devices first seen since the previous call.
func (d *PSKDecryptor) PostTransactionHook(ctx context.Context) {
	d.mu.Lock()
	pending := d.pending
	d.pending = nil
	d.mu.Unlock()

	for _, device := range pending {
		observability.GlobalLogger.InfoContext(ctx, "new encryption device",
			slog.String("device", device),
		)
	}
}

// Devices returns the device ids seen for the bare address of sender.
func (d *PSKDecryptor) Devices(sender jid.JID) []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	var ids []uint32
	for id := range d.devices[sender.Bare().String()] {
		ids = append(ids, id)
	}
	return ids
}

func (d *PSKDecryptor) remember(sender jid.JID, device uint32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	bare := sender.Bare().String()
	if d.devices[bare] == nil {
		d.devices[bare] = make(map[uint32]bool)
	}
	if d.devices[bare][device] {
		return false
	}
	d.devices[bare][device] = true
	d.pending = append(d.pending, fmt.Sprintf("%s#%d", bare, device))
	return true
}

// Seal encrypts plaintext for PSKDecryptor and returns the iv and payload to
// put into the envelope.
func Seal(key, plaintext []byte) (iv, payload []byte, err error) {
	if len(key) != KeySize {
		return nil, nil, ErrInvalidKey
	}
	var k [KeySize]byte
	copy(k[:], key)
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return nonce[:], secretbox.Seal(nil, plaintext, &nonce, &k), nil
}

func nonceFrom(iv []byte) ([nonceSize]byte, error) {
	var nonce [nonceSize]byte
	if len(iv) != nonceSize {
		return nonce, fmt.Errorf("iv must be %d bytes, got %d", nonceSize, len(iv))
	}
	copy(nonce[:], iv)
	return nonce, nil
}
