// Package validation checks client supplied addresses and bookmarks before
// they reach the store.
package validation

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"parley/internal/models"

	"mellium.im/xmpp/jid"
)

// maxNickLength is the resourcepart limit of RFC 7622.
const maxNickLength = 1023

// ValidateAccountAddress validates that address is a bare JID with a localpart.
func ValidateAccountAddress(address string) error {
	addr, err := jid.Parse(strings.TrimSpace(address))
	if err != nil {
		return fmt.Errorf("address %q is not a valid JID", address)
	}
	if addr.Localpart() == "" {
		return fmt.Errorf("address %q has no localpart", address)
	}
	if addr.Resourcepart() != "" {
		return fmt.Errorf("address %q must not carry a resource", address)
	}
	return nil
}

// ValidateNick validates a room nickname. An empty nick is allowed.
func ValidateNick(nick string) error {
	if nick == "" {
		return nil
	}
	if !utf8.ValidString(nick) {
		return fmt.Errorf("nick must be valid UTF-8")
	}
	if len(nick) > maxNickLength {
		return fmt.Errorf("nick must be at most %d bytes", maxNickLength)
	}
	if strings.TrimSpace(nick) != nick {
		return fmt.Errorf("nick cannot start or end with whitespace")
	}
	for _, r := range nick {
		if unicode.IsControl(r) {
			return fmt.Errorf("nick cannot contain control characters")
		}
	}
	return nil
}

// ValidateBookmarks validates every bookmark and rejects two bookmarks for
// the same room.
func ValidateBookmarks(bookmarks []models.Bookmark) error {
	seen := make(map[string]struct{}, len(bookmarks))
	for _, b := range bookmarks {
		if err := ValidateAccountAddress(b.Address); err != nil {
			return fmt.Errorf("bookmark: %w", err)
		}
		if err := ValidateNick(b.Nick); err != nil {
			return fmt.Errorf("bookmark %s: %w", b.Address, err)
		}
		key := strings.ToLower(jid.MustParse(strings.TrimSpace(b.Address)).Bare().String())
		if _, dup := seen[key]; dup {
			return fmt.Errorf("duplicate bookmark for %s", key)
		}
		seen[key] = struct{}{}
	}
	return nil
}
