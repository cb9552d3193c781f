package testutil

import (
	"testing"
	"time"

	"parley/internal/stanza"
)

// StanzaBuilder assembles the XML of a message stanza.
type StanzaBuilder = stanza.Builder

// NewMessage starts a message stanza. Empty attributes are omitted.
func NewMessage(from, to string, typ stanza.Type, id string) *StanzaBuilder {
	return stanza.NewBuilder(from, to, typ, id)
}

// Build parses the stanza, failing the test on error.
func Build(t testing.TB, b *StanzaBuilder) *stanza.Message {
	t.Helper()
	msg, err := b.Message()
	if err != nil {
		t.Fatalf("Failed to parse stanza %s: %v", b.String(), err)
	}
	return msg
}

// ArchiveResult wraps inner in a XEP-0313 result from the own archive of account.
func ArchiveResult(account, queryID, id string, stamp time.Time, inner *StanzaBuilder) string {
	return stanza.ArchiveResultXML(account, "", queryID, id, stamp, inner)
}
