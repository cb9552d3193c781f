package stanza

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mellium.im/xmpp/jid"
)

// Type is the type attribute of a message stanza (RFC 6121 section 5.2.2).
type Type string

const (
	TypeChat      Type = "chat"
	TypeError     Type = "error"
	TypeGroupchat Type = "groupchat"
	TypeHeadline  Type = "headline"
	TypeNormal    Type = "normal"
)

// Message is a read-only view of a <message/> stanza.
type Message struct {
	ID   string
	Type Type
	From jid.JID
	To   jid.JID
	Lang string

	el *Element
}

// FromElement builds a Message from a parsed <message/> element.
func FromElement(el *Element) (*Message, error) {
	if el == nil || el.Name.Local != "message" {
		return nil, errors.New("not a message stanza")
	}
	m := &Message{
		ID:   el.Attr("id"),
		Type: Type(el.Attr("type")),
		Lang: el.Attr("lang"),
		el:   el,
	}
	if m.Type == "" {
		m.Type = TypeNormal
	}
	var err error
	if m.From, err = parseAddress(el.Attr("from")); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	if m.To, err = parseAddress(el.Attr("to")); err != nil {
		return nil, fmt.Errorf("invalid to address: %w", err)
	}
	return m, nil
}

func parseAddress(s string) (jid.JID, error) {
	if s == "" {
		return jid.JID{}, nil
	}
	return jid.Parse(s)
}

// Element returns the underlying element tree.
func (m *Message) Element() *Element {
	return m.el
}

// Extension returns the first child (ns, local), or nil.
func (m *Message) Extension(ns, local string) *Element {
	return m.el.Find(ns, local)
}

// Body is a <body/> in one language.
type Body struct {
	Lang string
	Text string
}

// Bodies returns every body of the message.
func (m *Message) Bodies() []Body {
	var bodies []Body
	for _, b := range m.el.FindAll(NSClient, "body") {
		lang := b.Attr("lang")
		if lang == "" {
			lang = m.Lang
		}
		bodies = append(bodies, Body{Lang: lang, Text: b.Text})
	}
	return bodies
}

// Body returns the text of the first body, or "".
func (m *Message) Body() string {
	if b := m.el.Find(NSClient, "body"); b != nil {
		return b.Text
	}
	return ""
}

// OutOfBandURLs returns the urls of jabber:x:oob attachments.
func (m *Message) OutOfBandURLs() []string {
	var urls []string
	for _, x := range m.el.FindAll(NSOob, "x") {
		if u := x.Find(NSOob, "url"); u != nil && strings.TrimSpace(u.Text) != "" {
			urls = append(urls, strings.TrimSpace(u.Text))
		}
	}
	return urls
}

// Replace returns the id referenced by a last message correction, or "".
func (m *Message) Replace() string {
	return m.el.Find(NSCorrection, "replace").Attr("id")
}

// HasReplace reports whether the message carries a <replace/> element.
func (m *Message) HasReplace() bool {
	return m.el.Find(NSCorrection, "replace") != nil
}

// Retract returns the id referenced by a retraction, or "".
func (m *Message) Retract() string {
	return m.el.Find(NSRetract, "retract").Attr("id")
}

// HasRetract reports whether the message carries a <retract/> element.
func (m *Message) HasRetract() bool {
	return m.el.Find(NSRetract, "retract") != nil
}

// Reactions is the complete reaction set of one sender for one message.
type Reactions struct {
	ID     string
	Emojis []string
}

// Reactions returns the reactions bundle, or nil if there is none. Duplicate
// and empty reactions are dropped.
func (m *Message) Reactions() *Reactions {
	el := m.el.Find(NSReactions, "reactions")
	if el == nil {
		return nil
	}
	r := &Reactions{ID: el.Attr("id")}
	seen := make(map[string]bool)
	for _, c := range el.FindAll(NSReactions, "reaction") {
		emoji := strings.TrimSpace(c.Text)
		if emoji == "" || seen[emoji] {
			continue
		}
		seen[emoji] = true
		r.Emojis = append(r.Emojis, emoji)
	}
	return r
}

// Reply is a XEP-0461 reply reference.
type Reply struct {
	To string
	ID string
}

// Reply returns the reply reference, or nil.
func (m *Message) Reply() *Reply {
	el := m.el.Find(NSReply, "reply")
	if el == nil {
		return nil
	}
	return &Reply{To: el.Attr("to"), ID: el.Attr("id")}
}

// BodyWithoutFallback splits the first body into the text meant for clients
// that understand the extension ns and the fallback text covered by
// <fallback for=ns/>. Offsets count unicode code points.
func (m *Message) BodyWithoutFallback(ns string) (body, fallback string) {
	body = m.Body()
	runes := []rune(body)
	var cut [][2]int
	for _, fb := range m.el.FindAll(NSFallback, "fallback") {
		if fb.Attr("for") != ns {
			continue
		}
		for _, b := range fb.FindAll(NSFallback, "body") {
			start, err1 := strconv.Atoi(b.Attr("start"))
			end, err2 := strconv.Atoi(b.Attr("end"))
			if err1 != nil || err2 != nil || start < 0 || end > len(runes) || start >= end {
				continue
			}
			cut = append(cut, [2]int{start, end})
		}
	}
	if len(cut) == 0 {
		return body, ""
	}
	keep := make([]bool, len(runes))
	for i := range keep {
		keep[i] = true
	}
	var fb strings.Builder
	for _, c := range cut {
		fb.WriteString(string(runes[c[0]:c[1]]))
		for i := c[0]; i < c[1]; i++ {
			keep[i] = false
		}
	}
	var out strings.Builder
	for i, r := range runes {
		if keep[i] {
			out.WriteRune(r)
		}
	}
	return out.String(), fb.String()
}

// Encrypted is an Axolotl (legacy OMEMO) envelope.
type Encrypted struct {
	SenderDeviceID uint32
	Keys           []EncryptedKey
	IV             []byte
	Payload        []byte
}

// EncryptedKey is the message key encrypted for one recipient device.
type EncryptedKey struct {
	RecipientDeviceID uint32
	PreKey            bool
	Value             []byte
}

// HasPayload reports whether the envelope carries a message. Envelopes
// without payload only transport keys.
func (e *Encrypted) HasPayload() bool {
	return len(e.Payload) > 0
}

// Encrypted returns the Axolotl envelope, or nil if the message is not
// encrypted.
func (m *Message) Encrypted() (*Encrypted, error) {
	el := m.el.Find(NSAxolotl, "encrypted")
	if el == nil {
		return nil, nil
	}
	header := el.Find(NSAxolotl, "header")
	if header == nil {
		return nil, errors.New("encrypted element without header")
	}
	sid, err := strconv.ParseUint(header.Attr("sid"), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid sender device id: %w", err)
	}
	enc := &Encrypted{SenderDeviceID: uint32(sid)}
	for _, k := range header.FindAll(NSAxolotl, "key") {
		rid, err := strconv.ParseUint(k.Attr("rid"), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid recipient device id: %w", err)
		}
		value, err := decodeBase64(k.Text)
		if err != nil {
			return nil, fmt.Errorf("invalid key: %w", err)
		}
		enc.Keys = append(enc.Keys, EncryptedKey{
			RecipientDeviceID: uint32(rid),
			PreKey:            k.Attr("prekey") == "true" || k.Attr("prekey") == "1",
			Value:             value,
		})
	}
	if iv := header.Find(NSAxolotl, "iv"); iv != nil {
		if enc.IV, err = decodeBase64(iv.Text); err != nil {
			return nil, fmt.Errorf("invalid iv: %w", err)
		}
	}
	if payload := el.Find(NSAxolotl, "payload"); payload != nil {
		if enc.Payload, err = decodeBase64(payload.Text); err != nil {
			return nil, fmt.Errorf("invalid payload: %w", err)
		}
	}
	return enc, nil
}

func decodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(strings.Join(strings.Fields(s), ""))
}

// Displayed returns the id of a chat marker <displayed/>, or "".
func (m *Message) Displayed() string {
	return m.el.Find(NSChatMarkers, "displayed").Attr("id")
}

// Delivered returns the id confirmed by a delivery receipt or a <received/>
// chat marker, or "".
func (m *Message) Delivered() string {
	if id := m.el.Find(NSReceipts, "received").Attr("id"); id != "" {
		return id
	}
	return m.el.Find(NSChatMarkers, "received").Attr("id")
}

// RequestsReceipt reports whether the sender asked for a delivery receipt.
func (m *Message) RequestsReceipt() bool {
	return m.el.Find(NSReceipts, "request") != nil
}

// HasMucUser reports whether the message carries a MUC user extension, which
// marks private messages sent through a group chat.
func (m *Message) HasMucUser() bool {
	return m.el.Find(NSMucUser, "x") != nil
}

// StanzaID returns the XEP-0359 stanza id assigned by the archive at by, or
// "". Ids assigned by any other entity are not trusted.
func (m *Message) StanzaID(by jid.JID) string {
	for _, sid := range m.el.FindAll(NSStanzaID, "stanza-id") {
		assigner, err := jid.Parse(sid.Attr("by"))
		if err != nil {
			continue
		}
		if assigner.Bare().Equal(by.Bare()) {
			return sid.Attr("id")
		}
	}
	return ""
}

// OccupantID returns the XEP-0421 occupant id, or "".
func (m *Message) OccupantID() string {
	return m.el.Find(NSOccupantID, "occupant-id").Attr("id")
}

// Delay returns the time claimed by a XEP-0203 <delay/>.
func (m *Message) Delay() (time.Time, bool) {
	return parseDelay(m.el.Find(NSDelay, "delay"))
}

func parseDelay(el *Element) (time.Time, bool) {
	stamp := el.Attr("stamp")
	if stamp == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, stamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Error is the <error/> child of an error stanza.
type Error struct {
	Type      string
	Condition string
	Text      string
}

// Error returns the stanza error, or nil.
func (m *Message) Error() *Error {
	el := m.el.Find(NSClient, "error")
	if el == nil {
		return nil
	}
	e := &Error{Type: el.Attr("type")}
	for _, c := range el.Children {
		if c.Name.Space != NSStanzas {
			continue
		}
		if c.Name.Local == "text" {
			e.Text = strings.TrimSpace(c.Text)
		} else if e.Condition == "" {
			e.Condition = c.Name.Local
		}
	}
	return e
}
