package stanza

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"strings"
	"time"
)

// Builder assembles the XML of a message stanza.
type Builder struct {
	from, to, typ, id string
	children          []string
	pendingFallback   string
}

// NewBuilder starts a message stanza. Empty attributes are omitted.
func NewBuilder(from, to string, typ Type, id string) *Builder {
	return &Builder{from: from, to: to, typ: string(typ), id: id}
}

func escape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

func (b *Builder) add(format string, args ...interface{}) *Builder {
	b.children = append(b.children, fmt.Sprintf(format, args...))
	return b
}

// Body adds a body in the stanza's default language.
func (b *Builder) Body(text string) *Builder {
	return b.add("<body>%s</body>", escape(text))
}

// LangBody adds a body with an explicit xml:lang.
func (b *Builder) LangBody(lang, text string) *Builder {
	return b.add(`<body xml:lang="%s">%s</body>`, escape(lang), escape(text))
}

func (b *Builder) StanzaID(id, by string) *Builder {
	return b.add(`<stanza-id xmlns="%s" id="%s" by="%s"/>`, NSStanzaID, escape(id), escape(by))
}

func (b *Builder) OccupantID(id string) *Builder {
	return b.add(`<occupant-id xmlns="%s" id="%s"/>`, NSOccupantID, escape(id))
}

func (b *Builder) MucUser() *Builder {
	return b.add(`<x xmlns="%s"/>`, NSMucUser)
}

func (b *Builder) Replace(id string) *Builder {
	return b.add(`<replace xmlns="%s" id="%s"/>`, NSCorrection, escape(id))
}

func (b *Builder) Retract(id string) *Builder {
	return b.add(`<retract xmlns="%s" id="%s"/>`, NSRetract, escape(id))
}

func (b *Builder) Reactions(id string, emojis ...string) *Builder {
	var sb strings.Builder
	for _, e := range emojis {
		sb.WriteString("<reaction>" + escape(e) + "</reaction>")
	}
	return b.add(`<reactions xmlns="%s" id="%s">%s</reactions>`, NSReactions, escape(id), sb.String())
}

// Reply adds a reply reference. A non-empty quote is prepended to the body
// as fallback, so Reply must be called before Body.
func (b *Builder) Reply(to, id, quote string) *Builder {
	b.add(`<reply xmlns="%s" to="%s" id="%s"/>`, NSReply, escape(to), escape(id))
	if quote == "" {
		return b
	}
	fallback := "> " + quote + "\n"
	b.add(`<fallback xmlns="%s" for="%s"><body start="0" end="%d"/></fallback>`,
		NSFallback, NSReply, len([]rune(fallback)))
	b.pendingFallback = fallback
	return b
}

func (b *Builder) Displayed(id string) *Builder {
	return b.add(`<displayed xmlns="%s" id="%s"/>`, NSChatMarkers, escape(id))
}

func (b *Builder) Received(id string) *Builder {
	return b.add(`<received xmlns="%s" id="%s"/>`, NSReceipts, escape(id))
}

func (b *Builder) RequestReceipt() *Builder {
	return b.add(`<request xmlns="%s"/>`, NSReceipts)
}

func (b *Builder) Delay(at time.Time) *Builder {
	return b.add(`<delay xmlns="%s" stamp="%s"/>`, NSDelay, at.UTC().Format(time.RFC3339))
}

func (b *Builder) OutOfBand(url string) *Builder {
	return b.add(`<x xmlns="%s"><url>%s</url></x>`, NSOob, escape(url))
}

// Error adds a stanza error with the given defined condition.
func (b *Builder) Error(condition, text string) *Builder {
	inner := fmt.Sprintf(`<%s xmlns="%s"/>`, condition, NSStanzas)
	if text != "" {
		inner += fmt.Sprintf(`<text xmlns="%s">%s</text>`, NSStanzas, escape(text))
	}
	return b.add(`<error type="cancel">%s</error>`, inner)
}

// Encrypted adds an Axolotl envelope. A nil payload builds a key transport
// envelope.
func (b *Builder) Encrypted(senderDevice uint32, iv, payload []byte) *Builder {
	enc := base64.StdEncoding.EncodeToString
	body := ""
	if payload != nil {
		body = fmt.Sprintf("<payload>%s</payload>", enc(payload))
	}
	return b.add(`<encrypted xmlns="%s"><header sid="%d"><key rid="1">%s</key><iv>%s</iv></header>%s</encrypted>`,
		NSAxolotl, senderDevice, enc([]byte("key")), enc(iv), body)
}

// Raw adds an arbitrary child element.
func (b *Builder) Raw(xmlText string) *Builder {
	return b.add("%s", xmlText)
}

// String renders the stanza.
func (b *Builder) String() string {
	var sb strings.Builder
	sb.WriteString(`<message xmlns="jabber:client"`)
	for _, a := range [][2]string{{"from", b.from}, {"to", b.to}, {"type", b.typ}, {"id", b.id}} {
		if a[1] != "" {
			fmt.Fprintf(&sb, ` %s="%s"`, a[0], escape(a[1]))
		}
	}
	sb.WriteString(">")
	quoted := b.pendingFallback == ""
	for _, c := range b.children {
		if !quoted && strings.HasPrefix(c, "<body>") {
			c = "<body>" + escape(b.pendingFallback) + strings.TrimPrefix(c, "<body>")
			quoted = true
		}
		sb.WriteString(c)
	}
	sb.WriteString("</message>")
	return sb.String()
}

// Message parses the rendered stanza.
func (b *Builder) Message() (*Message, error) {
	return ParseString(b.String())
}

// ArchiveResultXML wraps inner in a XEP-0313 result delivered to account
// from archive. An empty archive is the account's own archive.
func ArchiveResultXML(account, archive, queryID, id string, stamp time.Time, inner *Builder) string {
	from := ""
	if archive != "" {
		from = fmt.Sprintf(` from="%s"`, escape(archive))
	}
	return fmt.Sprintf(`<message xmlns="jabber:client"%s to="%s"><result xmlns="%s" queryid="%s" id="%s"><forwarded xmlns="%s"><delay xmlns="%s" stamp="%s"/>%s</forwarded></result></message>`,
		from, escape(account), NSMam, escape(queryID), escape(id), NSForward, NSDelay,
		stamp.UTC().Format(time.RFC3339), inner.String())
}
