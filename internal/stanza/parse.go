package stanza

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Parse decodes the first <message/> element from r.
func Parse(r io.Reader) (*Message, error) {
	d := xml.NewDecoder(r)
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			return nil, errors.New("no message element found")
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read stanza: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		el := &Element{}
		if err := el.UnmarshalXML(d, start); err != nil {
			return nil, fmt.Errorf("failed to decode stanza: %w", err)
		}
		return FromElement(el)
	}
}

// ParseString decodes a message stanza from s.
func ParseString(s string) (*Message, error) {
	return Parse(strings.NewReader(s))
}

// Result is a XEP-0313 archive result: a forwarded message together with the
// archive's stanza id and the time the archive received it.
type Result struct {
	QueryID  string
	ID       string
	Delay    time.Time
	Message  *Message
	HasDelay bool
}

// ArchiveResult unwraps a MAM <result/>, or returns nil if m is not one.
func (m *Message) ArchiveResult() (*Result, error) {
	res := m.el.Find(NSMam, "result")
	if res == nil {
		return nil, nil
	}
	fwd := res.Find(NSForward, "forwarded")
	if fwd == nil {
		return nil, errors.New("archive result without forwarded element")
	}
	inner := fwd.Find(NSClient, "message")
	if inner == nil {
		return nil, errors.New("archive result without message")
	}
	msg, err := FromElement(inner)
	if err != nil {
		return nil, err
	}
	delay, ok := parseDelay(fwd.Find(NSDelay, "delay"))
	return &Result{
		QueryID:  res.Attr("queryid"),
		ID:       res.Attr("id"),
		Delay:    delay,
		HasDelay: ok,
		Message:  msg,
	}, nil
}
