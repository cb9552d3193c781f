// Package stanza models XMPP message stanzas as a flat record with typed
// accessors over a generic element tree.
package stanza

import (
	"encoding/xml"
	"strings"
)

// Element is a generic XML element. Extensions the transformer does not know
// stay available through it untouched.
type Element struct {
	Name     xml.Name
	Attrs    []xml.Attr
	Children []*Element
	Text     string
}

// NewElement returns an empty element in namespace ns.
func NewElement(ns, local string, attrs ...xml.Attr) *Element {
	return &Element{Name: xml.Name{Space: ns, Local: local}, Attrs: attrs}
}

// Attr builds an attribute without namespace.
func Attr(name, value string) xml.Attr {
	return xml.Attr{Name: xml.Name{Local: name}, Value: value}
}

// UnmarshalXML implements xml.Unmarshaler.
func (e *Element) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	e.Name = start.Name
	e.Attrs = append(e.Attrs[:0], start.Attr...)
	var text strings.Builder
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child := &Element{}
			if err := child.UnmarshalXML(d, t); err != nil {
				return err
			}
			e.Children = append(e.Children, child)
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			e.Text = text.String()
			return nil
		}
	}
}

// Attr returns the value of the attribute with the given local name.
func (e *Element) Attr(name string) string {
	if e == nil {
		return ""
	}
	for _, a := range e.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// Is reports whether e is the element (ns, local).
func (e *Element) Is(ns, local string) bool {
	return e != nil && e.Name.Local == local && nsMatch(e.Name.Space, ns)
}

// Find returns the first child (ns, local), or nil.
func (e *Element) Find(ns, local string) *Element {
	if e == nil {
		return nil
	}
	for _, c := range e.Children {
		if c.Is(ns, local) {
			return c
		}
	}
	return nil
}

// FindAll returns every child (ns, local) in document order.
func (e *Element) FindAll(ns, local string) []*Element {
	if e == nil {
		return nil
	}
	var found []*Element
	for _, c := range e.Children {
		if c.Is(ns, local) {
			found = append(found, c)
		}
	}
	return found
}

// Add appends child and returns it.
func (e *Element) Add(child *Element) *Element {
	e.Children = append(e.Children, child)
	return child
}

// Elements without an in-scope default namespace are treated as jabber:client.
func nsMatch(have, want string) bool {
	return have == want || (want == NSClient && have == "")
}
