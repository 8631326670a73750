package metadata

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"dstransfer/pkg/types"
)

// Field is one immediate child of a shallow document. Present is false when
// the child contained elements of its own; such children keep their place in
// the key order but carry no value.
type Field struct {
	Name    string
	Value   string
	Present bool
}

// Document is a flat view of an XML document: the root's immediate children
// in document order.
type Document struct {
	root   string
	fields []Field
}

// ParseShallow reads r and returns the immediate children of its root
// element. The root's local name must equal root. Namespaces are ignored;
// element text is trimmed.
func ParseShallow(r io.Reader, root string) (*Document, error) {
	dec := xml.NewDecoder(r)

	start, err := firstElement(dec)
	if err != nil {
		return nil, err
	}
	if start.Name.Local != root {
		return nil, fmt.Errorf("%w: got <%s>, want <%s>", types.ErrUnexpectedRoot, start.Name.Local, root)
	}

	doc := &Document{root: root}
	var (
		depth   = 1
		current *Field
		text    strings.Builder
	)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil, fmt.Errorf("unexpected end of document inside <%s>", root)
		}
		if err != nil {
			return nil, fmt.Errorf("parse <%s>: %w", root, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth == 2 {
				current = &Field{Name: t.Name.Local, Present: true}
				text.Reset()
			} else if current != nil {
				current.Present = false
			}
		case xml.CharData:
			if depth == 2 && current != nil {
				text.Write(t)
			}
		case xml.EndElement:
			depth--
			switch depth {
			case 1:
				if current.Present {
					current.Value = strings.TrimSpace(text.String())
				}
				doc.fields = append(doc.fields, *current)
				current = nil
			case 0:
				return doc, nil
			}
		}
	}
}

func firstElement(dec *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return xml.StartElement{}, errors.New("empty document")
		}
		if err != nil {
			return xml.StartElement{}, fmt.Errorf("parse document: %w", err)
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start, nil
		}
	}
}

func (d *Document) Root() string {
	return d.root
}

// Get returns the value of the last child named key. ok is false when there
// is no such child or when that child had nested elements.
func (d *Document) Get(key string) (value string, ok bool) {
	for i := len(d.fields) - 1; i >= 0; i-- {
		if d.fields[i].Name == key {
			return d.fields[i].Value, d.fields[i].Present
		}
	}
	return "", false
}

// All returns every present value for key in document order.
func (d *Document) All(key string) []string {
	var values []string
	for _, f := range d.fields {
		if f.Name == key && f.Present {
			values = append(values, f.Value)
		}
	}
	return values
}

// Keys returns the distinct child names in first-seen order.
func (d *Document) Keys() []string {
	seen := make(map[string]bool, len(d.fields))
	keys := make([]string, 0, len(d.fields))
	for _, f := range d.fields {
		if !seen[f.Name] {
			seen[f.Name] = true
			keys = append(keys, f.Name)
		}
	}
	return keys
}

// Fields returns a copy of the children in document order.
func (d *Document) Fields() []Field {
	return append([]Field(nil), d.fields...)
}
