// onixmirror - ONIX Catalog Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/onixmirror

// Package onix parses catalog XML into a namespace-free element tree and
// flattens ONIX Product elements into relational rows.
package onix

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
)

// ErrEmptyDocument is returned when the input holds no element at all.
var ErrEmptyDocument = errors.New("xml document has no root element")

// Node is one XML element. Name is the local name; the namespace is kept
// apart in Space so that matching never depends on prefixes.
type Node struct {
	Name     string
	Space    string
	Text     string
	Children []*Node
}

// IsLeaf reports whether n has no child elements.
func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0
}

// Child returns the first direct child named local, or nil.
func (n *Node) Child(local string) *Node {
	for _, c := range n.Children {
		if c.Name == local {
			return c
		}
	}
	return nil
}

// Find returns the first descendant named local in document order, or nil.
func (n *Node) Find(local string) *Node {
	for _, c := range n.Children {
		if c.Name == local {
			return c
		}
		if found := c.Find(local); found != nil {
			return found
		}
	}
	return nil
}

// FindAll returns every descendant named local. It does not descend into matches.
func (n *Node) FindAll(local string) []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.Name == local {
			out = append(out, c)
			continue
		}
		out = append(out, c.FindAll(local)...)
	}
	return out
}

// TrimmedText returns Text without surrounding whitespace.
func (n *Node) TrimmedText() string {
	return strings.TrimSpace(n.Text)
}

// Parse decodes a whole document. Non UTF-8 encodings declared in the
// prolog are converted.
func Parse(r io.Reader) (*Node, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel

	var (
		root  *Node
		stack []*Node
		text  [][]byte
	)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			n := &Node{Name: t.Name.Local, Space: t.Name.Space}
			if len(stack) == 0 {
				if root != nil {
					return nil, fmt.Errorf("decode xml: second root element <%s>", t.Name.Local)
				}
				root = n
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, n)
			}
			stack = append(stack, n)
			text = append(text, nil)
		case xml.EndElement:
			top := len(stack) - 1
			stack[top].Text = string(text[top])
			stack = stack[:top]
			text = text[:top]
		case xml.CharData:
			if len(stack) > 0 {
				text[len(text)-1] = append(text[len(text)-1], t...)
			}
		}
	}

	if root == nil {
		return nil, ErrEmptyDocument
	}
	return root, nil
}

// ParseBytes is Parse over a byte slice.
func ParseBytes(b []byte) (*Node, error) {
	return Parse(bytes.NewReader(b))
}
