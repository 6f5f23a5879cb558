// onixmirror - ONIX Catalog Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/onixmirror

package catalog

import (
	"strings"

	"github.com/tomtom215/onixmirror/internal/onix"
)

// parseResponse parses body and turns an <error> element of the response
// namespace (or of no namespace) into a *ContentError.
func parseResponse(op string, body []byte, namespace string) (*Document, error) {
	root, err := onix.ParseBytes(body)
	if err != nil {
		return nil, &ContentError{Op: op, Message: "malformed response", Err: err}
	}
	if e := findError(root, namespace); e != nil {
		return nil, &ContentError{Op: op, Message: errorMessage(e)}
	}
	return &Document{Raw: body, Root: root}, nil
}

func findError(n *onix.Node, namespace string) *onix.Node {
	if n.Name == "error" && (n.Space == namespace || n.Space == "") {
		return n
	}
	for _, c := range n.Children {
		if found := findError(c, namespace); found != nil {
			return found
		}
	}
	return nil
}

// errorMessage joins the texts of an <error> element, e.g. its code and description.
func errorMessage(e *onix.Node) string {
	if e.IsLeaf() {
		if msg := e.TrimmedText(); msg != "" {
			return msg
		}
		return "catalog returned an error"
	}
	var parts []string
	var collect func(n *onix.Node)
	collect = func(n *onix.Node) {
		if n.IsLeaf() {
			if t := n.TrimmedText(); t != "" {
				parts = append(parts, t)
			}
			return
		}
		for _, c := range n.Children {
			collect(c)
		}
	}
	collect(e)
	if len(parts) == 0 {
		return "catalog returned an error"
	}
	return strings.Join(parts, ": ")
}

// IDs returns the trimmed text of every <record><id> below the first element
// named section, in document order. An empty section searches the whole document.
func IDs(root *onix.Node, section string) []string {
	s := root
	if section != "" {
		if s = root.Find(section); s == nil {
			return nil
		}
	}
	var ids []string
	for _, rec := range s.FindAll("record") {
		if id := rec.Child("id"); id != nil {
			if v := id.TrimmedText(); v != "" {
				ids = append(ids, v)
			}
		}
	}
	return ids
}
