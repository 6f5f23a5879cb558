// onixmirror - ONIX Catalog Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/onixmirror

package onix

import (
	"strings"
)

// ValueSeparator joins repeated leaf values that share one column.
const ValueSeparator = " ; "

// PathSeparator joins element names into a column key.
const PathSeparator = "_"

// reserved column names owned by the store. Leaf keys that collide get a suffix.
var reserved = map[string]struct{}{
	"id":         {},
	"identifier": {},
}

// Row is one row destined for a dynamic table.
type Row struct {
	Table      string
	Identifier string
	Columns    map[string]string
}

// Flattener turns Product trees into rows. It holds only immutable settings
// and is safe for concurrent use by fetch workers.
type Flattener struct {
	rootTable string
	groups    map[string]struct{}
}

// NewFlattener returns a Flattener writing direct Product leaves to rootTable
// and giving every tag in groupTags its own table.
func NewFlattener(rootTable string, groupTags []string) *Flattener {
	groups := make(map[string]struct{}, len(groupTags))
	for _, tag := range groupTags {
		groups[tag] = struct{}{}
	}
	return &Flattener{rootTable: rootTable, groups: groups}
}

// RootTable returns the table receiving direct Product leaves.
func (f *Flattener) RootTable() string {
	return f.rootTable
}

// IsGroup reports whether tag is a repeatable group.
func (f *Flattener) IsGroup(tag string) bool {
	_, ok := f.groups[tag]
	return ok
}

// Flatten maps one Product to rows, in document order:
//
//   - the root row holds the Product's direct leaf children
//   - every direct child with children is a section row named after it,
//     keyed by paths below the section element
//   - group tags below a section become their own rows, keyed by paths
//     that start with the group tag; groups nested in groups are inlined
//
// Rows without any column are dropped.
func (f *Flattener) Flatten(product *Node, identifier string) []Row {
	var (
		rootFields []field
		sections   []Row
	)
	for _, c := range product.Children {
		if c.IsLeaf() {
			rootFields = append(rootFields, leafField(c.Name, c))
			continue
		}
		sections = append(sections, f.section(c, identifier)...)
	}

	rows := makeRow(f.rootTable, identifier, rootFields)
	return append(rows, sections...)
}

// FlattenAll flattens every Product under doc.
func (f *Flattener) FlattenAll(doc *Node, identifier string) []Row {
	var rows []Row
	for _, p := range Products(doc) {
		rows = append(rows, f.Flatten(p, identifier)...)
	}
	return rows
}

// Products returns the Product elements of a record response.
func Products(doc *Node) []*Node {
	if doc.Name == "Product" {
		return []*Node{doc}
	}
	return doc.FindAll("Product")
}

type field struct {
	key   string
	value string
}

func leafField(key string, n *Node) field {
	return field{key: key, value: n.TrimmedText()}
}

func (f *Flattener) section(n *Node, identifier string) []Row {
	fields, groups := f.walk(n, "", identifier, false)
	return append(makeRow(n.Name, identifier, fields), groups...)
}

func (f *Flattener) group(n *Node, identifier string) []Row {
	fields, _ := f.walk(n, n.Name, identifier, true)
	return makeRow(n.Name, identifier, fields)
}

// walk returns the leaf fields below n keyed from prefix, and the rows of any
// group boundaries met on the way. It never mutates its inputs.
func (f *Flattener) walk(n *Node, prefix, identifier string, inGroup bool) ([]field, []Row) {
	var (
		fields []field
		rows   []Row
	)
	for _, c := range n.Children {
		key := joinPath(prefix, c.Name)
		switch {
		case c.IsLeaf():
			fields = append(fields, leafField(key, c))
		case !inGroup && f.IsGroup(c.Name):
			rows = append(rows, f.group(c, identifier)...)
		default:
			childFields, childRows := f.walk(c, key, identifier, inGroup)
			fields = append(fields, childFields...)
			rows = append(rows, childRows...)
		}
	}
	return fields, rows
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + PathSeparator + name
}

// makeRow folds fields into one row. Repeated keys keep document order and are
// joined with ValueSeparator. An empty value only counts when its key already
// holds a value.
func makeRow(table, identifier string, fields []field) []Row {
	values := make(map[string][]string)
	for _, fl := range fields {
		key := ColumnName(fl.key)
		if fl.value == "" {
			if _, seen := values[key]; !seen {
				continue
			}
		}
		values[key] = append(values[key], fl.value)
	}
	if len(values) == 0 {
		return nil
	}

	cols := make(map[string]string, len(values))
	for k, v := range values {
		cols[k] = strings.Join(v, ValueSeparator)
	}
	return []Row{{Table: ColumnName(table), Identifier: identifier, Columns: cols}}
}

// ColumnName maps an element path to a store-safe name: characters outside
// [A-Za-z0-9_] become underscores and reserved names get a _value suffix.
func ColumnName(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for i, r := range key {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := b.String()
	if _, ok := reserved[strings.ToLower(name)]; ok {
		return name + "_value"
	}
	return name
}
