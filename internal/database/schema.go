// onixmirror - ONIX Catalog Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/onixmirror

package database

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"gorm.io/gorm"

	"github.com/tomtom215/onixmirror/internal/logging"
	"github.com/tomtom215/onixmirror/internal/metrics"
	"github.com/tomtom215/onixmirror/internal/validation"
)

// tableSchema is the known column set of one dynamic table. Stored values
// are never mutated; changes produce a copy.
type tableSchema struct {
	name    string
	columns map[string]string // lower-case name -> declared name
}

func newTableSchema(name string) *tableSchema {
	return &tableSchema{name: name, columns: map[string]string{"id": "id", "identifier": "identifier"}}
}

func (s *tableSchema) has(column string) bool {
	_, ok := s.columns[strings.ToLower(column)]
	return ok
}

func (s *tableSchema) clone() *tableSchema {
	cp := &tableSchema{name: s.name, columns: make(map[string]string, len(s.columns))}
	for k, v := range s.columns {
		cp.columns[k] = v
	}
	return cp
}

type pendingSchema struct {
	schema *tableSchema
	added  int
}

// SchemaRegistry knows the tables and columns of the dynamic record tables.
// The store is only consulted on a cache miss; a known column never causes
// DDL. Changes made inside a transaction become visible through Commit and
// are forgotten by Discard.
type SchemaRegistry struct {
	rootTable string
	tables    *xsync.MapOf[string, *tableSchema]

	mu      sync.Mutex
	pending map[string]*pendingSchema
}

// NewSchemaRegistry creates an empty registry.
func NewSchemaRegistry(rootTable string) *SchemaRegistry {
	return &SchemaRegistry{
		rootTable: rootTable,
		tables:    xsync.NewMapOf[string, *tableSchema](),
		pending:   make(map[string]*pendingSchema),
	}
}

// RootTable returns the name of the table holding direct Product leaves.
func (r *SchemaRegistry) RootTable() string {
	return r.rootTable
}

// Load fills the cache from the tables present in the store.
func (r *SchemaRegistry) Load(ctx context.Context, db *gorm.DB) error {
	var names []string
	err := db.WithContext(ctx).Raw(
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' AND name <> ? ORDER BY name`,
		LedgerTable).Scan(&names).Error
	if err != nil {
		return fmt.Errorf("list tables: %w", err)
	}

	for _, name := range names {
		if !validation.SQLIdentPattern.MatchString(name) {
			logging.Warn().Str("table", name).Msg("Skipping table with unsupported name")
			continue
		}
		s, err := readSchema(ctx, db, name)
		if err != nil {
			return err
		}
		if s != nil {
			r.tables.Store(strings.ToLower(name), s)
		}
	}
	return nil
}

// readSchema returns nil when the table does not exist.
func readSchema(ctx context.Context, db *gorm.DB, table string) (*tableSchema, error) {
	var cols []string
	if err := db.WithContext(ctx).Raw(`SELECT name FROM pragma_table_info(?)`, table).Scan(&cols).Error; err != nil {
		return nil, fmt.Errorf("read columns of %s: %w", table, err)
	}
	if len(cols) == 0 {
		return nil, nil
	}
	s := &tableSchema{name: table, columns: make(map[string]string, len(cols))}
	for _, c := range cols {
		s.columns[strings.ToLower(c)] = c
	}
	return s, nil
}

// Ensure makes table exist with every column in columns, inside tx.
func (r *SchemaRegistry) Ensure(ctx context.Context, tx *gorm.DB, table string, columns []string) error {
	if err := checkTableName(table); err != nil {
		return err
	}
	for _, c := range columns {
		if !validation.SQLIdentPattern.MatchString(c) {
			return fmt.Errorf("%w: column %q of %s", ErrInvalidName, c, table)
		}
	}

	key := strings.ToLower(table)

	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.lookupLocked(key)
	fromStore := false
	if current == nil {
		s, err := readSchema(ctx, tx, table)
		if err != nil {
			return err
		}
		if s == nil {
			if err := createTable(ctx, tx, table); err != nil {
				return err
			}
			s = newTableSchema(table)
		}
		current = s
		fromStore = true
	}

	var missing []string
	for _, c := range columns {
		if !current.has(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) == 0 {
		if fromStore {
			r.stageLocked(key, current, 0)
		}
		return nil
	}

	next := current.clone()
	for _, c := range missing {
		if next.has(c) {
			continue
		}
		stmt := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s TEXT`, quoteIdent(table), quoteIdent(c))
		if err := tx.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("add column %s.%s: %w", table, c, err)
		}
		next.columns[strings.ToLower(c)] = c
	}
	r.stageLocked(key, next, len(next.columns)-len(current.columns))
	return nil
}

func createTable(ctx context.Context, tx *gorm.DB, table string) error {
	q := quoteIdent(table)
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (id INTEGER PRIMARY KEY, identifier TEXT)`, q),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (identifier)`, quoteIdent("idx_"+table+"_identifier"), q),
	}
	for _, stmt := range stmts {
		if err := tx.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("create table %s: %w", table, err)
		}
	}
	logging.Debug().Str("table", table).Msg("Created record table")
	return nil
}

func (r *SchemaRegistry) lookupLocked(key string) *tableSchema {
	if p, ok := r.pending[key]; ok {
		return p.schema
	}
	s, _ := r.tables.Load(key)
	return s
}

func (r *SchemaRegistry) stageLocked(key string, s *tableSchema, added int) {
	if p, ok := r.pending[key]; ok {
		added += p.added
	}
	r.pending[key] = &pendingSchema{schema: s, added: added}
}

// Commit publishes the changes staged since the last Commit or Discard.
// Call it after the enclosing transaction committed.
func (r *SchemaRegistry) Commit() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, p := range r.pending {
		r.tables.Store(key, p.schema)
		if p.added > 0 {
			metrics.SchemaColumnsAdded.WithLabelValues(p.schema.name).Add(float64(p.added))
		}
	}
	r.pending = make(map[string]*pendingSchema)
}

// Discard forgets staged changes after a rollback.
func (r *SchemaRegistry) Discard() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = make(map[string]*pendingSchema)
}

// Tables returns the known tables, staged ones included, sorted by name.
func (r *SchemaRegistry) Tables() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]string)
	r.tables.Range(func(key string, s *tableSchema) bool {
		seen[key] = s.name
		return true
	})
	for key, p := range r.pending {
		seen[key] = p.schema.name
	}

	out := make([]string, 0, len(seen))
	for _, name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Columns returns the committed columns of table, sorted, or nil if unknown.
func (r *SchemaRegistry) Columns(table string) []string {
	s, ok := r.tables.Load(strings.ToLower(table))
	if !ok {
		return nil
	}
	out := make([]string, 0, len(s.columns))
	for _, c := range s.columns {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Known reports whether column of table is in the committed cache.
func (r *SchemaRegistry) Known(table, column string) bool {
	s, ok := r.tables.Load(strings.ToLower(table))
	return ok && s.has(column)
}

func checkTableName(table string) error {
	if !validation.SQLIdentPattern.MatchString(table) {
		return fmt.Errorf("%w: table %q", ErrInvalidName, table)
	}
	lower := strings.ToLower(table)
	if lower == LedgerTable || strings.HasPrefix(lower, "sqlite_") {
		return fmt.Errorf("%w: table %q is reserved", ErrInvalidName, table)
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}
