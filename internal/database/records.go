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

	"gorm.io/gorm"

	"github.com/tomtom215/onixmirror/internal/onix"
)

// Transaction runs fn in one transaction. Schema changes staged by fn are
// committed to the registry only when the transaction commits.
func (db *DB) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	err := db.conn.WithContext(ctx).Transaction(fn)
	if err != nil {
		db.schema.Discard()
		return err
	}
	db.schema.Commit()
	return nil
}

// ReplaceRecord deletes every dynamic row of identifier and inserts rows in
// their place, creating tables and columns as needed. It returns the tables
// written to, in first-appearance order.
func (db *DB) ReplaceRecord(ctx context.Context, tx *gorm.DB, identifier string, rows []onix.Row) ([]string, error) {
	tables, columns := collectColumns(rows)
	for _, t := range tables {
		if err := db.schema.Ensure(ctx, tx, t, columns[t]); err != nil {
			return nil, err
		}
	}

	if err := db.purge(ctx, tx, identifier); err != nil {
		return nil, err
	}

	for _, row := range rows {
		if err := insertRow(ctx, tx, identifier, row); err != nil {
			return nil, err
		}
	}
	return tables, nil
}

// Purge deletes every dynamic row of identifier inside tx.
func (db *DB) Purge(ctx context.Context, tx *gorm.DB, identifier string) error {
	return db.purge(ctx, tx, identifier)
}

func (db *DB) purge(ctx context.Context, tx *gorm.DB, identifier string) error {
	for _, t := range db.schema.Tables() {
		stmt := fmt.Sprintf(`DELETE FROM %s WHERE identifier = ?`, quoteIdent(t))
		if err := tx.WithContext(ctx).Exec(stmt, identifier).Error; err != nil {
			return fmt.Errorf("delete %s rows of %s: %w", t, identifier, err)
		}
	}
	return nil
}

// RecordRows returns the rows of identifier in table as column maps, in insertion order.
func (db *DB) RecordRows(ctx context.Context, table, identifier string) ([]map[string]any, error) {
	if err := checkTableName(table); err != nil {
		return nil, err
	}
	var rows []map[string]any
	stmt := fmt.Sprintf(`SELECT * FROM %s WHERE identifier = ? ORDER BY id`, quoteIdent(table))
	if err := db.conn.WithContext(ctx).Raw(stmt, identifier).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("read %s rows of %s: %w", table, identifier, err)
	}
	return rows, nil
}

// collectColumns returns the tables of rows in first-appearance order and the
// union of columns per table.
func collectColumns(rows []onix.Row) ([]string, map[string][]string) {
	var order []string
	sets := make(map[string]map[string]struct{})
	for _, row := range rows {
		set, ok := sets[row.Table]
		if !ok {
			set = make(map[string]struct{})
			sets[row.Table] = set
			order = append(order, row.Table)
		}
		for c := range row.Columns {
			set[c] = struct{}{}
		}
	}

	columns := make(map[string][]string, len(sets))
	for t, set := range sets {
		cols := make([]string, 0, len(set))
		for c := range set {
			cols = append(cols, c)
		}
		sort.Strings(cols)
		columns[t] = cols
	}
	return order, columns
}

func insertRow(ctx context.Context, tx *gorm.DB, identifier string, row onix.Row) error {
	cols := make([]string, 0, len(row.Columns))
	for c := range row.Columns {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	names := make([]string, 0, len(cols)+1)
	args := make([]any, 0, len(cols)+1)
	names = append(names, "identifier")
	args = append(args, identifier)
	for _, c := range cols {
		names = append(names, quoteIdent(c))
		args = append(args, row.Columns[c])
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
	stmt := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		quoteIdent(row.Table), strings.Join(names, ", "), placeholders)
	if err := tx.WithContext(ctx).Exec(stmt, args...).Error; err != nil {
		return fmt.Errorf("insert %s row of %s: %w", row.Table, identifier, err)
	}
	return nil
}
