// onixmirror - ONIX Catalog Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/onixmirror

// Package database owns the SQLite store: the ledger of identifiers, the
// dynamically evolving record tables, and maintenance (VACUUM, snapshots).
package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/tomtom215/onixmirror/internal/config"
	"github.com/tomtom215/onixmirror/internal/logging"
)

// DB wraps the gorm handle and the schema registry of the dynamic tables.
type DB struct {
	conn   *gorm.DB
	path   string
	schema *SchemaRegistry
	ledger *Ledger

	snapshotKeep int
}

// New opens (creating if needed) the store described by cfg, migrates the
// ledger and loads the schema of the existing record tables.
func New(cfg *config.StoreConfig) (*DB, error) {
	if cfg == nil {
		return nil, errors.New("store config is nil")
	}

	if !isMemory(cfg.Path) {
		if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
			}
		}
	}

	conn, err := gorm.Open(sqlite.Open(dsn(cfg.Path, cfg.BusyTimeout)), &gorm.Config{
		Logger:                 newGormLogger(),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite admits one writer; a single connection also keeps :memory:
	// databases alive across calls.
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	db := &DB{
		conn:   conn,
		path:   cfg.Path,
		schema: NewSchemaRegistry(cfg.RootTable),
		ledger: NewLedger(conn),

		snapshotKeep: cfg.SnapshotKeep,
	}

	if err := db.ledger.AutoMigrate(); err != nil {
		closeQuietly(sqlDB)
		return nil, fmt.Errorf("failed to migrate ledger: %w", err)
	}

	if err := db.schema.Load(context.Background(), conn); err != nil {
		closeQuietly(sqlDB)
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Int("tables", len(db.schema.Tables())).
		Msg("Database opened")
	return db, nil
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.HasPrefix(path, "file::memory:")
}

// dsn appends the pragmas modernc's driver applies on every new connection.
func dsn(path string, busy time.Duration) string {
	pragmas := []string{
		fmt.Sprintf("_pragma=busy_timeout(%d)", busy.Milliseconds()),
		"_pragma=foreign_keys(1)",
	}
	if !isMemory(path) {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)", "_pragma=synchronous(NORMAL)")
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + strings.Join(pragmas, "&")
}

// Gorm returns the underlying handle.
func (db *DB) Gorm() *gorm.DB {
	return db.conn
}

// Schema returns the registry of dynamic tables.
func (db *DB) Schema() *SchemaRegistry {
	return db.schema
}

// Ledger returns the ledger bound to the main handle.
func (db *DB) Ledger() *Ledger {
	return db.ledger
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Ping verifies the connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	sqlDB, err := db.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database.
func (db *DB) Close() error {
	sqlDB, err := db.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Vacuum rebuilds the database file, reclaiming the space of replaced rows.
func (db *DB) Vacuum(ctx context.Context) error {
	start := time.Now()
	if err := db.conn.WithContext(ctx).Exec("VACUUM").Error; err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	logging.Info().Dur("duration", time.Since(start)).Msg("Database vacuumed")
	return nil
}
