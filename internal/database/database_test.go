// onixmirror - ONIX Catalog Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/onixmirror

package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tomtom215/onixmirror/internal/config"
	"github.com/tomtom215/onixmirror/internal/onix"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	return openTestDB(t, filepath.Join(t.TempDir(), "onix.db"))
}

func openTestDB(t *testing.T, path string) *DB {
	t.Helper()
	db, err := New(&config.StoreConfig{
		Path:        path,
		RootTable:   "product",
		BusyTimeout: time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func replace(t *testing.T, db *DB, id string, rows []onix.Row) []string {
	t.Helper()
	var tables []string
	err := db.Transaction(context.Background(), func(tx *gorm.DB) error {
		var err error
		tables, err = db.ReplaceRecord(context.Background(), tx, id, rows)
		return err
	})
	require.NoError(t, err)
	return tables
}

func countRows(t *testing.T, db *DB, table, id string) int {
	t.Helper()
	rows, err := db.RecordRows(context.Background(), table, id)
	require.NoError(t, err)
	return len(rows)
}

func TestNew_CreatesDirectoryAndLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "onix.db")
	db := openTestDB(t, path)

	_, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, db.Gorm().Migrator().HasTable(LedgerTable))
	assert.Empty(t, db.Schema().Tables())
	require.NoError(t, db.Ping(context.Background()))
}

func TestNew_InMemory(t *testing.T) {
	db := openTestDB(t, ":memory:")
	_, err := db.Ledger().Insert(context.Background(), []string{"A1"}, ChangeNew, Provenance{})
	require.NoError(t, err)

	e, err := db.Ledger().Get(context.Background(), "A1")
	require.NoError(t, err)
	assert.Equal(t, StatePending, e.State())
}

func TestNew_NilConfig(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestNew_LoadsExistingSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "onix.db")
	db := openTestDB(t, path)
	replace(t, db, "A1", []onix.Row{
		{Table: "product", Identifier: "A1", Columns: map[string]string{"RecordReference": "A1"}},
		{Table: "Subject", Identifier: "A1", Columns: map[string]string{"Subject_SubjectCode": "FBA"}},
	})
	require.NoError(t, db.Close())

	reopened := openTestDB(t, path)
	assert.Equal(t, []string{"Subject", "product"}, reopened.Schema().Tables())
	assert.True(t, reopened.Schema().Known("Subject", "Subject_SubjectCode"))
	assert.True(t, reopened.Schema().Known("product", "recordreference"))
}

func TestReplaceRecord_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	rows := []onix.Row{
		{Table: "product", Identifier: "A1", Columns: map[string]string{"RecordReference": "A1"}},
		{Table: "Contributor", Identifier: "A1", Columns: map[string]string{"Contributor_PersonName": "X"}},
		{Table: "Contributor", Identifier: "A1", Columns: map[string]string{"Contributor_PersonName": "Y"}},
	}

	tables := replace(t, db, "A1", rows)
	assert.Equal(t, []string{"product", "Contributor"}, tables)
	replace(t, db, "A1", rows)

	assert.Equal(t, 1, countRows(t, db, "product", "A1"))
	assert.Equal(t, 2, countRows(t, db, "Contributor", "A1"))
}

func TestReplaceRecord_ReplacesAcrossTables(t *testing.T) {
	db := setupTestDB(t)
	replace(t, db, "A1", []onix.Row{
		{Table: "product", Identifier: "A1", Columns: map[string]string{"RecordReference": "A1"}},
		{Table: "Subject", Identifier: "A1", Columns: map[string]string{"Subject_SubjectCode": "FBA"}},
	})
	replace(t, db, "B2", []onix.Row{
		{Table: "Subject", Identifier: "B2", Columns: map[string]string{"Subject_SubjectCode": "FV"}},
	})

	// The new version of A1 has no Subject at all.
	replace(t, db, "A1", []onix.Row{
		{Table: "product", Identifier: "A1", Columns: map[string]string{"RecordReference": "A1-v2"}},
	})

	assert.Equal(t, 0, countRows(t, db, "Subject", "A1"))
	assert.Equal(t, 1, countRows(t, db, "Subject", "B2"))

	rows, err := db.RecordRows(context.Background(), "product", "A1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "A1-v2", rows[0]["RecordReference"])
}

func TestReplaceRecord_RollbackDiscardsSchema(t *testing.T) {
	db := setupTestDB(t)
	err := db.Transaction(context.Background(), func(tx *gorm.DB) error {
		if _, err := db.ReplaceRecord(context.Background(), tx, "A1", []onix.Row{
			{Table: "Extent", Identifier: "A1", Columns: map[string]string{"Extent_ExtentValue": "320"}},
		}); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	assert.Empty(t, db.Schema().Tables())
	assert.False(t, db.Gorm().Migrator().HasTable("Extent"))

	// The table is created again on the next attempt.
	replace(t, db, "A1", []onix.Row{
		{Table: "Extent", Identifier: "A1", Columns: map[string]string{"Extent_ExtentValue": "320"}},
	})
	assert.Equal(t, 1, countRows(t, db, "Extent", "A1"))
}

func TestPurge(t *testing.T) {
	db := setupTestDB(t)
	replace(t, db, "A1", []onix.Row{
		{Table: "product", Identifier: "A1", Columns: map[string]string{"RecordReference": "A1"}},
		{Table: "Language", Identifier: "A1", Columns: map[string]string{"Language_LanguageCode": "spa"}},
	})

	err := db.Transaction(context.Background(), func(tx *gorm.DB) error {
		return db.Purge(context.Background(), tx, "A1")
	})
	require.NoError(t, err)
	assert.Equal(t, 0, countRows(t, db, "product", "A1"))
	assert.Equal(t, 0, countRows(t, db, "Language", "A1"))
}

func TestRecordRows_RejectsBadTable(t *testing.T) {
	db := setupTestDB(t)
	_, err := db.RecordRows(context.Background(), "x; DROP TABLE ledger", "A1")
	assert.ErrorIs(t, err, ErrInvalidName)

	_, err = db.RecordRows(context.Background(), LedgerTable, "A1")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestVacuumAndSnapshot(t *testing.T) {
	db := setupTestDB(t)
	replace(t, db, "A1", []onix.Row{
		{Table: "product", Identifier: "A1", Columns: map[string]string{"RecordReference": "A1"}},
	})
	require.NoError(t, db.Vacuum(context.Background()))

	dir := filepath.Join(t.TempDir(), "snapshots")
	at := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	path, err := db.snapshotAt(context.Background(), dir, at)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "onix_20260301103000.db"), path)

	snap := openTestDB(t, path)
	assert.Equal(t, 1, countRows(t, snap, "product", "A1"))

	_, err = db.snapshotAt(context.Background(), dir, at)
	assert.Error(t, err, "existing snapshot must not be overwritten")
}

func TestDSN(t *testing.T) {
	assert.Equal(t,
		"data/x.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		dsn("data/x.db", 5*time.Second))
	assert.Equal(t,
		":memory:?_pragma=busy_timeout(0)&_pragma=foreign_keys(1)",
		dsn(":memory:", 0))
}

func TestSnapshot_Retention(t *testing.T) {
	db := setupTestDB(t)
	db.snapshotKeep = 2
	dir := t.TempDir()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	var paths []string
	for i := 0; i < 4; i++ {
		path, err := db.snapshotAt(context.Background(), dir, base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
		paths = append(paths, path)
	}

	snaps, err := ListSnapshots(dir, "onix")
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, paths[2], snaps[0].Path)
	assert.Equal(t, paths[3], snaps[1].Path)

	_, err = os.Stat(paths[0])
	assert.True(t, os.IsNotExist(err), "oldest snapshot should be pruned")
}

func TestPruneSnapshots(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"onix_20260101000000.db",
		"onix_20260301000000.db",
		"onix_20260201000000.db",
		"onix_notatime.db",
		"other_20250101000000.db",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600))
	}

	removed, err := PruneSnapshots(dir, "onix", 0)
	require.NoError(t, err)
	assert.Empty(t, removed, "keep 0 retains everything")

	removed, err = PruneSnapshots(dir, "onix", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "onix_20260101000000.db"),
		filepath.Join(dir, "onix_20260201000000.db"),
	}, removed)

	for _, keep := range []string{"onix_20260301000000.db", "onix_notatime.db", "other_20250101000000.db"} {
		_, err := os.Stat(filepath.Join(dir, keep))
		assert.NoError(t, err, keep)
	}

	snaps, err := ListSnapshots(filepath.Join(dir, "missing"), "onix")
	require.NoError(t, err)
	assert.Empty(t, snaps)
}
