// onixmirror - ONIX Catalog Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/onixmirror

package reconcile

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tomtom215/onixmirror/internal/catalog"
	"github.com/tomtom215/onixmirror/internal/config"
	"github.com/tomtom215/onixmirror/internal/database"
	"github.com/tomtom215/onixmirror/internal/events"
	"github.com/tomtom215/onixmirror/internal/onix"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(&config.StoreConfig{
		Path:        filepath.Join(t.TempDir(), "onix.db"),
		RootTable:   "product",
		BusyTimeout: time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func document(t *testing.T, raw string) *catalog.Document {
	t.Helper()
	root, err := onix.ParseBytes([]byte(raw))
	require.NoError(t, err)
	return &catalog.Document{Raw: []byte(raw), Root: root}
}

func records(ids ...string) string {
	var b strings.Builder
	for _, id := range ids {
		b.WriteString("<record><id>" + id + "</id></record>")
	}
	return b.String()
}

func statusXML(newIDs, changed, deleted []string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<getRecordStatusXResponse xmlns="` + catalog.NSStatus + `">
  <existingRecords>
    <newRecords>` + records(newIDs...) + `</newRecords>
    <changedRecords>` + records(changed...) + `</changedRecords>
    <deletedRecords>` + records(deleted...) + `</deletedRecords>
  </existingRecords>
</getRecordStatusXResponse>`
}

type fakeStatusFetcher struct {
	doc   *catalog.Document
	err   error
	calls int
	since time.Time
}

func (f *fakeStatusFetcher) FetchStatus(_ context.Context, from time.Time) (*catalog.Document, error) {
	f.calls++
	f.since = from
	return f.doc, f.err
}

type fakeListFetcher struct {
	doc     *catalog.Document
	err     error
	program string
}

func (f *fakeListFetcher) FetchList(_ context.Context, program string) (*catalog.Document, error) {
	f.program = program
	return f.doc, f.err
}

// recordingSink keeps every event it receives.
type recordingSink struct {
	mu         sync.Mutex
	reconciled []events.ReconciledEvent
	deleted    []string
}

func (s *recordingSink) Reconciled(_ context.Context, ev events.ReconciledEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconciled = append(s.reconciled, ev)
}

func (s *recordingSink) Processed(context.Context, events.RecordEvent) {}
func (s *recordingSink) Failed(context.Context, events.RecordEvent)    {}

func (s *recordingSink) Deleted(_ context.Context, ev events.RecordEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, ev.Identifier)
}

func state(t *testing.T, db *database.DB, id string) database.State {
	t.Helper()
	e, err := db.Ledger().Get(context.Background(), id)
	require.NoError(t, err)
	return e.State()
}
