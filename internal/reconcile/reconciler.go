// onixmirror - ONIX Catalog Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/onixmirror

// Package reconcile brings the ledger in line with the catalog: the status
// reconciler applies incremental change reports, and the list loader seeds
// the ledger from bulk identifier lists.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tomtom215/onixmirror/internal/catalog"
	"github.com/tomtom215/onixmirror/internal/database"
	"github.com/tomtom215/onixmirror/internal/events"
	"github.com/tomtom215/onixmirror/internal/logging"
	"github.com/tomtom215/onixmirror/internal/metrics"
)

// ErrMalformedStatus is returned when a status response lacks existingRecords.
var ErrMalformedStatus = errors.New("status response has no existingRecords")

// StatusFetcher retrieves change reports.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, from time.Time) (*catalog.Document, error)
}

// Status holds the identifiers of one change report. The three sets are
// disjoint: an identifier listed under several sections keeps the strongest,
// deleted before changed before new.
type Status struct {
	New     []string
	Changed []string
	Deleted []string
}

// ParseStatus extracts the change sets of a status response.
func ParseStatus(doc *catalog.Document) (*Status, error) {
	if doc == nil || doc.Root == nil {
		return nil, ErrMalformedStatus
	}
	if doc.Root.Find("existingRecords") == nil && doc.Root.Name != "existingRecords" {
		return nil, ErrMalformedStatus
	}

	deleted := unique(catalog.IDs(doc.Root, "deletedRecords"), nil)
	changed := unique(catalog.IDs(doc.Root, "changedRecords"), deleted)
	newIDs := unique(catalog.IDs(doc.Root, "newRecords"), deleted, changed)

	return &Status{New: newIDs, Changed: changed, Deleted: deleted}, nil
}

// unique returns ids without duplicates and without any id in exclude, in order.
func unique(ids []string, exclude ...[]string) []string {
	skip := make(map[string]struct{})
	for _, ex := range exclude {
		for _, id := range ex {
			skip[id] = struct{}{}
		}
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := skip[id]; ok {
			continue
		}
		skip[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Report is the outcome of a committed reconciliation.
type Report struct {
	Since     time.Time
	Watermark time.Time // captured before the status call; the next Since
	New       int
	Changed   int
	Deleted   int
	Inserted  int64 // identifiers that were not in the ledger before
	Flagged   int64 // existing entries re-flagged
}

// Reconciler applies change reports to the ledger.
type Reconciler struct {
	fetcher      StatusFetcher
	db           *database.DB
	sink         events.Sink
	purgeDeleted bool
	now          func() time.Time
}

// NewReconciler creates a Reconciler. A nil sink discards events.
func NewReconciler(fetcher StatusFetcher, db *database.DB, sink events.Sink, purgeDeleted bool) *Reconciler {
	if sink == nil {
		sink = events.Discard{}
	}
	return &Reconciler{
		fetcher:      fetcher,
		db:           db,
		sink:         sink,
		purgeDeleted: purgeDeleted,
		now:          time.Now,
	}
}

// Reconcile fetches the changes since the given instant and applies them in
// one transaction. Nothing is written when the call or the parse fails.
func (r *Reconciler) Reconcile(ctx context.Context, since time.Time) (Report, error) {
	logger := logging.Ctx(ctx)
	watermark := r.now().UTC().Truncate(time.Second)

	doc, err := r.fetcher.FetchStatus(ctx, since)
	if err != nil {
		return Report{}, fmt.Errorf("fetch status: %w", err)
	}
	st, err := ParseStatus(doc)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		Since:     since,
		Watermark: watermark,
		New:       len(st.New),
		Changed:   len(st.Changed),
		Deleted:   len(st.Deleted),
	}
	prov := database.Provenance{
		ExtractionDate: watermark.Format(database.TimestampFormat),
		ImportDate:     watermark.Format(database.TimestampFormat),
	}

	err = r.db.Transaction(ctx, func(tx *gorm.DB) error {
		ledger := r.db.Ledger().WithTx(tx)
		for _, set := range []struct {
			ids    []string
			change database.Change
		}{
			{st.New, database.ChangeNew},
			{st.Changed, database.ChangeModified},
			{st.Deleted, database.ChangeDeleted},
		} {
			inserted, flagged, err := ledger.Upsert(ctx, set.ids, set.change, prov)
			if err != nil {
				return err
			}
			report.Inserted += inserted
			report.Flagged += flagged
		}

		if r.purgeDeleted {
			for _, id := range st.Deleted {
				if err := r.db.Purge(ctx, tx, id); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return Report{}, fmt.Errorf("apply status: %w", err)
	}

	metrics.RecordReconcile(report.New, report.Changed, report.Deleted)
	logger.Info().
		Time("since", since).
		Int("new", report.New).
		Int("changed", report.Changed).
		Int("deleted", report.Deleted).
		Int64("inserted", report.Inserted).
		Msg("Ledger reconciled")

	runID := logging.RunIDFromContext(ctx)
	now := r.now()
	r.sink.Reconciled(ctx, events.ReconciledEvent{
		RunID:      runID,
		Since:      since,
		Watermark:  watermark,
		New:        report.New,
		Changed:    report.Changed,
		Deleted:    report.Deleted,
		Inserted:   report.Inserted,
		OccurredAt: now,
	})
	for _, id := range st.Deleted {
		r.sink.Deleted(ctx, events.RecordEvent{RunID: runID, Identifier: id, OccurredAt: now})
	}
	return report, nil
}
