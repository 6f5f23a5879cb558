// onixmirror - ONIX Catalog Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/onixmirror

package reconcile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tomtom215/onixmirror/internal/catalog"
	"github.com/tomtom215/onixmirror/internal/database"
	"github.com/tomtom215/onixmirror/internal/logging"
	"github.com/tomtom215/onixmirror/internal/metrics"
	"github.com/tomtom215/onixmirror/internal/validation"
)

// ExtractionDateFormat stamps identifiers seeded from a list.
const ExtractionDateFormat = "20060102"

// ErrInvalidProgram is returned for list program names that do not match
// getRecordListX_<kind>_<format>_<E|AE>.
var ErrInvalidProgram = errors.New("invalid list program name")

// Program is a parsed list program name.
type Program struct {
	Name   string
	Kind   string
	Format string
	// IsPublisher is true for E programs (publisher lists), false for AE.
	IsPublisher bool
}

// ParseProgram validates and splits a list program name.
func ParseProgram(name string) (Program, error) {
	if err := validation.ValidateVar("program", name, "required,program"); err != nil {
		return Program{}, fmt.Errorf("%w: %v", ErrInvalidProgram, err)
	}
	m := validation.ProgramPattern.FindStringSubmatch(name)
	if m == nil {
		return Program{}, fmt.Errorf("%w: %q", ErrInvalidProgram, name)
	}
	return Program{Name: name, Kind: m[1], Format: m[2], IsPublisher: m[3] == "E"}, nil
}

// ListFetcher retrieves bulk identifier lists.
type ListFetcher interface {
	FetchList(ctx context.Context, program string) (*catalog.Document, error)
}

// ListReport is the outcome of loading one list.
type ListReport struct {
	Program     Program
	Listed      int
	Inserted    int64
	Skipped     int64
	ArchivePath string
}

// ListLoader seeds the ledger from identifier lists. Identifiers already in
// the ledger are left untouched.
type ListLoader struct {
	fetcher    ListFetcher
	db         *database.DB
	archiveDir string
	now        func() time.Time
}

// NewListLoader creates a ListLoader. An empty archiveDir disables archiving.
func NewListLoader(fetcher ListFetcher, db *database.DB, archiveDir string) *ListLoader {
	return &ListLoader{fetcher: fetcher, db: db, archiveDir: archiveDir, now: time.Now}
}

// Load fetches the list of program and inserts its identifiers as new.
func (l *ListLoader) Load(ctx context.Context, program string) (ListReport, error) {
	p, err := ParseProgram(program)
	if err != nil {
		return ListReport{}, err
	}

	doc, err := l.fetcher.FetchList(ctx, p.Name)
	if err != nil {
		return ListReport{}, fmt.Errorf("fetch list %s: %w", p.Name, err)
	}

	now := l.now()
	report := ListReport{Program: p}

	if l.archiveDir != "" {
		path, err := l.archive(p.Name, doc.Raw, now)
		if err != nil {
			return ListReport{}, err
		}
		report.ArchivePath = path
	}

	ids := unique(catalog.IDs(doc.Root, ""))
	report.Listed = len(ids)

	inserted, err := l.db.Ledger().Insert(ctx, ids, database.ChangeNew, database.Provenance{
		ExtractionDate: now.Format(ExtractionDateFormat),
		ImportDate:     now.UTC().Format(database.TimestampFormat),
		IsPublisher:    p.IsPublisher,
	})
	if err != nil {
		return ListReport{}, fmt.Errorf("load list %s: %w", p.Name, err)
	}
	report.Inserted = inserted
	report.Skipped = int64(report.Listed) - inserted

	metrics.ReconcileIdentifiers.WithLabelValues("listed").Add(float64(inserted))
	metrics.ReconcileIdentifiers.WithLabelValues("skipped").Add(float64(report.Skipped))

	logging.Ctx(ctx).Info().
		Str("program", p.Name).
		Bool("publisher", p.IsPublisher).
		Int("listed", report.Listed).
		Int64("inserted", report.Inserted).
		Int64("skipped", report.Skipped).
		Msg("Identifier list loaded")
	return report, nil
}

// archive stores the raw list under <archiveDir>/lists/<program>/.
func (l *ListLoader) archive(program string, raw []byte, at time.Time) (string, error) {
	dir := filepath.Join(l.archiveDir, "lists", program)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create archive directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.xml", program, at.Format("20060102150405")))
	if err := os.WriteFile(path, raw, 0o640); err != nil {
		return "", fmt.Errorf("archive list %s: %w", program, err)
	}
	return path, nil
}
