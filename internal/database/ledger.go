// onixmirror - ONIX Catalog Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/onixmirror

package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerTable is the name of the ledger table.
const LedgerTable = "ledger"

// TimestampFormat is used for extraction and import dates stored as text.
const TimestampFormat = "2006-01-02T15:04:05Z"

// chunkSize bounds the number of bound parameters per statement.
const chunkSize = 500

// State is the lifecycle state of a ledger entry.
type State string

const (
	StatePending   State = "PENDING"
	StateProcessed State = "PROCESSED"
	StateError     State = "ERROR"
	StateDeleted   State = "DELETED"
)

// LedgerEntry tracks one identifier through ingestion.
type LedgerEntry struct {
	ID             uint       `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	Identifier     string     `gorm:"column:identifier;uniqueIndex:idx_ledger_identifier;not null" json:"identifier"`
	ExtractionDate string     `gorm:"column:extraction_date" json:"extraction_date"`
	IsPublisher    bool       `gorm:"column:is_publisher;not null;default:false" json:"is_publisher"`
	ImportDate     string     `gorm:"column:import_date" json:"import_date"`
	IsNew          bool       `gorm:"column:is_new;not null;default:false" json:"is_new"`
	IsModified     bool       `gorm:"column:is_modified;not null;default:false" json:"is_modified"`
	IsProcessed    bool       `gorm:"column:is_processed;not null;default:false;index:idx_ledger_pending,priority:1" json:"is_processed"`
	HasError       bool       `gorm:"column:has_error;not null;default:false;index:idx_ledger_pending,priority:2" json:"has_error"`
	IsDeleted      bool       `gorm:"column:is_deleted;not null;default:false;index:idx_ledger_pending,priority:3" json:"is_deleted"`
	ErrorDetail    string     `gorm:"column:error_detail" json:"error_detail,omitempty"`
	Attempts       int        `gorm:"column:attempts;not null;default:0" json:"attempts"`
	ProcessedAt    *time.Time `gorm:"column:processed_at" json:"processed_at,omitempty"`
}

// TableName sets the table name for gorm.
func (LedgerEntry) TableName() string { return LedgerTable }

// State derives the lifecycle state. Deletion wins over error, error over processed.
func (e *LedgerEntry) State() State {
	switch {
	case e.IsDeleted:
		return StateDeleted
	case e.HasError:
		return StateError
	case e.IsProcessed:
		return StateProcessed
	default:
		return StatePending
	}
}

// Change classifies an identifier reported by the catalog.
type Change int

const (
	ChangeNew Change = iota
	ChangeModified
	ChangeDeleted
)

func (c Change) String() string {
	switch c {
	case ChangeNew:
		return "new"
	case ChangeModified:
		return "changed"
	case ChangeDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("change(%d)", int(c))
	}
}

// Provenance describes where a batch of identifiers came from.
type Provenance struct {
	ExtractionDate string
	ImportDate     string
	IsPublisher    bool
}

// Counts holds the number of ledger entries per state.
type Counts struct {
	Pending   int64 `json:"pending"`
	Processed int64 `json:"processed"`
	Error     int64 `json:"error"`
	Deleted   int64 `json:"deleted"`
	Total     int64 `json:"total"`
}

// Ledger provides operations on the ledger table.
type Ledger struct {
	db *gorm.DB
}

// NewLedger creates a Ledger over db, which may be a transaction.
func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// WithTx returns a Ledger bound to tx.
func (l *Ledger) WithTx(tx *gorm.DB) *Ledger {
	return &Ledger{db: tx}
}

// AutoMigrate creates or updates the ledger table.
func (l *Ledger) AutoMigrate() error {
	return l.db.AutoMigrate(&LedgerEntry{})
}

// Insert adds identifiers that are not in the ledger yet, flagged for change,
// and returns how many rows were created. Existing identifiers are untouched.
func (l *Ledger) Insert(ctx context.Context, ids []string, change Change, prov Provenance) (int64, error) {
	var inserted int64
	for _, chunk := range chunks(dedupe(ids)) {
		entries := make([]LedgerEntry, 0, len(chunk))
		for _, id := range chunk {
			entries = append(entries, LedgerEntry{
				Identifier:     id,
				ExtractionDate: prov.ExtractionDate,
				ImportDate:     prov.ImportDate,
				IsPublisher:    prov.IsPublisher,
				IsNew:          change == ChangeNew,
				IsModified:     change == ChangeModified,
				IsDeleted:      change == ChangeDeleted,
			})
		}
		res := l.db.WithContext(ctx).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "identifier"}}, DoNothing: true}).
			Create(&entries)
		if res.Error != nil {
			return inserted, fmt.Errorf("insert ledger entries: %w", res.Error)
		}
		inserted += res.RowsAffected
	}
	return inserted, nil
}

// Flag re-flags existing entries for change. New and modified identifiers
// return to PENDING; deleted ones become DELETED. Entries already DELETED
// are left alone. Returns the number of rows updated.
func (l *Ledger) Flag(ctx context.Context, ids []string, change Change) (int64, error) {
	var updates map[string]any
	switch change {
	case ChangeNew:
		updates = map[string]any{"is_new": true, "is_processed": false, "has_error": false}
	case ChangeModified:
		updates = map[string]any{"is_modified": true, "is_processed": false, "has_error": false}
	case ChangeDeleted:
		updates = map[string]any{"is_deleted": true, "is_processed": false}
	default:
		return 0, fmt.Errorf("unknown change %v", change)
	}

	var updated int64
	for _, chunk := range chunks(dedupe(ids)) {
		res := l.db.WithContext(ctx).Model(&LedgerEntry{}).
			Where("identifier IN ? AND is_deleted = ?", chunk, false).
			Updates(updates)
		if res.Error != nil {
			return updated, fmt.Errorf("flag ledger entries as %s: %w", change, res.Error)
		}
		updated += res.RowsAffected
	}
	return updated, nil
}

// Upsert re-flags the existing identifiers, then inserts the missing ones.
// flagged only counts entries that were in the ledger before the call.
func (l *Ledger) Upsert(ctx context.Context, ids []string, change Change, prov Provenance) (inserted, flagged int64, err error) {
	if flagged, err = l.Flag(ctx, ids, change); err != nil {
		return 0, flagged, err
	}
	if inserted, err = l.Insert(ctx, ids, change, prov); err != nil {
		return inserted, flagged, err
	}
	return inserted, flagged, nil
}

// ForcePending makes one identifier PENDING regardless of its state,
// creating it as new when missing. Used for operator-requested single runs.
func (l *Ledger) ForcePending(ctx context.Context, id string, prov Provenance) error {
	if _, err := l.Insert(ctx, []string{id}, ChangeNew, prov); err != nil {
		return err
	}
	res := l.db.WithContext(ctx).Model(&LedgerEntry{}).
		Where("identifier = ?", id).
		Updates(map[string]any{
			"is_new":       true,
			"is_processed": false,
			"has_error":    false,
			"is_deleted":   false,
		})
	if res.Error != nil {
		return fmt.Errorf("force %s pending: %w", id, res.Error)
	}
	return nil
}

// Pending returns up to limit PENDING identifiers in insertion order.
func (l *Ledger) Pending(ctx context.Context, limit int) ([]string, error) {
	var ids []string
	err := l.db.WithContext(ctx).Model(&LedgerEntry{}).
		Where("(is_new = ? OR is_modified = ?) AND is_processed = ? AND has_error = ? AND is_deleted = ?",
			true, true, false, false, false).
		Order("id ASC").
		Limit(limit).
		Pluck("identifier", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("select pending identifiers: %w", err)
	}
	return ids, nil
}

// MarkProcessed records a successful ingestion.
func (l *Ledger) MarkProcessed(ctx context.Context, id string, at time.Time) error {
	return l.mark(ctx, id, map[string]any{
		"is_processed": true,
		"is_modified":  false,
		"has_error":    false,
		"error_detail": "",
		"attempts":     gorm.Expr("attempts + 1"),
		"processed_at": at.UTC(),
	})
}

// MarkFailed records a failed ingestion with its cause.
func (l *Ledger) MarkFailed(ctx context.Context, id, detail string, at time.Time) error {
	return l.mark(ctx, id, map[string]any{
		"is_processed": false,
		"has_error":    true,
		"error_detail": detail,
		"attempts":     gorm.Expr("attempts + 1"),
		"processed_at": at.UTC(),
	})
}

func (l *Ledger) mark(ctx context.Context, id string, updates map[string]any) error {
	res := l.db.WithContext(ctx).Model(&LedgerEntry{}).Where("identifier = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update ledger entry %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update ledger entry %s: %w", id, ErrNotFound)
	}
	return nil
}

// Get returns the entry for id or ErrNotFound.
func (l *Ledger) Get(ctx context.Context, id string) (*LedgerEntry, error) {
	var e LedgerEntry
	err := l.db.WithContext(ctx).Where("identifier = ?", id).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger entry %s: %w", id, err)
	}
	return &e, nil
}

// Counts returns the number of entries per state.
func (l *Ledger) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := l.db.WithContext(ctx).Raw(`SELECT
		COALESCE(SUM(CASE WHEN is_deleted THEN 1 ELSE 0 END), 0) AS deleted,
		COALESCE(SUM(CASE WHEN NOT is_deleted AND has_error THEN 1 ELSE 0 END), 0) AS error,
		COALESCE(SUM(CASE WHEN NOT is_deleted AND NOT has_error AND is_processed THEN 1 ELSE 0 END), 0) AS processed,
		COALESCE(SUM(CASE WHEN NOT is_deleted AND NOT has_error AND NOT is_processed THEN 1 ELSE 0 END), 0) AS pending,
		COUNT(*) AS total
		FROM ` + LedgerTable).
		Scan(&c).Error
	if err != nil {
		return Counts{}, fmt.Errorf("count ledger states: %w", err)
	}
	return c, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func chunks(ids []string) [][]string {
	var out [][]string
	for len(ids) > chunkSize {
		out = append(out, ids[:chunkSize])
		ids = ids[chunkSize:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}
