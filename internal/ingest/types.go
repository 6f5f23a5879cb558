// onixmirror - ONIX Catalog Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/onixmirror

package ingest

import (
	"time"
)

// Stats holds statistics about a pipeline run.
type Stats struct {
	// RunID correlates the run with its log entries and events.
	RunID string `json:"run_id"`

	// Batches is the number of ledger batches drained.
	Batches int `json:"batches"`

	// Processed is the number of identifiers persisted successfully.
	Processed int64 `json:"processed"`

	// Failed is the number of identifiers marked as errors.
	Failed int64 `json:"failed"`

	// Skipped counts identifiers left pending because the run was canceled
	// while they were in flight.
	Skipped int64 `json:"skipped"`

	// LastIdentifier is the last identifier the persistence worker handled.
	LastIdentifier string `json:"last_identifier,omitempty"`

	StartTime time.Time `json:"start_time"`

	// EndTime is zero while the run is in progress.
	EndTime time.Time `json:"end_time,omitempty"`

	// Vacuumed is set when the final pass compacted the store.
	Vacuumed bool `json:"vacuumed"`
}

// Handled returns the number of identifiers with a recorded outcome.
func (s *Stats) Handled() int64 {
	return s.Processed + s.Failed
}

// Duration returns the duration of the run.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// RecordsPerSecond returns the persistence rate.
func (s *Stats) RecordsPerSecond() float64 {
	duration := s.Duration().Seconds()
	if duration == 0 {
		return 0
	}
	return float64(s.Handled()) / duration
}

// Summary is the JSON view of a run served by the status command and the API.
type Summary struct {
	Status         string    `json:"status"`
	RunID          string    `json:"run_id"`
	Batches        int       `json:"batches"`
	Processed      int64     `json:"processed"`
	Failed         int64     `json:"failed"`
	Skipped        int64     `json:"skipped"`
	RecordsPerSec  float64   `json:"records_per_second"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	StartTime      time.Time `json:"start_time"`
	LastIdentifier string    `json:"last_identifier,omitempty"`
}

// ToSummary converts Stats to a Summary.
func (s *Stats) ToSummary(running bool) *Summary {
	summary := &Summary{
		RunID:          s.RunID,
		Batches:        s.Batches,
		Processed:      s.Processed,
		Failed:         s.Failed,
		Skipped:        s.Skipped,
		RecordsPerSec:  s.RecordsPerSecond(),
		ElapsedSeconds: s.Duration().Seconds(),
		StartTime:      s.StartTime,
		LastIdentifier: s.LastIdentifier,
	}

	switch {
	case running:
		summary.Status = "running"
	case s.EndTime.IsZero():
		summary.Status = "interrupted"
	default:
		summary.Status = "completed"
	}
	return summary
}
