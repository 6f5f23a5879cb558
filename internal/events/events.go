// onixmirror - ONIX Catalog Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/onixmirror

// Package events publishes change notifications about the mirror on
// watermill: the in-process gochannel by default, or NATS.
package events

import (
	"context"
	"time"
)

// Topic suffixes. The configured prefix is prepended with a dot.
const (
	TopicReconciled = "ledger.reconciled"
	TopicProcessed  = "record.processed"
	TopicFailed     = "record.failed"
	TopicDeleted    = "record.deleted"
)

// ReconciledEvent summarizes one committed reconciliation.
type ReconciledEvent struct {
	RunID      string    `json:"run_id,omitempty"`
	Since      time.Time `json:"since"`
	Watermark  time.Time `json:"watermark"`
	New        int       `json:"new"`
	Changed    int       `json:"changed"`
	Deleted    int       `json:"deleted"`
	Inserted   int64     `json:"inserted"`
	OccurredAt time.Time `json:"occurred_at"`
}

// RecordEvent describes the outcome for one identifier.
type RecordEvent struct {
	RunID      string    `json:"run_id,omitempty"`
	Identifier string    `json:"identifier"`
	Tables     []string  `json:"tables,omitempty"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Sink receives change notifications. Implementations must not block for long
// and never report failures to the caller.
type Sink interface {
	Reconciled(ctx context.Context, ev ReconciledEvent)
	Processed(ctx context.Context, ev RecordEvent)
	Failed(ctx context.Context, ev RecordEvent)
	Deleted(ctx context.Context, ev RecordEvent)
}

// Discard is a Sink that drops everything.
type Discard struct{}

func (Discard) Reconciled(context.Context, ReconciledEvent) {}
func (Discard) Processed(context.Context, RecordEvent)      {}
func (Discard) Failed(context.Context, RecordEvent)         {}
func (Discard) Deleted(context.Context, RecordEvent)        {}
