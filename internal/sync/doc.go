// onixmirror - ONIX Catalog Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/onixmirror

/*
Package sync orchestrates synchronization runs of the catalog mirror.

A run has four steps, each a failure stage:

 1. watermark: load the instant of the last successful run (or use --from)
 2. snapshot: copy the store with VACUUM INTO when a snapshot directory is set
 3. reconcile: apply the catalog's change report to the ledger, then
    ingest: drain every pending identifier in final-pass mode
 4. watermark: save the instant captured before the status call

The watermark only moves when every step succeeded, so a failed run is
retried from the same instant. The status file is rewritten after every run.

Manager serves both the one-shot sync command (RunOnce) and service mode
(Start, Stop, TriggerSync), where syncMu keeps runs from overlapping.

Usage Example:

	mgr := sync.NewManager(cfg, reconciler, pipeline, db)
	status, err := mgr.RunOnce(ctx, time.Time{})
*/
package sync
