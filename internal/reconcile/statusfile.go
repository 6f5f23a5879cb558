// onixmirror - ONIX Catalog Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/onixmirror

package reconcile

import (
	"fmt"
	"strings"
	"time"
)

// RunStatus is the outcome of one synchronization run, written for operators.
type RunStatus struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Since      time.Time
	Report     *Report
	Processed  int
	Failed     int
	Err        error
}

// Succeeded reports whether the run completed without a fatal error.
func (s RunStatus) Succeeded() bool {
	return s.Err == nil
}

// String renders the status as key: value lines.
func (s RunStatus) String() string {
	var b strings.Builder
	line := func(k string, v any) {
		fmt.Fprintf(&b, "%s: %v\n", k, v)
	}

	if s.Succeeded() {
		line("status", "completed")
	} else {
		line("status", "failed")
		line("error", s.Err)
	}
	if s.RunID != "" {
		line("run_id", s.RunID)
	}
	line("started_at", s.StartedAt.UTC().Format(WatermarkFormat))
	line("finished_at", s.FinishedAt.UTC().Format(WatermarkFormat))
	line("since", s.Since.UTC().Format(WatermarkFormat))
	if s.Report != nil {
		line("new", s.Report.New)
		line("changed", s.Report.Changed)
		line("deleted", s.Report.Deleted)
		line("inserted", s.Report.Inserted)
	}
	line("processed", s.Processed)
	line("failed", s.Failed)
	return b.String()
}

// WriteStatus replaces the status file at path with s.
func WriteStatus(path string, s RunStatus) error {
	return writeFileAtomic(path, []byte(s.String()))
}
