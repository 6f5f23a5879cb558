// onixmirror - ONIX Catalog Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/onixmirror

package ingest

import (
	"context"
	"testing"
	"time"
)

func testTrackers(t *testing.T) map[string]ProgressTracker {
	t.Helper()
	badgerProgress, err := OpenBadgerProgress("")
	if err != nil {
		t.Fatalf("OpenBadgerProgress() error = %v", err)
	}
	t.Cleanup(func() { _ = badgerProgress.Close() })

	return map[string]ProgressTracker{
		"memory": NewInMemoryProgress(),
		"badger": badgerProgress,
	}
}

func TestProgressTrackers(t *testing.T) {
	for name, progress := range testTrackers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			loaded, err := progress.Load(ctx)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if loaded != nil {
				t.Errorf("Load() before Save() = %v, want nil", loaded)
			}

			stats := &Stats{
				RunID:          "a1b2c3d4",
				Batches:        2,
				Processed:      480,
				Failed:         20,
				LastIdentifier: "9788408123456",
				StartTime:      time.Now().Add(-5 * time.Minute).UTC().Truncate(time.Second),
			}
			if err := progress.Save(ctx, stats); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			stats.Processed = 999

			loaded, err = progress.Load(ctx)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if loaded == nil {
				t.Fatal("Load() = nil after Save()")
			}
			if loaded.Processed != 480 {
				t.Errorf("Processed = %d, want 480", loaded.Processed)
			}
			if loaded.RunID != "a1b2c3d4" || loaded.LastIdentifier != "9788408123456" {
				t.Errorf("Load() = %+v, want saved run", loaded)
			}
			if !loaded.StartTime.Equal(stats.StartTime) {
				t.Errorf("StartTime = %v, want %v", loaded.StartTime, stats.StartTime)
			}

			if err := progress.Clear(ctx); err != nil {
				t.Fatalf("Clear() error = %v", err)
			}
			if err := progress.Clear(ctx); err != nil {
				t.Fatalf("second Clear() error = %v", err)
			}
			loaded, err = progress.Load(ctx)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if loaded != nil {
				t.Errorf("Load() after Clear() = %v, want nil", loaded)
			}
		})
	}
}

func TestBadgerProgress_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := OpenBadgerProgress(dir)
	if err != nil {
		t.Fatalf("OpenBadgerProgress() error = %v", err)
	}
	if err := first.Save(ctx, &Stats{RunID: "run-1", Processed: 7, StartTime: time.Now()}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	second, err := OpenBadgerProgress(dir)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer func() { _ = second.Close() }()

	loaded, err := second.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded == nil || loaded.RunID != "run-1" || loaded.Processed != 7 {
		t.Errorf("Load() = %+v, want run-1 with 7 processed", loaded)
	}
}

func TestStatsSummary(t *testing.T) {
	start := time.Now().Add(-10 * time.Second)
	tests := []struct {
		name    string
		stats   *Stats
		running bool
		want    string
	}{
		{"running", &Stats{StartTime: start}, true, "running"},
		{"completed", &Stats{StartTime: start, EndTime: start.Add(10 * time.Second)}, false, "completed"},
		{"interrupted", &Stats{StartTime: start}, false, "interrupted"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.stats.ToSummary(tt.running).Status; got != tt.want {
				t.Errorf("ToSummary().Status = %s, want %s", got, tt.want)
			}
		})
	}

	s := &Stats{Processed: 90, Failed: 10, StartTime: start, EndTime: start.Add(10 * time.Second)}
	if rate := s.RecordsPerSecond(); rate != 10 {
		t.Errorf("RecordsPerSecond() = %f, want 10", rate)
	}
	if s.Handled() != 100 {
		t.Errorf("Handled() = %d, want 100", s.Handled())
	}
}
