// onixmirror - ONIX Catalog Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/onixmirror

package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// RotationPolicy declares when a RotatingWriter moves to its next segment.
// A zero limit disables that trigger; when both are zero the writer never rotates.
type RotationPolicy struct {
	// MaxBytes rotates once the current segment holds at least this many bytes.
	MaxBytes int64

	// MaxRecords rotates after this many Write calls. zerolog issues exactly
	// one Write per log entry, so this counts entries.
	MaxRecords int
}

// Segment is one rotated sink.
type Segment interface {
	io.Writer
	io.Closer
}

// SegmentOpener opens segment number seq (starting at 1) and reports how
// many bytes it already holds.
type SegmentOpener func(seq int) (Segment, int64, error)

// FileSegments opens <dir>/<prefix>_<seq>.log in append mode.
func FileSegments(dir, prefix string) SegmentOpener {
	return func(seq int) (Segment, int64, error) {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, 0, fmt.Errorf("create log directory: %w", err)
		}
		path := filepath.Join(dir, fmt.Sprintf("%s_%d.log", prefix, seq))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640) //nolint:gosec // path built from config
		if err != nil {
			return nil, 0, fmt.Errorf("open log segment: %w", err)
		}
		info, err := f.Stat()
		if err != nil {
			closeQuietly(f)
			return nil, 0, fmt.Errorf("stat log segment: %w", err)
		}
		return f, info.Size(), nil
	}
}

// RotatingWriter is an io.Writer that spreads entries over numbered segments
// according to a RotationPolicy. It is safe for concurrent use.
type RotatingWriter struct {
	mu      sync.Mutex
	policy  RotationPolicy
	open    SegmentOpener
	current Segment
	seq     int
	bytes   int64
	records int
}

// NewRotatingWriter returns a writer that opens its first segment lazily.
func NewRotatingWriter(policy RotationPolicy, open SegmentOpener) *RotatingWriter {
	return &RotatingWriter{policy: policy, open: open}
}

// Write implements io.Writer.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.current == nil {
		if err := w.next(); err != nil {
			return 0, err
		}
	}

	n, err := w.current.Write(p)
	w.bytes += int64(n)
	w.records++
	if err != nil {
		return n, err
	}

	if w.exhausted() {
		if cerr := w.current.Close(); cerr != nil {
			return n, fmt.Errorf("close log segment %d: %w", w.seq, cerr)
		}
		w.current = nil
	}
	return n, nil
}

func (w *RotatingWriter) exhausted() bool {
	if w.policy.MaxRecords > 0 && w.records >= w.policy.MaxRecords {
		return true
	}
	return w.policy.MaxBytes > 0 && w.bytes >= w.policy.MaxBytes
}

// next must be called with mu held.
func (w *RotatingWriter) next() error {
	w.seq++
	seg, size, err := w.open(w.seq)
	if err != nil {
		return err
	}
	w.current = seg
	w.bytes = size
	w.records = 0
	return nil
}

// Segment returns the number of the segment the next entry goes to.
func (w *RotatingWriter) Segment() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return w.seq + 1
	}
	return w.seq
}

// Close closes the current segment, if any.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return nil
	}
	err := w.current.Close()
	w.current = nil
	return err
}

func closeQuietly(c io.Closer) {
	_ = c.Close() //nolint:errcheck // best effort on error paths
}
