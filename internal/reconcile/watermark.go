// onixmirror - ONIX Catalog Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/onixmirror

package reconcile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// WatermarkFormat is the on-disk format of the watermark, always UTC.
const WatermarkFormat = "2006-01-02T15:04:05Z"

// ErrNoWatermark is returned when no watermark has been saved yet.
var ErrNoWatermark = errors.New("no watermark saved")

// Watermark persists the instant from which the next reconciliation asks for changes.
type Watermark struct {
	path string
}

// NewWatermark returns a watermark stored in path.
func NewWatermark(path string) *Watermark {
	return &Watermark{path: path}
}

// Path returns the file path.
func (w *Watermark) Path() string {
	return w.path
}

// Load returns the saved instant or ErrNoWatermark.
func (w *Watermark) Load() (time.Time, error) {
	data, err := os.ReadFile(w.path)
	if errors.Is(err, os.ErrNotExist) {
		return time.Time{}, ErrNoWatermark
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read watermark: %w", err)
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return time.Time{}, ErrNoWatermark
	}
	t, err := time.Parse(WatermarkFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse watermark %q: %w", s, err)
	}
	return t, nil
}

// Save replaces the saved instant atomically.
func (w *Watermark) Save(t time.Time) error {
	return writeFileAtomic(w.path, []byte(t.UTC().Format(WatermarkFormat)+"\n"))
}

// ParseWatermark parses a user supplied watermark.
func ParseWatermark(s string) (time.Time, error) {
	t, err := time.Parse(WatermarkFormat, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected %s: %w", s, WatermarkFormat, err)
	}
	return t, nil
}

// writeFileAtomic writes data to a temporary file next to path and renames it.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
