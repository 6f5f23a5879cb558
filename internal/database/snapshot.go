// onixmirror - ONIX Catalog Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/onixmirror

package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tomtom215/onixmirror/internal/logging"
)

// SnapshotTimeFormat stamps snapshot file names.
const SnapshotTimeFormat = "20060102150405"

// SnapshotFile is one snapshot found on disk.
type SnapshotFile struct {
	Path      string
	CreatedAt time.Time
}

// Snapshot writes a consistent copy of the store to dir as
// <base>_<timestamp>.db and then prunes old snapshots down to the configured
// retention count.
func (db *DB) Snapshot(ctx context.Context, dir string) (string, error) {
	return db.snapshotAt(ctx, dir, time.Now().UTC())
}

func (db *DB) snapshotAt(ctx context.Context, dir string, at time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	base := db.snapshotBase()
	target := filepath.Join(dir, fmt.Sprintf("%s_%s.db", base, at.Format(SnapshotTimeFormat)))
	if _, err := os.Stat(target); err == nil {
		return "", fmt.Errorf("snapshot %s already exists", target)
	}

	if err := db.conn.WithContext(ctx).Exec("VACUUM INTO ?", target).Error; err != nil {
		return "", fmt.Errorf("snapshot: %w", err)
	}
	logging.Info().Str("path", target).Msg("Database snapshot written")

	if db.snapshotKeep > 0 {
		removed, err := PruneSnapshots(dir, base, db.snapshotKeep)
		if err != nil {
			// The new snapshot is already on disk; retention failures are not fatal.
			logging.Warn().Err(err).Str("dir", dir).Msg("Snapshot retention failed")
		} else if len(removed) > 0 {
			logging.Info().Int("removed", len(removed)).Int("keep", db.snapshotKeep).Msg("Old snapshots pruned")
		}
	}
	return target, nil
}

func (db *DB) snapshotBase() string {
	base := strings.TrimSuffix(filepath.Base(db.path), filepath.Ext(db.path))
	if isMemory(db.path) || base == "" {
		return "onixmirror"
	}
	return base
}

// ListSnapshots returns the snapshots of base found in dir, oldest first.
// Files whose name does not carry a valid timestamp are ignored.
func ListSnapshots(dir, base string) ([]SnapshotFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	prefix := base + "_"
	var snaps []SnapshotFile
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || filepath.Ext(name) != ".db" {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".db")
		at, err := time.Parse(SnapshotTimeFormat, stamp)
		if err != nil {
			continue
		}
		snaps = append(snaps, SnapshotFile{Path: filepath.Join(dir, name), CreatedAt: at})
	}

	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].CreatedAt.Before(snaps[j].CreatedAt)
	})
	return snaps, nil
}

// PruneSnapshots deletes the oldest snapshots of base in dir so that at most
// keep remain, and returns the removed paths. keep <= 0 keeps everything.
func PruneSnapshots(dir, base string, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	snaps, err := ListSnapshots(dir, base)
	if err != nil {
		return nil, err
	}
	if len(snaps) <= keep {
		return nil, nil
	}

	excess := snaps[:len(snaps)-keep]
	removed := make([]string, 0, len(excess))
	for _, s := range excess {
		if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("failed to remove snapshot %s: %w", s.Path, err)
		}
		removed = append(removed, s.Path)
	}
	return removed, nil
}
