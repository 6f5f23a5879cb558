// onixmirror - ONIX Catalog Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/onixmirror

package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/onixmirror/internal/catalog"
	"github.com/tomtom215/onixmirror/internal/config"
	"github.com/tomtom215/onixmirror/internal/ingest"
	"github.com/tomtom215/onixmirror/internal/logging"
	"github.com/tomtom215/onixmirror/internal/metrics"
	"github.com/tomtom215/onixmirror/internal/reconcile"
)

var (
	// ErrNotRunning is returned by Stop and TriggerSync before Start.
	ErrNotRunning = errors.New("sync manager is not running")

	// ErrAlreadyRunning is returned by Start on a started manager.
	ErrAlreadyRunning = errors.New("sync manager is already running")

	// ErrSyncPending is returned by TriggerSync when a run is already queued.
	ErrSyncPending = errors.New("a sync run is already queued")
)

// Sync stages, used as metric labels and in errors.
const (
	StageWatermark = "watermark"
	StageSnapshot  = "snapshot"
	StageReconcile = "reconcile"
	StageIngest    = "ingest"
)

// Reconciler applies the catalog's change report to the ledger.
type Reconciler interface {
	Reconcile(ctx context.Context, since time.Time) (reconcile.Report, error)
}

// Ingester drains pending identifiers.
type Ingester interface {
	Run(ctx context.Context, opts ingest.RunOptions) (*ingest.Stats, error)
}

// Snapshotter copies the store before it is modified.
type Snapshotter interface {
	Snapshot(ctx context.Context, dir string) (string, error)
}

// StageError reports which step of a run failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("sync %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// IsCatalogFailure reports whether a run failed because the catalog could not
// be reached or answered with an unusable status report. Such a run leaves
// the watermark in place and the next run retries the same window.
func IsCatalogFailure(err error) bool {
	return catalog.IsTransportError(err) ||
		catalog.IsContentError(err) ||
		errors.Is(err, reconcile.ErrMalformedStatus)
}

// Manager runs synchronization: snapshot, reconcile, drain, then advance the
// watermark. In service mode it repeats on an interval and on demand.
type Manager struct {
	cfg         config.SyncConfig
	snapshotDir string
	reconciler  Reconciler
	pipeline    Ingester
	snapshots   Snapshotter
	watermark   *reconcile.Watermark
	now         func() time.Time

	mu         sync.RWMutex
	running    bool
	lastSync   time.Time
	lastStatus *reconcile.RunStatus
	cancel     context.CancelFunc

	syncMu   sync.Mutex // one run at a time
	trigger  chan struct{}
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewManager creates a Manager. snapshots may be nil when no snapshot
// directory is configured.
func NewManager(cfg *config.Config, reconciler Reconciler, pipeline Ingester, snapshots Snapshotter) *Manager {
	return &Manager{
		cfg:         cfg.Sync,
		snapshotDir: cfg.Store.SnapshotDir,
		reconciler:  reconciler,
		pipeline:    pipeline,
		snapshots:   snapshots,
		watermark:   reconcile.NewWatermark(cfg.Sync.WatermarkFile),
		now:         time.Now,
		trigger:     make(chan struct{}, 1),
		stopChan:    make(chan struct{}),
	}
}

// Watermark returns the watermark store.
func (m *Manager) Watermark() *reconcile.Watermark {
	return m.watermark
}

// RunOnce performs one synchronization. A zero since reads the saved
// watermark, which must exist. The status file is written whatever the outcome.
func (m *Manager) RunOnce(ctx context.Context, since time.Time) (reconcile.RunStatus, error) {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()
	return m.runOnce(ctx, since)
}

// runOnce must be called with syncMu held.
func (m *Manager) runOnce(ctx context.Context, since time.Time) (status reconcile.RunStatus, err error) {
	if logging.RunIDFromContext(ctx) == "" {
		ctx = logging.ContextWithNewRunID(ctx)
	}
	logger := logging.Ctx(ctx)
	status = reconcile.RunStatus{RunID: logging.RunIDFromContext(ctx), StartedAt: m.now()}

	stage := StageWatermark
	defer func() {
		status.FinishedAt = m.now()
		if err != nil {
			err = &StageError{Stage: stage, Err: err}
			status.Err = err
		}
		metrics.RecordSync(stage, err)
		if werr := reconcile.WriteStatus(m.cfg.StatusFile, status); werr != nil {
			logger.Warn().Err(werr).Str("path", m.cfg.StatusFile).Msg("Failed to write status file")
		}

		m.mu.Lock()
		if err == nil {
			m.lastSync = status.FinishedAt
		}
		s := status
		m.lastStatus = &s
		m.mu.Unlock()
	}()

	if since.IsZero() {
		if since, err = m.watermark.Load(); err != nil {
			return status, err
		}
	}
	status.Since = since
	logger.Info().Time("since", since).Msg("Sync started")

	if m.snapshots != nil && m.snapshotDir != "" {
		stage = StageSnapshot
		path, serr := m.snapshots.Snapshot(ctx, m.snapshotDir)
		if serr != nil {
			return status, serr
		}
		logger.Info().Str("path", path).Msg("Store snapshot written")
	}

	stage = StageReconcile
	report, err := m.reconciler.Reconcile(ctx, since)
	if err != nil {
		return status, err
	}
	status.Report = &report

	stage = StageIngest
	stats, err := m.pipeline.Run(ctx, ingest.RunOptions{FinalPass: true})
	if stats != nil {
		status.Processed = int(stats.Processed)
		status.Failed = int(stats.Failed)
	}
	if err != nil {
		return status, err
	}

	stage = StageWatermark
	if err = m.watermark.Save(report.Watermark); err != nil {
		return status, err
	}

	logger.Info().
		Time("watermark", report.Watermark).
		Int("processed", status.Processed).
		Int("failed", status.Failed).
		Msg("Sync completed")
	return status, nil
}

// Start runs an initial sync in the background, then one per interval and
// one per TriggerSync call, until Stop or ctx cancellation.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.running = true
	m.cancel = cancel
	m.stopChan = make(chan struct{})
	m.mu.Unlock()

	logging.Info().Dur("interval", m.cfg.Interval).Msg("Starting sync manager")

	m.wg.Add(1)
	go m.syncLoop(runCtx)

	select {
	case m.trigger <- struct{}{}:
	default:
	}
	return nil
}

func (m *Manager) syncLoop(ctx context.Context) {
	defer m.wg.Done()

	var tick <-chan time.Time
	if m.cfg.Interval > 0 {
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopChan:
			return
		case <-tick:
		case <-m.trigger:
		}

		if _, err := m.RunOnce(ctx, time.Time{}); err != nil {
			logging.Error().Err(err).Msg("Sync failed")
		}
	}
}

// Stop cancels a run in progress and waits for the loop to exit.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ErrNotRunning
	}
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	logging.Info().Msg("Stopping sync manager")
	close(m.stopChan)
	cancel()
	m.wg.Wait()

	// Drop a trigger queued after the loop exited.
	select {
	case <-m.trigger:
	default:
	}
	logging.Info().Msg("Sync manager stopped")
	return nil
}

// TriggerSync queues an immediate run. It does not wait for the run.
func (m *Manager) TriggerSync() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.running {
		return ErrNotRunning
	}
	select {
	case m.trigger <- struct{}{}:
		return nil
	default:
		return ErrSyncPending
	}
}

// IsRunning reports whether the service loop is active.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// LastSyncTime returns when the last successful run finished.
func (m *Manager) LastSyncTime() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSync
}

// LastStatus returns the outcome of the last run, or nil.
func (m *Manager) LastStatus() *reconcile.RunStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastStatus == nil {
		return nil
	}
	s := *m.lastStatus
	return &s
}
