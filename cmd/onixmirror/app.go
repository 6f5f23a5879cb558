// onixmirror - ONIX Catalog Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/onixmirror

package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/tomtom215/onixmirror/internal/catalog"
	"github.com/tomtom215/onixmirror/internal/config"
	"github.com/tomtom215/onixmirror/internal/database"
	"github.com/tomtom215/onixmirror/internal/events"
	"github.com/tomtom215/onixmirror/internal/ingest"
	"github.com/tomtom215/onixmirror/internal/logging"
	"github.com/tomtom215/onixmirror/internal/reconcile"
	syncpkg "github.com/tomtom215/onixmirror/internal/sync"
)

// app holds the components shared by the commands. Fields are nil when the
// command did not ask for them.
type app struct {
	cfg      *config.Config
	db       *database.DB
	client   *catalog.Client
	sink     events.Sink
	progress *ingest.BadgerProgress
	pipeline *ingest.Pipeline

	closers []io.Closer
}

// openStore opens the database and the progress tracker only, for commands
// that never reach the catalog.
func openStore(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	db, err := database.New(&cfg.Store)
	if err != nil {
		return nil, err
	}
	a.db = db
	a.closers = append(a.closers, db)

	progress, err := ingest.OpenBadgerProgress(cfg.Store.ProgressDir)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.progress = progress
	a.closers = append(a.closers, progress)
	return a, nil
}

// newApp wires the catalog client, event sink and pipeline on top of the store.
func newApp(cfg *config.Config) (*app, error) {
	if err := cfg.RequireCredentials(); err != nil {
		return nil, err
	}

	a, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	a.client = catalog.NewClient(&cfg.API)

	a.sink = events.Discard{}
	if cfg.Events.Enabled {
		pub, err := events.New(&cfg.Events)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("events: %w", err)
		}
		a.sink = pub
		a.closers = append(a.closers, pub)
	}

	a.pipeline = ingest.New(&cfg.Pipeline, a.client, a.db,
		ingest.WithSink(a.sink),
		ingest.WithProgress(a.progress),
	)
	return a, nil
}

func (a *app) reconciler() *reconcile.Reconciler {
	return reconcile.NewReconciler(a.client, a.db, a.sink, a.cfg.Sync.PurgeDeleted)
}

func (a *app) syncManager() *syncpkg.Manager {
	return syncpkg.NewManager(a.cfg, a.reconciler(), a.pipeline, a.db)
}

// Close releases everything in reverse opening order.
func (a *app) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		logging.Error().Err(err).Msg("Error closing resources")
	}
}
