// onixmirror - ONIX Catalog Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/onixmirror

package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/onixmirror/internal/logging"
	"github.com/tomtom215/onixmirror/internal/reconcile"
	syncpkg "github.com/tomtom215/onixmirror/internal/sync"
)

func newSyncCommand(opts *globalOptions, stdout io.Writer) *cobra.Command {
	var from string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Apply the catalog changes since the watermark, then ingest",
		Long: `Reads the watermark file, optionally snapshots the store, applies the
catalog's change report to the ledger, drains the pipeline and advances the
watermark. The status file is written whatever the outcome.

When the catalog cannot be reached or returns an unusable change report, the
failure is recorded in the status file, the watermark is kept and the command
still exits 0; the next run retries the same window. Store and configuration
failures exit 1.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var since time.Time
			if from != "" {
				t, err := reconcile.ParseWatermark(from)
				if err != nil {
					return fmt.Errorf("--from: %w", err)
				}
				since = t
			}

			cfg, err := opts.load()
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			status, err := a.syncManager().RunOnce(ctx, since)
			fmt.Fprint(stdout, status.String())
			if err != nil && syncpkg.IsCatalogFailure(err) {
				logging.Warn().Err(err).Msg("Catalog unavailable, watermark kept")
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Start from this time ("+reconcile.WatermarkFormat+") instead of the watermark.")
	return cmd
}
