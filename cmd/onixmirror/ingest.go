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

	"github.com/tomtom215/onixmirror/internal/ingest"
)

func newIngestCommand(opts *globalOptions, stdout io.Writer) *cobra.Command {
	var final bool

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch and store every pending identifier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
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

			stats, err := a.pipeline.Run(ctx, ingest.RunOptions{FinalPass: final})
			if stats != nil {
				printStats(stdout, stats)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&final, "final", false, "VACUUM the store after draining.")
	return cmd
}

func printStats(w io.Writer, stats *ingest.Stats) {
	fmt.Fprintf(w, "run %s: %d batches, %d processed, %d failed, %d skipped in %s (%.1f records/s)\n",
		stats.RunID, stats.Batches, stats.Processed, stats.Failed, stats.Skipped,
		stats.Duration().Round(time.Millisecond), stats.RecordsPerSecond())
}
