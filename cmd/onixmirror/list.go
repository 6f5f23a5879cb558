// onixmirror - ONIX Catalog Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/onixmirror

package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tomtom215/onixmirror/internal/ingest"
	"github.com/tomtom215/onixmirror/internal/reconcile"
)

func newListCommand(opts *globalOptions, stdout io.Writer) *cobra.Command {
	var ingestAfter bool

	cmd := &cobra.Command{
		Use:   "list <program>",
		Short: "Load the identifiers of a catalog list into the ledger",
		Long: `Fetches the identifier list produced by a catalog program such as
getRecordListX_acme_all_E and inserts unseen identifiers as new. Programs
ending in _E come from the publisher itself.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := reconcile.ParseProgram(args[0]); err != nil {
				return err
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

			loader := reconcile.NewListLoader(a.client, a.db, cfg.Sync.ArchiveDir)
			report, err := loader.Load(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "%s: listed %d, inserted %d, already known %d\n",
				report.Program.Name, report.Listed, report.Inserted, report.Skipped)

			if !ingestAfter {
				return nil
			}
			stats, err := a.pipeline.Run(ctx, ingest.RunOptions{})
			if err != nil {
				return err
			}
			printStats(stdout, stats)
			return nil
		},
	}
	cmd.Flags().BoolVar(&ingestAfter, "ingest", false, "Drain the pipeline after loading.")
	return cmd
}
