// onixmirror - ONIX Catalog Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/onixmirror

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/onixmirror/internal/database"
	"github.com/tomtom215/onixmirror/internal/ingest"
	"github.com/tomtom215/onixmirror/internal/logging"
	"github.com/tomtom215/onixmirror/internal/validation"
)

func newSingleCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "single <identifier>",
		Short: "Fetch and store one record, whatever its ledger state",
		Long: `Marks the identifier PENDING in the ledger, fetches it from the catalog and
replaces its rows in the store.

Exits 0 when the record is stored. When the identifier ends in ERROR the
command prints the error detail recorded in the ledger and exits 1.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if err := validation.ValidateVar("identifier", id, "required,identifier"); err != nil {
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

			prov := database.Provenance{
				ImportDate:  time.Now().UTC().Format(database.TimestampFormat),
				IsPublisher: true,
			}
			if err := a.db.Ledger().ForcePending(ctx, id, prov); err != nil {
				return err
			}

			stats, err := a.pipeline.Run(ctx, ingest.RunOptions{Identifiers: []string{id}})
			if err != nil {
				return err
			}
			if stats.Failed > 0 {
				entry, gerr := a.db.Ledger().Get(ctx, id)
				if gerr == nil {
					return fmt.Errorf("ingest %s: %s", id, entry.ErrorDetail)
				}
				return fmt.Errorf("ingest %s failed", id)
			}
			logging.Info().Str("identifier", id).Msg("Record stored")
			return nil
		},
	}
}
