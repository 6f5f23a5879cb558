// onixmirror - ONIX Catalog Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/onixmirror

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tomtom215/onixmirror/internal/database"
	"github.com/tomtom215/onixmirror/internal/ingest"
	"github.com/tomtom215/onixmirror/internal/reconcile"
)

// statusReport is what the status command prints.
type statusReport struct {
	Counts    database.Counts `json:"counts"`
	Watermark string          `json:"watermark,omitempty"`
	LastRun   *ingest.Summary `json:"last_run,omitempty"`
}

func newStatusCommand(opts *globalOptions, stdout io.Writer) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print ledger state counts and the last pipeline run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch format {
			case "json", "yaml", "table":
			default:
				return fmt.Errorf("unsupported format %q (use json, yaml or table)", format)
			}

			cfg, err := opts.load()
			if err != nil {
				return err
			}
			a, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := collectStatus(cmd.Context(), a.db.Ledger(), a.progress,
				reconcile.NewWatermark(cfg.Sync.WatermarkFile))
			if err != nil {
				return err
			}
			return printStatus(stdout, format, report)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "o", "table", "Output format: json, yaml or table.")
	return cmd
}

type countsReader interface {
	Counts(ctx context.Context) (database.Counts, error)
}

func collectStatus(ctx context.Context, ledger countsReader, progress ingest.ProgressTracker, wm *reconcile.Watermark) (*statusReport, error) {
	counts, err := ledger.Counts(ctx)
	if err != nil {
		return nil, err
	}
	report := &statusReport{Counts: counts}

	switch t, err := wm.Load(); {
	case err == nil:
		report.Watermark = t.UTC().Format(reconcile.WatermarkFormat)
	case !errors.Is(err, reconcile.ErrNoWatermark):
		return nil, err
	}

	last, err := progress.Load(ctx)
	if err != nil {
		return nil, err
	}
	if last != nil {
		report.LastRun = last.ToSummary(false)
	}
	return report, nil
}

func printStatus(w io.Writer, format string, report *statusReport) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "yaml":
		// Through JSON so that keys follow the json tags.
		data, err := json.Marshal(report)
		if err != nil {
			return err
		}
		var m any
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		return enc.Encode(m)
	default:
		return printStatusTable(w, report)
	}
}

func printStatusTable(w io.Writer, report *statusReport) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	row := func(cells ...string) {
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}

	c := report.Counts
	row("STATE", "COUNT")
	row("pending", strconv.FormatInt(c.Pending, 10))
	row("processed", strconv.FormatInt(c.Processed, 10))
	row("error", strconv.FormatInt(c.Error, 10))
	row("deleted", strconv.FormatInt(c.Deleted, 10))
	row("total", strconv.FormatInt(c.Total, 10))
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w)
	watermark := report.Watermark
	if watermark == "" {
		watermark = "none"
	}
	fmt.Fprintf(w, "watermark: %s\n", watermark)

	if r := report.LastRun; r != nil {
		fmt.Fprintf(w, "last run:  %s %s, %d batches, %d processed, %d failed, %d skipped\n",
			r.RunID, r.Status, r.Batches, r.Processed, r.Failed, r.Skipped)
	}
	return nil
}
