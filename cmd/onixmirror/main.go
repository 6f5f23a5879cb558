// onixmirror - ONIX Catalog Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/onixmirror

// Command onixmirror mirrors an ONIX 3.0 book catalog into SQLite.
//
// The catalog API reports identifiers; a ledger table tracks each one through
// ingestion, and every record is flattened into dynamically grown tables.
//
//	onixmirror list getRecordListX_acme_all_E --ingest   # seed from a list
//	onixmirror sync                                      # apply changes since the watermark
//	onixmirror single 9788400000001                      # refresh one record
//	onixmirror status --format table
//	onixmirror serve                                     # scheduled sync + HTTP API
//
// Configuration is layered by koanf: defaults, config.yaml (or --config),
// environment (ONIX_API_USER, ONIX_DB_PATH, ...) and finally the global flags.
//
// # Signal Handling
//
// SIGINT and SIGTERM cancel the running command. Identifiers whose fetch
// was in flight stay pending and are picked up by the next run.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}
