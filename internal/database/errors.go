// onixmirror - ONIX Catalog Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/onixmirror

package database

import (
	"errors"
	"io"
)

// ErrNotFound is returned when an identifier has no ledger entry.
var ErrNotFound = errors.New("identifier not found in ledger")

// ErrInvalidName is returned for table or column names that are not plain SQL identifiers.
var ErrInvalidName = errors.New("invalid sql identifier")

// closeQuietly closes a resource on error paths where Close errors are not actionable.
func closeQuietly(closer io.Closer) {
	if closer != nil {
		_ = closer.Close() //nolint:errcheck // best effort
	}
}
