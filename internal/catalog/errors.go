// onixmirror - ONIX Catalog Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/onixmirror

package catalog

import (
	"errors"
	"fmt"
)

// TransportError is a failure to obtain a response: network errors and
// non-2xx statuses. Transport errors are retried.
type TransportError struct {
	Op         string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: http status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ContentError is a response that arrived but cannot be used: an <error>
// element from the catalog or malformed XML. Content errors are not retried.
type ContentError struct {
	Op      string
	Message string
	Err     error
}

func (e *ContentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: content error: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: content error: %s", e.Op, e.Message)
}

func (e *ContentError) Unwrap() error { return e.Err }

// IsContentError reports whether err carries a *ContentError.
func IsContentError(err error) bool {
	var ce *ContentError
	return errors.As(err, &ce)
}

// IsTransportError reports whether err carries a *TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
