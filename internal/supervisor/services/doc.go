// onixmirror - ONIX Catalog Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/onixmirror

// Package services wraps onixmirror components as suture.Service values.
//
// SyncService adapts the Start/Stop lifecycle of sync.Manager, and
// HTTPServerService adapts ListenAndServe/Shutdown of http.Server. Both
// return ctx.Err() on a requested shutdown and a wrapped error on failure,
// which makes suture restart them.
package services
