// onixmirror - ONIX Catalog Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/onixmirror

package database

import (
	"fmt"
	"time"

	gormlogger "gorm.io/gorm/logger"

	"github.com/tomtom215/onixmirror/internal/logging"
)

// zerologWriter routes gorm's printf style output to the component logger.
type zerologWriter struct{}

func (zerologWriter) Printf(format string, args ...interface{}) {
	logger := logging.WithComponent("database")
	logger.Warn().Msg(fmt.Sprintf(format, args...))
}

// newGormLogger reports slow statements and errors only. Missing rows are
// a normal lookup outcome and are not logged.
func newGormLogger() gormlogger.Interface {
	return gormlogger.New(zerologWriter{}, gormlogger.Config{
		SlowThreshold:             500 * time.Millisecond,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}
