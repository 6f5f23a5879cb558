// onixmirror - ONIX Catalog Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/onixmirror

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tomtom215/onixmirror/internal/config"
	"github.com/tomtom215/onixmirror/internal/logging"
)

var (
	// Version is set with -ldflags at build time.
	Version = "dev"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	overrides  config.Overrides
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := &globalOptions{}

	rc := &cobra.Command{
		Use:          "onixmirror",
		Short:        "onixmirror - mirror an ONIX catalog into SQLite",
		Version:      Version,
		SilenceUsage: true,
	}

	flags := rc.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Path to a YAML config file.")
	flags.StringVar(&opts.overrides.User, "user", "", "Catalog API user.")
	flags.StringVar(&opts.overrides.Password, "password", "", "Catalog API password.")
	flags.StringVar(&opts.overrides.DBPath, "db", "", "SQLite database path.")
	flags.StringVar(&opts.overrides.LogLevel, "log-level", "", "Log level: trace, debug, info, warn, error.")

	rc.AddCommand(
		newSingleCommand(opts),
		newListCommand(opts, stdout),
		newSyncCommand(opts, stdout),
		newIngestCommand(opts, stdout),
		newStatusCommand(opts, stdout),
		newServeCommand(opts),
	)
	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

// load reads the configuration, applies the flag overrides and initializes
// the process logger.
func (o *globalOptions) load() (*config.Config, error) {
	cfg, err := config.LoadFrom(o.configPath)
	if err != nil {
		return nil, err
	}
	o.overrides.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})
	return cfg, nil
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
