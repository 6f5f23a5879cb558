// onixmirror - ONIX Catalog Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/onixmirror

package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/onixmirror/internal/api"
	"github.com/tomtom215/onixmirror/internal/logging"
	"github.com/tomtom215/onixmirror/internal/supervisor"
	"github.com/tomtom215/onixmirror/internal/supervisor/services"
)

func newServeCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled syncs and the HTTP API under supervision",
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

			tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
				FailureThreshold: 5,
				FailureBackoff:   15 * time.Second,
				ShutdownTimeout:  cfg.Server.ShutdownTimeout,
			})
			if err != nil {
				return err
			}

			manager := a.syncManager()
			handler := api.NewHandler(a.db.Ledger(), a.db, manager, a.pipeline)
			router := api.NewRouter(handler, api.NewMiddleware(api.MiddlewareConfigFrom(&cfg.Server)))
			server := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           router.Setup(),
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       30 * time.Second,
				WriteTimeout:      60 * time.Second,
				IdleTimeout:       120 * time.Second,
			}

			tree.AddSyncService(services.NewSyncService(manager))
			tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

			logging.Info().
				Str("addr", cfg.Server.Addr).
				Dur("sync_interval", cfg.Sync.Interval).
				Msg("Starting onixmirror service")

			err = tree.Serve(ctx)
			if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
				for _, svc := range report {
					logging.Warn().Str("service", svc.Name).Msg("Service did not stop in time")
				}
			}
			if errors.Is(err, context.Canceled) {
				logging.Info().Msg("Service stopped")
				return nil
			}
			return err
		},
	}
}
