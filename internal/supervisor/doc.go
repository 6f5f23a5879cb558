// onixmirror - ONIX Catalog Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/onixmirror

/*
Package supervisor runs the service mode of onixmirror under suture v4.

	RootSupervisor ("onixmirror")
	├── SyncSupervisor ("sync-layer")
	│   └── SyncService (sync.Manager)
	└── APISupervisor ("api-layer")
	    └── HTTPServerService

Crashed services restart with suture's backoff. Supervisor events are logged
through sutureslog on the zerolog-backed slog handler:

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddSyncService(services.NewSyncService(manager))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	err = tree.Serve(ctx)

Serve returns when ctx is canceled, after every service has stopped or the
shutdown timeout elapsed. UnstoppedServiceReport names the stragglers.
*/
package supervisor
