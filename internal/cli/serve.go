package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/geogram-dev/geomirror/internal/logging"
	"github.com/geogram-dev/geomirror/internal/scheduler"
	"github.com/geogram-dev/geomirror/internal/server"
	"github.com/geogram-dev/geomirror/internal/ui"
)

func listenFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "listen",
		Aliases: []string{"l"},
		Usage:   "Address to serve the mirror endpoints on (default from server.listen)",
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve this device's app folders to paired peers",
		Description: `Serves the manifest and file endpoints peers sync against. Requests
   must be signed by a registered peer unless server.require_auth is off.`,
		Flags:  []cli.Flag{listenFlag()},
		Action: withEnv(runServe),
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Sync continuously on an interval and on local changes",
		Description: `Probes and syncs every paired peer at startup, then again every
   sync.interval and shortly after files under the data directory change.
   With --serve the mirror server runs in the same process.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "serve",
				Usage: "Also serve the mirror endpoints",
			},
			&cli.BoolFlag{
				Name:  "no-fs-watch",
				Usage: "Only sync on the interval",
			},
			listenFlag(),
		},
		Action: withEnv(runWatch),
	}
}

func (e *env) server() (*server.Server, error) {
	return server.New(server.Options{
		DataDir:     e.cfg.Storage.DataDir,
		Callsign:    e.cfg.Identity.Callsign,
		SharedApps:  e.cfg.Server.SharedApps,
		RequireAuth: e.cfg.Server.RequireAuth,
		Registry:    e.reg,
		CORSOrigins: e.cfg.Server.CORSOrigins,
	})
}

func listenAddr(cmd *cli.Command, e *env) string {
	if addr := cmd.String("listen"); addr != "" {
		return addr
	}
	return e.cfg.Server.Listen
}

func runServe(ctx context.Context, cmd *cli.Command, e *env) error {
	if err := e.requireCallsign(); err != nil {
		return err
	}
	srv, err := e.server()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := listenAddr(cmd, e)
	fmt.Println(ui.StatusSuccess(fmt.Sprintf("Serving %s on %s", e.cfg.Identity.Callsign, addr)))
	return srv.ListenAndServe(ctx, addr)
}

func runWatch(ctx context.Context, cmd *cli.Command, e *env) error {
	if err := e.requireCallsign(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched := e.scheduler(e.cfg.Sync.Watch && !cmd.Bool("no-fs-watch"), func(sw scheduler.Sweep) {
		if sw.Totals.Sessions == 0 {
			return
		}
		for _, r := range sw.Results {
			if !r.Success || r.Changed() > 0 || r.Errors() > 0 {
				fmt.Println(ui.FormatResult(r))
			}
		}
		logging.Info("sweep totals", "summary", sw.Totals.Summary())
		e.pruneVersions()
	})

	errc := make(chan error, 2)
	running := 1
	if cmd.Bool("serve") {
		srv, err := e.server()
		if err != nil {
			return err
		}
		addr := listenAddr(cmd, e)
		fmt.Println(ui.StatusSuccess(fmt.Sprintf("Serving %s on %s", e.cfg.Identity.Callsign, addr)))
		go func() { errc <- srv.ListenAndServe(ctx, addr) }()
		running++
	}
	go func() { errc <- sched.Run(ctx) }()

	fmt.Println(ui.Info(fmt.Sprintf("Watching %d peers every %s (Ctrl+C to stop)", len(e.reg.List()), e.cfg.Sync.Interval)))

	// The first to return stops the other.
	var first error
	for range running {
		err := <-errc
		stop()
		if first == nil && err != nil && !errors.Is(err, context.Canceled) {
			first = err
		}
	}
	return first
}

// pruneVersions applies the configured retention to kept versions.
func (e *env) pruneVersions() {
	if !e.cfg.Backup.Enabled {
		return
	}
	report, err := e.backups().Prune(e.pruneOptions())
	if err != nil {
		logging.Warn("failed to prune kept versions", logging.Err(err))
		return
	}
	if len(report.Removed) > 0 {
		logging.Info("pruned kept versions", logging.Count(len(report.Removed)), logging.Bytes(report.Freed))
	}
}
