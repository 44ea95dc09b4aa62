package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/geogram-dev/geomirror/internal/logging"
	"github.com/geogram-dev/geomirror/internal/progress"
	"github.com/geogram-dev/geomirror/internal/scheduler"
	"github.com/geogram-dev/geomirror/internal/sync"
	"github.com/geogram-dev/geomirror/internal/ui"
	"github.com/geogram-dev/geomirror/internal/ui/tui"
)

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Sync enabled apps with paired peers now",
		Description: `Runs one sync session per (peer, enabled app) pair. Files missing or
   older on one side are copied from the other according to the app's
   sync style. Nothing is ever deleted because it is missing on a peer.

   Examples:
     geomirror sync
     geomirror sync --peer laptop
     geomirror sync --peer laptop --app chat --plain`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "peer",
				Aliases: []string{"p"},
				Usage:   "Only sync this peer (id, callsign or name)",
			},
			&cli.StringFlag{
				Name:    "app",
				Aliases: []string{"a"},
				Usage:   "Only sync this app",
			},
			&cli.BoolFlag{
				Name:  "online-only",
				Usage: "Probe peers first and skip unreachable ones",
			},
			&cli.BoolFlag{
				Name:  "plain",
				Usage: "Print progress bars and lines instead of the interactive monitor",
			},
		},
		Action: withEnv(runSync),
	}
}

func runSync(ctx context.Context, cmd *cli.Command, e *env) error {
	if err := e.requireCallsign(); err != nil {
		return err
	}

	interactive := ui.IsTerminal(os.Stdout) && !cmd.Bool("plain") && !cmd.Bool("debug")
	if !interactive && ui.IsTerminal(os.Stdout) {
		// One bar at a time on a terminal.
		e.cfg.Sync.ParallelPeers = 1
	}
	sched := e.scheduler(false, nil)

	sel := scheduler.Selection{
		PeerID:     cmd.String("peer"),
		AppID:      strings.ToLower(cmd.String("app")),
		OnlineOnly: cmd.Bool("online-only"),
	}
	if sel.PeerID != "" {
		peer, err := findPeer(e, sel.PeerID)
		if err != nil {
			return err
		}
		sel.PeerID = peer.ID
	}
	if sel.OnlineOnly {
		if _, err := sched.ProbeAll(ctx); err != nil {
			logging.Warn("failed to record peer reachability", logging.Err(err))
		}
	}

	sweep, err := runSweep(ctx, sched, sel, interactive)
	if len(sweep.Results) == 0 && err == nil {
		fmt.Println(ui.StatusSkipped("Nothing to sync: no enabled apps match"))
		return nil
	}
	printSweep(os.Stdout, sweep)
	if err != nil {
		return err
	}
	if sweep.Totals.Failed > 0 {
		return fmt.Errorf("%d of %d sessions failed", sweep.Totals.Failed, sweep.Totals.Sessions)
	}
	return nil
}

// runSweep runs a sweep while rendering its status stream.
func runSweep(ctx context.Context, sched *scheduler.Scheduler, sel scheduler.Selection, interactive bool) (scheduler.Sweep, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates := make(chan sync.Status, 64)
	type outcome struct {
		sweep scheduler.Sweep
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		sweep, err := sched.Sweep(ctx, sel, updates)
		close(updates)
		done <- outcome{sweep, err}
	}()

	if interactive {
		aborted, err := tui.RunSyncMonitor(updates)
		if err != nil || aborted {
			cancel()
		}
		// Drain so the sweep never blocks on a terminal status.
		for range updates {
		}
		if err != nil {
			<-done
			return scheduler.Sweep{}, fmt.Errorf("sync monitor: %w", err)
		}
	} else {
		renderStatuses(os.Stdout, updates)
	}

	out := <-done
	return out.sweep, out.err
}

// renderStatuses shows a progress bar per session until updates closes.
func renderStatuses(w io.Writer, updates <-chan sync.Status) {
	var (
		key     string
		session chan sync.Status
		tracked chan struct{}
	)
	finish := func() {
		if session == nil {
			return
		}
		close(session)
		<-tracked
		session = nil
	}
	for st := range updates {
		k := st.PeerID + "/" + st.AppID
		if session == nil || k != key {
			finish()
			key = k
			session = make(chan sync.Status, 16)
			tracked = make(chan struct{})
			go func(in <-chan sync.Status, done chan<- struct{}) {
				defer close(done)
				progress.Track(w, in)
			}(session, tracked)
		}
		session <- st
		if st.State.IsTerminal() {
			finish()
		}
	}
	finish()
}

func printSweep(w io.Writer, sweep scheduler.Sweep) {
	for _, r := range sweep.Results {
		_, _ = fmt.Fprintln(w, ui.FormatResult(r))
		_, _ = fmt.Fprint(w, ui.FormatFailures(r))
	}
	if len(sweep.Results) > 1 {
		_, _ = fmt.Fprintln(w, ui.FormatTotals(sweep.Totals))
	}
}
