package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/geogram-dev/geomirror/internal/logging"
	"github.com/geogram-dev/geomirror/internal/model"
	"github.com/geogram-dev/geomirror/internal/scheduler"
	"github.com/geogram-dev/geomirror/internal/ui"
	"github.com/geogram-dev/geomirror/internal/ui/tui"
)

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:    "status",
		Aliases: []string{"tui"},
		Usage:   "Open the interactive dashboard",
		Action:  withEnv(runStatus),
	}
}

func dashboardHeader(e *env) string {
	peers := e.reg.List()
	online := 0
	for _, p := range peers {
		if p.IsOnline {
			online++
		}
	}
	callsign := e.cfg.Identity.Callsign
	if callsign == "" {
		callsign = "no callsign"
	}
	return fmt.Sprintf("%s · %d peers · %d online", callsign, len(peers), online)
}

func runStatus(ctx context.Context, cmd *cli.Command, e *env) error {
	if !ui.IsTerminal(os.Stdout) {
		return runPeersList(ctx, cmd, e)
	}
	p := newPrompter()
	for {
		res, err := tui.RunDashboard(dashboardHeader(e))
		if err != nil {
			return fmt.Errorf("dashboard: %w", err)
		}

		switch res.View {
		case tui.DashboardViewNone:
			return nil
		case tui.DashboardViewPeers:
			err = statusPeers(ctx, e)
		case tui.DashboardViewSync:
			err = statusSync(ctx, e, scheduler.Selection{})
		case tui.DashboardViewCleanup:
			err = cleanupWithPrompt(e.cleanupOptions(), false, false, p)
		case tui.DashboardViewConfig:
			err = writeYAML(os.Stdout, e.cfg)
		}
		if err != nil {
			fmt.Println(ui.StatusError(err.Error()))
		}
		p.pause()
	}
}

func statusPeers(ctx context.Context, e *env) error {
	res, err := tui.RunPeerList(e.reg.List())
	if err != nil {
		return fmt.Errorf("peer list: %w", err)
	}
	switch res.Action {
	case tui.PeerActionSync:
		return statusSync(ctx, e, scheduler.Selection{PeerID: res.Peer.ID})
	case tui.PeerActionProbe:
		return probePeer(ctx, e, res.Peer)
	}
	return nil
}

func statusSync(ctx context.Context, e *env, sel scheduler.Selection) error {
	if err := e.requireCallsign(); err != nil {
		return err
	}
	sweep, err := runSweep(ctx, e.scheduler(false, nil), sel, true)
	if len(sweep.Results) == 0 && err == nil {
		fmt.Println(ui.StatusSkipped("Nothing to sync: no enabled apps"))
		return nil
	}
	printSweep(os.Stdout, sweep)
	return err
}

func probePeer(ctx context.Context, e *env, peer model.Peer) error {
	probeErr := e.prober()(ctx, peer)
	if err := e.reg.MarkPeerSeen(peer.ID, probeErr == nil); err != nil {
		return err
	}
	if probeErr != nil {
		logging.Debug("probe failed", logging.Peer(peer.ID), logging.Err(probeErr))
		fmt.Println(ui.StatusWarning(fmt.Sprintf("%s is offline: %v", peer.DisplayName(), probeErr)))
		return nil
	}
	fmt.Println(ui.StatusSuccess(peer.DisplayName() + " is online"))
	return nil
}
