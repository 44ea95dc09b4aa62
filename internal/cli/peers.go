package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/geogram-dev/geomirror/internal/logging"
	"github.com/geogram-dev/geomirror/internal/model"
	"github.com/geogram-dev/geomirror/internal/registry"
	"github.com/geogram-dev/geomirror/internal/ui"
)

func peersCommand() *cli.Command {
	return &cli.Command{
		Name:  "peers",
		Usage: "Manage paired devices",
		Description: `Peers are devices this one mirrors app folders with. A peer is
   referenced by its id, callsign or name.

   Examples:
     geomirror peers add --name laptop --callsign X1ABC --address 192.168.1.20:3456
     geomirror peers list --format json
     geomirror peers probe`,
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List paired peers",
				Flags:  []cli.Flag{formatFlag()},
				Action: withEnv(runPeersList),
			},
			{
				Name:      "show",
				Usage:     "Show one peer and its app policies",
				ArgsUsage: "<peer>",
				Flags:     []cli.Flag{formatFlag()},
				Action:    withEnv(runPeersShow),
			},
			{
				Name:  "add",
				Usage: "Pair a new peer",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Usage: "Display name"},
					&cli.StringFlag{Name: "callsign", Usage: "Peer callsign", Required: true},
					&cli.StringSliceFlag{Name: "address", Aliases: []string{"a"}, Usage: "host:port or URL, tried in order", Required: true},
					&cli.StringFlag{Name: "public-key", Usage: "Hex ed25519 key the peer signs requests with"},
					&cli.StringFlag{Name: "platform", Usage: "Device platform (android, linux, ...)"},
					&cli.StringSliceFlag{Name: "app", Usage: "Enable an app with send-receive style"},
				},
				Action: withEnv(runPeersAdd),
			},
			{
				Name:      "remove",
				Aliases:   []string{"rm"},
				Usage:     "Unpair a peer",
				ArgsUsage: "<peer>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "force", Aliases: []string{"y"}, Usage: "Skip the confirmation prompt"},
				},
				Action: withEnv(runPeersRemove),
			},
			{
				Name:   "probe",
				Usage:  "Check which peers are reachable",
				Action: withEnv(runPeersProbe),
			},
		},
		Action: withEnv(runPeersList),
	}
}

// peerOutput is the JSON/YAML shape of a peer.
type peerOutput struct {
	ID         string                `json:"id" yaml:"id"`
	Name       string                `json:"name" yaml:"name"`
	Callsign   string                `json:"callsign" yaml:"callsign"`
	Platform   string                `json:"platform,omitempty" yaml:"platform,omitempty"`
	Addresses  []string              `json:"addresses" yaml:"addresses"`
	PublicKey  string                `json:"public_key,omitempty" yaml:"public_key,omitempty"`
	Online     bool                  `json:"online" yaml:"online"`
	PairedAt   time.Time             `json:"paired_at" yaml:"paired_at"`
	LastSyncAt *time.Time            `json:"last_sync_at,omitempty" yaml:"last_sync_at,omitempty"`
	LastSeenAt *time.Time            `json:"last_seen_at,omitempty" yaml:"last_seen_at,omitempty"`
	Apps       []model.AppSyncConfig `json:"apps,omitempty" yaml:"apps,omitempty"`
}

func toPeerOutput(p model.Peer) peerOutput {
	out := peerOutput{
		ID:         p.ID,
		Name:       p.Name,
		Callsign:   p.Callsign,
		Platform:   p.Platform,
		Addresses:  p.Addresses,
		PublicKey:  p.PublicKey,
		Online:     p.IsOnline,
		PairedAt:   p.PairedAt,
		LastSyncAt: p.LastSyncAt,
		LastSeenAt: p.LastSeenAt,
	}
	for _, appID := range model.KnownApps {
		if cfg, ok := p.Apps[appID]; ok {
			out.Apps = append(out.Apps, cfg)
		}
	}
	return out
}

func lookupPeer(e *env, cmd *cli.Command) (model.Peer, error) {
	if cmd.Args().Len() < 1 {
		return model.Peer{}, errors.New("peer reference required (id, callsign or name)")
	}
	return findPeer(e, cmd.Args().First())
}

func findPeer(e *env, ref string) (model.Peer, error) {
	peer, ok := e.reg.Lookup(ref)
	if !ok {
		return model.Peer{}, fmt.Errorf("%w: %s", registry.ErrPeerNotFound, ref)
	}
	return peer, nil
}

func runPeersList(_ context.Context, cmd *cli.Command, e *env) error {
	format, err := outputFormat(cmd, e)
	if err != nil {
		return err
	}
	peers := e.reg.List()

	switch format {
	case formatJSON, formatYAML:
		outputs := make([]peerOutput, len(peers))
		for i, p := range peers {
			outputs[i] = toPeerOutput(p)
		}
		if format == formatJSON {
			return writeJSON(os.Stdout, outputs)
		}
		return writeYAML(os.Stdout, outputs)
	}

	if len(peers) == 0 {
		fmt.Println("No peers paired. Add one with 'geomirror peers add'.")
		return nil
	}
	rows := make([][]string, 0, len(peers))
	for _, p := range peers {
		rows = append(rows, []string{
			p.DisplayName(),
			p.Callsign,
			onlineLabel(p.IsOnline),
			ui.RelativeTime(p.LastSyncAt),
			strings.Join(p.EnabledApps(), ", "),
		})
	}
	fmt.Println(renderTable([]string{"NAME", "CALLSIGN", "STATUS", "LAST SYNC", "APPS"}, rows))
	return nil
}

func onlineLabel(online bool) string {
	if online {
		return ui.Success("online")
	}
	return ui.Dim("offline")
}

func runPeersShow(_ context.Context, cmd *cli.Command, e *env) error {
	peer, err := lookupPeer(e, cmd)
	if err != nil {
		return err
	}
	format, err := outputFormat(cmd, e)
	if err != nil {
		return err
	}
	switch format {
	case formatJSON:
		return writeJSON(os.Stdout, toPeerOutput(peer))
	case formatYAML:
		return writeYAML(os.Stdout, toPeerOutput(peer))
	}

	fmt.Println(ui.Header(peer.DisplayName()))
	fmt.Printf("  id:        %s\n", peer.ID)
	fmt.Printf("  callsign:  %s\n", peer.Callsign)
	if peer.Platform != "" {
		fmt.Printf("  platform:  %s\n", peer.Platform)
	}
	fmt.Printf("  addresses: %s\n", strings.Join(peer.Addresses, ", "))
	fmt.Printf("  status:    %s (last seen %s)\n", onlineLabel(peer.IsOnline), ui.RelativeTime(peer.LastSeenAt))
	fmt.Printf("  last sync: %s\n", ui.RelativeTime(peer.LastSyncAt))
	fmt.Println()

	rows := make([][]string, 0, len(model.KnownApps))
	for _, appID := range model.KnownApps {
		cfg := peer.AppConfig(appID)
		state := "disabled"
		if cfg.Enabled {
			state = "enabled"
		}
		rows = append(rows, []string{appID, state, string(cfg.Style), strings.Join(cfg.IgnorePatterns, " ")})
	}
	fmt.Println(renderTable([]string{"APP", "STATE", "STYLE", "IGNORE"}, rows))
	return nil
}

func runPeersAdd(_ context.Context, cmd *cli.Command, e *env) error {
	peer := model.Peer{
		Name:      cmd.String("name"),
		Callsign:  strings.ToUpper(strings.TrimSpace(cmd.String("callsign"))),
		Addresses: cmd.StringSlice("address"),
		PublicKey: strings.ToLower(strings.TrimSpace(cmd.String("public-key"))),
		Platform:  cmd.String("platform"),
	}
	if existing, ok := e.reg.FindByCallsign(peer.Callsign); ok {
		return fmt.Errorf("%w: callsign %s is paired as %s", registry.ErrPeerExists, peer.Callsign, existing.ID)
	}
	if apps := cmd.StringSlice("app"); len(apps) > 0 {
		peer.Apps = make(map[string]model.AppSyncConfig, len(apps))
		for _, appID := range apps {
			if !model.IsKnownApp(appID) {
				return fmt.Errorf("unknown app %q (known: %s)", appID, strings.Join(model.KnownApps, ", "))
			}
			cfg := model.DefaultAppSyncConfig(appID)
			cfg.Enabled = true
			peer.Apps[appID] = cfg
		}
	}

	added, err := e.reg.AddPeer(peer)
	if err != nil {
		return err
	}
	fmt.Println(ui.StatusSuccess(fmt.Sprintf("Paired %s (%s)", added.DisplayName(), added.ID)))
	if added.PublicKey == "" && e.cfg.Server.RequireAuth {
		fmt.Println(ui.StatusWarning("No public key set; this peer's requests will be rejected while server.require_auth is on"))
	}
	return nil
}

func runPeersRemove(_ context.Context, cmd *cli.Command, e *env) error {
	peer, err := lookupPeer(e, cmd)
	if err != nil {
		return err
	}
	if !cmd.Bool("force") {
		ok, err := newPrompter().confirm(fmt.Sprintf("Unpair %s (%s)?", peer.DisplayName(), peer.Callsign))
		if err != nil {
			return fmt.Errorf("confirmation error: %w", err)
		}
		if !ok {
			fmt.Println(ui.StatusSkipped("Cancelled"))
			return nil
		}
	}
	if err := e.reg.RemovePeer(peer.ID); err != nil {
		return err
	}
	if err := e.engine().ForgetHashes(peer); err != nil {
		logging.Warn("failed to drop hash caches", logging.Peer(peer.ID), logging.Err(err))
	}
	fmt.Println(ui.StatusSuccess("Unpaired " + peer.DisplayName()))
	fmt.Println(ui.Dim("Mirrored data is kept until 'geomirror cleanup' runs."))
	return nil
}

func runPeersProbe(ctx context.Context, _ *cli.Command, e *env) error {
	sched := e.scheduler(false, nil)
	online, err := sched.ProbeAll(ctx)
	if err != nil {
		return err
	}
	for _, p := range e.reg.List() {
		fmt.Printf("  %-24s %s\n", p.DisplayName(), onlineLabel(p.IsOnline))
	}
	fmt.Printf("%d of %d peers online\n", online, len(e.reg.List()))
	return nil
}
