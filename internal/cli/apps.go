package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/geogram-dev/geomirror/internal/model"
	"github.com/geogram-dev/geomirror/internal/ui"
)

func appsCommand() *cli.Command {
	return &cli.Command{
		Name:  "apps",
		Usage: "Configure which apps sync with a peer",
		Description: `Each (peer, app) pair has its own policy: whether it is enabled,
   its sync style, and glob patterns of paths to ignore.

   Styles: send-receive, receive-only, send-only, paused

   Examples:
     geomirror apps set laptop chat --enable
     geomirror apps set laptop blog --style receive-only --ignore "drafts/**"
     geomirror apps set laptop blog --disable`,
		Commands: []*cli.Command{
			{
				Name:      "list",
				Usage:     "List known apps and their policy for a peer",
				ArgsUsage: "<peer>",
				Flags:     []cli.Flag{formatFlag()},
				Action:    withEnv(runPeersShow),
			},
			{
				Name:      "set",
				Usage:     "Change one app's policy for a peer",
				ArgsUsage: "<peer> <app>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "enable", Usage: "Enable the app"},
					&cli.BoolFlag{Name: "disable", Usage: "Disable the app"},
					&cli.StringFlag{Name: "style", Aliases: []string{"s"}, Usage: "Sync style"},
					&cli.StringSliceFlag{Name: "ignore", Aliases: []string{"i"}, Usage: "Replace ignore patterns (repeatable)"},
					&cli.BoolFlag{Name: "clear-ignore", Usage: "Remove all ignore patterns"},
				},
				Action: withEnv(runAppsSet),
			},
		},
	}
}

func runAppsSet(_ context.Context, cmd *cli.Command, e *env) error {
	if cmd.Args().Len() != 2 {
		return errors.New("usage: geomirror apps set <peer> <app>")
	}
	peer, err := lookupPeer(e, cmd)
	if err != nil {
		return err
	}
	appID := strings.ToLower(cmd.Args().Get(1))
	if !model.IsKnownApp(appID) {
		return fmt.Errorf("unknown app %q (known: %s)", appID, strings.Join(model.KnownApps, ", "))
	}
	cfg, err := applyAppFlags(peer.AppConfig(appID), cmd)
	if err != nil {
		return err
	}
	if err := e.reg.UpdatePeerAppConfig(peer.ID, appID, cfg); err != nil {
		return err
	}

	state := "disabled"
	if cfg.Enabled {
		state = "enabled"
	}
	fmt.Println(ui.StatusSuccess(fmt.Sprintf("%s/%s: %s, %s", peer.DisplayName(), appID, state, cfg.Style)))
	return nil
}

// applyAppFlags returns cfg changed by the set flags only.
func applyAppFlags(cfg model.AppSyncConfig, cmd *cli.Command) (model.AppSyncConfig, error) {
	if cmd.Bool("enable") && cmd.Bool("disable") {
		return cfg, errors.New("--enable and --disable are mutually exclusive")
	}
	switch {
	case cmd.Bool("enable"):
		cfg.Enabled = true
	case cmd.Bool("disable"):
		cfg.Enabled = false
	}
	if s := cmd.String("style"); s != "" {
		style, err := model.ParseStyle(s)
		if err != nil {
			return cfg, err
		}
		cfg.Style = style
	}
	if cmd.Bool("clear-ignore") {
		cfg.IgnorePatterns = nil
	}
	if cmd.IsSet("ignore") {
		cfg.IgnorePatterns = cmd.StringSlice("ignore")
	}
	return cfg, nil
}
