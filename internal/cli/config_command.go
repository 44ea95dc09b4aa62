package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/urfave/cli/v3"

	"github.com/geogram-dev/geomirror/internal/config"
	"github.com/geogram-dev/geomirror/internal/ui"
)

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Show or initialize the configuration",
		Commands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Print the effective configuration",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Value:   "yaml",
						Usage:   "Output format: yaml, toml, json",
					},
				},
				Action: runConfigShow,
			},
			{
				Name:  "path",
				Usage: "Print the config file location",
				Action: func(_ context.Context, cmd *cli.Command) error {
					if path := cmd.String("config"); path != "" {
						fmt.Println(path)
						return nil
					}
					fmt.Println(config.FilePath())
					return nil
				},
			},
			{
				Name:  "init",
				Usage: "Write a config file with default settings",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "callsign",
						Usage: "Callsign of the local profile",
					},
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Overwrite an existing config file",
					},
				},
				Action: runConfigInit,
			},
			{
				Name:      "set-callsign",
				Usage:     "Set the local profile callsign",
				ArgsUsage: "<CALLSIGN>",
				Action:    runConfigSetCallsign,
			},
		},
		Action: runConfigShow,
	}
}

func configTarget(cmd *cli.Command) string {
	if path := cmd.String("config"); path != "" {
		return path
	}
	return config.FilePath()
}

func runConfigShow(_ context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	format := cmd.String("format")
	if format == "" {
		format = "yaml"
	}
	switch format {
	case "yaml":
		return writeYAML(os.Stdout, cfg)
	case "json":
		return writeJSON(os.Stdout, cfg)
	case "toml":
		return toml.NewEncoder(os.Stdout).Encode(cfg)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func runConfigInit(_ context.Context, cmd *cli.Command) error {
	path := configTarget(cmd)
	if _, err := os.Stat(path); err == nil && !cmd.Bool("force") {
		return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	cfg := config.Default()
	if cs := cmd.String("callsign"); cs != "" {
		cfg.Identity.Callsign = strings.ToUpper(strings.TrimSpace(cs))
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.SaveToPath(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	fmt.Println(ui.StatusSuccess("Wrote " + path))
	return nil
}

func runConfigSetCallsign(_ context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return errors.New("usage: geomirror config set-callsign <CALLSIGN>")
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Identity.Callsign = strings.ToUpper(strings.TrimSpace(cmd.Args().First()))
	if err := cfg.Validate(); err != nil {
		return err
	}
	path := configTarget(cmd)
	if err := cfg.SaveToPath(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	fmt.Println(ui.StatusSuccess("Callsign set to " + cfg.Identity.Callsign))
	return nil
}
