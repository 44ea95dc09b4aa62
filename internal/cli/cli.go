// Package cli provides the command-line interface for geomirror.
package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/geogram-dev/geomirror/internal/logging"
	"github.com/geogram-dev/geomirror/internal/ui"
)

var (
	// Version is the current version of the application.
	Version = "dev"
	// Commit is the git commit hash.
	Commit = "unknown"
	// BuildDate is the date and time of the build.
	BuildDate = "unknown"
)

// Run executes the CLI application with the given context and arguments.
func Run(ctx context.Context, args []string) error {
	app := &cli.Command{
		Name:    "geomirror",
		Usage:   "Mirror geogram app folders between paired devices",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML or TOML config file",
				Sources: cli.EnvVars("GEOMIRROR_CONFIG"),
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable verbose output (info level logging)",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug output (debug level logging, implies verbose)",
			},
			&cli.BoolFlag{
				Name:  "no-color",
				Usage: "Disable colored output",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			configureColors(cmd)
			return ctx, configureLogging(cmd)
		},
		Commands: []*cli.Command{
			versionCommand(),
			configCommand(),
			identityCommand(),
			peersCommand(),
			appsCommand(),
			syncCommand(),
			serveCommand(),
			watchCommand(),
			statusCommand(),
			cleanupCommand(),
			backupsCommand(),
		},
	}
	return app.Run(ctx, args)
}

// configureColors applies --no-color, else the configured color mode.
func configureColors(cmd *cli.Command) {
	if cmd.Bool("no-color") {
		ui.DisableColors()
		return
	}
	mode := ui.ColorAuto
	if cfg, err := loadConfig(cmd); err == nil {
		mode = cfg.Output.Color
	}
	if err := ui.ConfigureColor(mode, os.Stdout); err != nil {
		ui.DisableColors()
	}
}

// configureLogging sets up the logging level based on CLI flags and config.
func configureLogging(cmd *cli.Command) error {
	opts := logging.DefaultOptions()
	opts.Level = slog.LevelWarn

	verbose := cmd.Bool("verbose")
	if !verbose {
		if cfg, err := loadConfig(cmd); err == nil {
			verbose = cfg.Output.Verbose
		}
	}

	if cmd.Bool("debug") {
		opts.Level = slog.LevelDebug
		opts.AddSource = true
	} else if verbose {
		opts.Level = slog.LevelInfo
	}

	logger := logging.New(opts)
	logging.SetDefault(logger)

	logging.Debug("logging configured", slog.String("level", opts.Level.String()))

	return nil
}
