package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/geogram-dev/geomirror/internal/cleanup"
	"github.com/geogram-dev/geomirror/internal/ui"
)

func cleanupCommand() *cli.Command {
	return &cli.Command{
		Name:  "cleanup",
		Usage: "Remove mirrored data of unpaired or stale callsigns",
		Description: `Deletes callsign folders under the data directory that belong to no
   paired peer, or whose newest file is older than cleanup.remote_cache_max_age.
   The local profile's folder is never removed.

   Examples:
     geomirror cleanup --dry-run
     geomirror cleanup --max-age 720h --yes`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "dry-run",
				Aliases: []string{"n"},
				Usage:   "List folders without removing them",
			},
			&cli.DurationFlag{
				Name:  "max-age",
				Usage: "Override cleanup.remote_cache_max_age (0 disables age checks)",
			},
			&cli.BoolFlag{
				Name:    "yes",
				Aliases: []string{"y"},
				Usage:   "Skip the confirmation prompt",
			},
		},
		Action: withEnv(runCleanup),
	}
}

func (e *env) cleanupOptions() cleanup.Options {
	opts := cleanup.Options{
		DataDir:     e.cfg.Storage.DataDir,
		OwnCallsign: e.cfg.Identity.Callsign,
		MaxAge:      e.cfg.Cleanup.RemoteCacheMaxAge.Std(),
	}
	for _, p := range e.reg.List() {
		if p.Callsign != "" {
			opts.Paired = append(opts.Paired, p.Callsign)
		}
	}
	return opts
}

func runCleanup(_ context.Context, cmd *cli.Command, e *env) error {
	opts := e.cleanupOptions()
	if cmd.IsSet("max-age") {
		opts.MaxAge = cmd.Duration("max-age")
	}
	return cleanupWithPrompt(opts, cmd.Bool("dry-run"), cmd.Bool("yes"), newPrompter())
}

// cleanupWithPrompt lists candidates, asks unless force, then removes them.
func cleanupWithPrompt(opts cleanup.Options, dryRun, force bool, p *prompter) error {
	candidates, err := cleanup.Plan(opts)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		fmt.Println(ui.StatusSuccess("Nothing to clean up"))
		return nil
	}

	var total int64
	rows := make([][]string, 0, len(candidates))
	for _, c := range candidates {
		total += c.Size
		rows = append(rows, []string{
			c.Callsign,
			c.Reason,
			humanize.Bytes(uint64(c.Size)), // #nosec G115 - sizes are non-negative
			fmt.Sprintf("%d", c.Files),
			humanize.Time(c.ModifiedAt),
		})
	}
	fmt.Println(renderTable([]string{"CALLSIGN", "REASON", "SIZE", "FILES", "MODIFIED"}, rows))

	if dryRun {
		fmt.Println(ui.StatusSkipped(fmt.Sprintf("Dry run: %d folders, %s would be freed", len(candidates), humanize.Bytes(uint64(total))))) // #nosec G115
		return nil
	}
	if !force {
		ok, err := p.confirm(fmt.Sprintf("Remove %d folders (%s)?", len(candidates), humanize.Bytes(uint64(total)))) // #nosec G115
		if err != nil {
			return fmt.Errorf("confirmation error: %w", err)
		}
		if !ok {
			fmt.Println(ui.StatusSkipped("Cancelled"))
			return nil
		}
	}

	report, err := cleanup.Run(opts)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, ui.StatusSuccess(fmt.Sprintf("Removed %d folders, freed %s", len(report.Removed), humanize.Bytes(uint64(report.Freed))))) // #nosec G115
	return nil
}
