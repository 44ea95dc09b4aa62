package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/geogram-dev/geomirror/internal/backup"
	"github.com/geogram-dev/geomirror/internal/ui"
	"github.com/geogram-dev/geomirror/internal/util"
)

func backupsCommand() *cli.Command {
	return &cli.Command{
		Name:    "backups",
		Aliases: []string{"versions"},
		Usage:   "List, restore and prune versions of files a sync replaced or deleted",
		Commands: []*cli.Command{
			{
				Name:      "list",
				Aliases:   []string{"ls"},
				Usage:     "List kept versions, newest first",
				ArgsUsage: "[CALLSIGN[/APP]]",
				Flags: []cli.Flag{
					formatFlag(),
					&cli.StringFlag{
						Name:  "path",
						Usage: "Only versions of this file (relative to the app folder; needs CALLSIGN/APP)",
					},
				},
				Action: withEnv(runBackupsList),
			},
			{
				Name:      "restore",
				Usage:     "Write a kept version back into its app folder",
				ArgsUsage: "<ID>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "to",
						Aliases: []string{"o"},
						Usage:   "Restore to this path instead of the original location",
					},
				},
				Action: withEnv(runBackupsRestore),
			},
			{
				Name:  "prune",
				Usage: "Remove versions beyond backup.max_per_file or older than backup.max_age",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "dry-run",
						Aliases: []string{"n"},
						Usage:   "List versions without removing them",
					},
					&cli.IntFlag{
						Name:  "keep",
						Usage: "Override backup.max_per_file",
					},
					&cli.DurationFlag{
						Name:  "max-age",
						Usage: "Override backup.max_age",
					},
				},
				Action: withEnv(runBackupsPrune),
			},
		},
		Action: withEnv(runBackupsList),
	}
}

type backupOutput struct {
	ID         string `json:"id" yaml:"id"`
	Scope      string `json:"scope" yaml:"scope"`
	Path       string `json:"path" yaml:"path"`
	Reason     string `json:"reason" yaml:"reason"`
	Size       int64  `json:"size" yaml:"size"`
	Hash       string `json:"hash" yaml:"hash"`
	CreatedAt  string `json:"created_at" yaml:"created_at"`
	ModifiedAt string `json:"modified_at" yaml:"modified_at"`
}

func runBackupsList(_ context.Context, cmd *cli.Command, e *env) error {
	format, err := outputFormat(cmd, e)
	if err != nil {
		return err
	}
	scope := cmd.Args().First()
	store := e.backups()

	var versions []backup.Metadata
	if rel := cmd.String("path"); rel != "" {
		if scope == "" {
			return errors.New("--path needs a CALLSIGN/APP argument")
		}
		versions, err = store.History(scope, rel)
	} else {
		versions, err = store.List(scope)
	}
	if err != nil {
		return err
	}

	switch format {
	case formatJSON, formatYAML:
		out := make([]backupOutput, 0, len(versions))
		for _, m := range versions {
			out = append(out, backupOutput{
				ID:         m.ID,
				Scope:      m.Scope,
				Path:       m.Path,
				Reason:     m.Reason,
				Size:       m.Size,
				Hash:       m.Hash,
				CreatedAt:  m.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
				ModifiedAt: m.ModifiedAt.Format("2006-01-02T15:04:05Z07:00"),
			})
		}
		if format == formatJSON {
			return writeJSON(os.Stdout, out)
		}
		return writeYAML(os.Stdout, out)
	}

	if len(versions) == 0 {
		fmt.Println(ui.Dim("No kept versions"))
		return nil
	}
	rows := make([][]string, 0, len(versions))
	for _, m := range versions {
		rows = append(rows, []string{
			m.ID,
			m.Scope + "/" + m.Path,
			m.Reason,
			humanize.Bytes(uint64(m.Size)), // #nosec G115 - sizes are non-negative
			humanize.Time(m.CreatedAt),
		})
	}
	fmt.Println(renderTable([]string{"ID", "FILE", "REASON", "SIZE", "KEPT"}, rows))
	return nil
}

func runBackupsRestore(_ context.Context, cmd *cli.Command, e *env) error {
	if cmd.Args().Len() != 1 {
		return errors.New("expected exactly one version ID")
	}
	store := e.backups()
	m, err := store.Get(cmd.Args().First())
	if err != nil {
		return err
	}

	target := cmd.String("to")
	if target == "" {
		scopeDir, err := util.ScopedPath(e.cfg.Storage.DataDir, m.Scope)
		if err != nil {
			return err
		}
		if target, err = util.ScopedPath(scopeDir, m.Path); err != nil {
			return err
		}
	}
	if err := store.Restore(m.ID, target); err != nil {
		return err
	}
	fmt.Println(ui.StatusSuccess(fmt.Sprintf("Restored %s/%s to %s", m.Scope, m.Path, filepath.Clean(target))))
	return nil
}

func runBackupsPrune(_ context.Context, cmd *cli.Command, e *env) error {
	opts := e.pruneOptions()
	if cmd.IsSet("keep") {
		opts.MaxPerFile = int(cmd.Int("keep"))
	}
	if cmd.IsSet("max-age") {
		opts.MaxAge = cmd.Duration("max-age")
	}
	opts.DryRun = cmd.Bool("dry-run")

	report, err := e.backups().Prune(opts)
	if err != nil {
		return err
	}
	if report.DryRun {
		for _, m := range report.Removed {
			fmt.Printf("  %s  %s/%s\n", m.ID, m.Scope, m.Path)
		}
		fmt.Println(ui.StatusSkipped(fmt.Sprintf("Dry run: %d versions, %s would be freed", len(report.Removed), humanize.Bytes(uint64(report.Freed))))) // #nosec G115
		return nil
	}
	fmt.Println(ui.StatusSuccess(fmt.Sprintf("Pruned %d versions, freed %s", len(report.Removed), humanize.Bytes(uint64(report.Freed))))) // #nosec G115
	return nil
}
