package cli

import (
	"context"
	"os"
	"path/filepath"

	"github.com/ishowshao/meowdiff/internal/fsx"
	"github.com/ishowshao/meowdiff/internal/lockfile"
	"github.com/ishowshao/meowdiff/internal/pathid"

	flag "github.com/spf13/pflag"
)

// StatusCmd returns the status command.
func StatusCmd(workDir string) *Command {
	return &Command{
		Flags: flag.NewFlagSet("status", flag.ContinueOnError),
		Usage: "status",
		Short: "Report whether a watcher is running for the current project",
		Exec: func(_ context.Context, io *IO, _ []string) error {
			return execStatus(io, workDir)
		},
	}
}

func execStatus(io *IO, workDir string) error {
	absWorkDir, err := filepath.Abs(workDir)
	if err != nil {
		return err
	}

	id := pathid.ProjectID(absWorkDir)

	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	lockPath := filepath.Join(home, ".meowdiff", id, "meta", "watch.lock")

	info, held, err := lockfile.Status(fsx.NewReal(), lockPath)
	if err != nil {
		return err
	}

	if !held {
		io.Printf("not running (project %s)\n", id)
		return errNothingRunning
	}

	io.Printf("running: pid %d, since %s (project %s)\n", info.PID, info.StartedAt.Format("2006-01-02T15:04:05Z07:00"), id)

	return nil
}
