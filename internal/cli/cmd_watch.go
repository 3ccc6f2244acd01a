package cli

import (
	"context"

	flag "github.com/spf13/pflag"
)

// WatchCmd returns the watch command: the foreground form of the daemon,
// useful for interactive debugging and for process supervisors that want
// to own the process lifecycle themselves.
func WatchCmd(open openProjectFunc) *Command {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.Bool("force", false, "Override a stale lock file")

	return &Command{
		Flags: fs,
		Usage: "watch [flags]",
		Short: "Watch the current directory and record changes until interrupted",
		Exec: func(ctx context.Context, io *IO, _ []string) error {
			return execWatch(ctx, io, open, fs)
		},
	}
}

func execWatch(ctx context.Context, io *IO, open openProjectFunc, fs *flag.FlagSet) error {
	force, _ := fs.GetBool("force")

	proj, closeFn, err := open()
	if err != nil {
		return err
	}
	defer closeFn()

	if err := proj.Start(ctx, force); err != nil {
		return err
	}

	io.Printf("watching %s (project %s)\n", proj.WorkDir, proj.ID)

	<-ctx.Done()

	if err := proj.Stop(); err != nil {
		return err
	}

	return nil
}
