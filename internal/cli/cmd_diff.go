package cli

import (
	"context"

	flag "github.com/spf13/pflag"
)

// DiffCmd returns the diff command.
func DiffCmd(open openProjectFunc) *Command {
	fs := flag.NewFlagSet("diff", flag.ContinueOnError)
	fs.String("path", "", "Show only the patch section for this path")

	return &Command{
		Flags: fs,
		Usage: "diff <record-id> [flags]",
		Short: "Print a record's unified diff",
		Exec: func(ctx context.Context, io *IO, args []string) error {
			return execDiff(ctx, io, open, fs, args)
		},
	}
}

func execDiff(ctx context.Context, io *IO, open openProjectFunc, fs *flag.FlagSet, args []string) error {
	if len(args) == 0 {
		return errRecordIDRequired
	}
	path, _ := fs.GetString("path")

	proj, closeFn, err := open()
	if err != nil {
		return err
	}
	defer closeFn()

	patch, err := proj.Query.Diff(ctx, args[0], path)
	if err != nil {
		return err
	}

	io.Printf("%s", patch)

	return nil
}
