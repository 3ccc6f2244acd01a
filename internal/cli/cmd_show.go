package cli

import (
	"context"

	flag "github.com/spf13/pflag"
)

// ShowCmd returns the show command.
func ShowCmd(open openProjectFunc) *Command {
	return &Command{
		Flags: flag.NewFlagSet("show", flag.ContinueOnError),
		Usage: "show <record-id>",
		Short: "Show one record's file list and stats",
		Exec: func(ctx context.Context, io *IO, args []string) error {
			return execShow(ctx, io, open, args)
		},
	}
}

func execShow(ctx context.Context, io *IO, open openProjectFunc, args []string) error {
	if len(args) == 0 {
		return errRecordIDRequired
	}

	proj, closeFn, err := open()
	if err != nil {
		return err
	}
	defer closeFn()

	rec, err := proj.Query.Show(ctx, args[0])
	if err != nil {
		return err
	}

	io.Printf("record %s  %s -> %s\n", rec.RecordID, rec.StartedAt.Format("15:04:05.000"), rec.EndedAt.Format("15:04:05.000"))
	io.Printf("%d files, +%d/-%d lines\n", rec.Stats.Files, rec.Stats.LinesAdded, rec.Stats.LinesRemoved)

	for _, f := range rec.Files {
		io.Printf("  %-8s %s  (+%d/-%d)\n", f.Op, f.Path, f.Stats.Added, f.Stats.Removed)
	}

	return nil
}
