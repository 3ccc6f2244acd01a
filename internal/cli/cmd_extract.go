package cli

import (
	"context"
	"errors"

	"github.com/ishowshao/meowdiff/internal/errs"

	flag "github.com/spf13/pflag"
)

// ExtractCmd returns the extract command.
func ExtractCmd(open openProjectFunc) *Command {
	fs := flag.NewFlagSet("extract", flag.ContinueOnError)
	fs.String("out", "", "Output directory (required)")
	fs.Bool("force", false, "Write into a non-empty output directory")

	return &Command{
		Flags: fs,
		Usage: "extract <record-id> --out <dir> [flags]",
		Short: "Write a record's after-content files to a directory",
		Exec: func(ctx context.Context, io *IO, args []string) error {
			return execExtract(ctx, io, open, fs, args)
		},
	}
}

func execExtract(ctx context.Context, io *IO, open openProjectFunc, fs *flag.FlagSet, args []string) error {
	if len(args) == 0 {
		return errRecordIDRequired
	}

	out, _ := fs.GetString("out")
	if out == "" {
		return errors.New("--out is required")
	}
	force, _ := fs.GetBool("force")

	proj, closeFn, err := open()
	if err != nil {
		return err
	}
	defer closeFn()

	if err := proj.Query.Extract(ctx, args[0], out, force); err != nil {
		if errors.Is(err, errs.ErrTargetConflict) {
			io.WarnLLM(err.Error(), "pass --force to overwrite, or choose an empty --out directory")
		}
		return err
	}

	io.Printf("extracted %s to %s\n", args[0], out)

	return nil
}
