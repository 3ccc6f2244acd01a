package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ishowshao/meowdiff/internal/errs"
	"github.com/ishowshao/meowdiff/internal/queryapi"

	flag "github.com/spf13/pflag"
)

// RestoreCmd returns the restore command.
func RestoreCmd(open openProjectFunc) *Command {
	fs := flag.NewFlagSet("restore", flag.ContinueOnError)
	fs.String("to", "before", "Target snapshot: \"before\" or \"after\" the record")
	fs.Bool("apply", false, "Apply the restore; without this flag, only print the plan")
	fs.Bool("force", false, "Apply even if the working tree has diverged from the expected snapshot")

	return &Command{
		Flags: fs,
		Usage: "restore <record-id> [flags]",
		Short: "Restore working tree files to a record's before/after snapshot",
		Long: "Without --apply, restore changes nothing and prints the unified patch that " +
			"--apply would write, without checking for divergence. With --apply, it rewrites files, " +
			"failing on any divergence unless --force is given.",
		Exec: func(ctx context.Context, io *IO, args []string) error {
			return execRestore(ctx, io, open, fs, args)
		},
	}
}

func execRestore(ctx context.Context, io *IO, open openProjectFunc, fs *flag.FlagSet, args []string) error {
	if len(args) == 0 {
		return errRecordIDRequired
	}

	to, _ := fs.GetString("to")
	apply, _ := fs.GetBool("apply")
	force, _ := fs.GetBool("force")

	var mode queryapi.RestoreMode
	switch strings.ToLower(to) {
	case "before", "":
		mode = queryapi.RestoreToBefore
	case "after":
		mode = queryapi.RestoreToAfter
	default:
		return fmt.Errorf("--to must be \"before\" or \"after\", got %q", to)
	}

	action := queryapi.RestorePrint
	if apply {
		action = queryapi.RestoreApply
	}

	workDir, err := os.Getwd()
	if err != nil {
		return err
	}

	proj, closeFn, err := open()
	if err != nil {
		return err
	}
	defer closeFn()

	patch, err := proj.Query.Restore(ctx, workDir, args[0], mode, action, force)
	if err != nil {
		var conflictErr *errs.RestoreConflictError
		if errors.As(err, &conflictErr) {
			io.WarnLLM(conflictErr.Error(), "pass --force to overwrite the diverged paths, or resolve them manually")
			for _, p := range conflictErr.Paths {
				io.Printf("conflict: %s\n", p)
			}
		}
		return err
	}

	if !apply {
		io.Printf("%s", string(patch))
		return nil
	}

	io.Printf("restored %s to %s\n", args[0], to)

	return nil
}
