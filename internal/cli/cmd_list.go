package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ishowshao/meowdiff/internal/queryapi"

	flag "github.com/spf13/pflag"
)

const defaultListLimit = 50

// ListCmd returns the list command.
func ListCmd(open openProjectFunc) *Command {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.Int("limit", defaultListLimit, "Maximum records to show")
	fs.String("since", "", "Only records ending at or after this RFC3339 time")
	fs.String("until", "", "Only records ending at or before this RFC3339 time")
	fs.Bool("json", false, "Output as JSON array")

	return &Command{
		Flags: fs,
		Usage: "list [flags]",
		Short: "List committed records",
		Long:  "List records for the project rooted at the current directory, newest first.",
		Exec: func(ctx context.Context, io *IO, _ []string) error {
			return execList(ctx, io, open, fs)
		},
	}
}

func execList(ctx context.Context, io *IO, open openProjectFunc, fs *flag.FlagSet) error {
	limit, _ := fs.GetInt("limit")
	since, _ := fs.GetString("since")
	until, _ := fs.GetString("until")
	jsonOutput, _ := fs.GetBool("json")

	opts := queryapi.ListOptions{Limit: limit}
	if since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return fmt.Errorf("invalid --since: %w", err)
		}
		opts.FromTS = &t
	}
	if until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			return fmt.Errorf("invalid --until: %w", err)
		}
		opts.ToTS = &t
	}

	proj, closeFn, err := open()
	if err != nil {
		return err
	}
	defer closeFn()

	records, err := proj.Query.List(ctx, opts)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(io.out)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	for _, r := range records {
		io.Printf("%s  %s  %d files  +%d/-%d\n",
			r.RecordID, r.EndedAt.Format(time.RFC3339), r.Stats.Files, r.Stats.LinesAdded, r.Stats.LinesRemoved)
	}

	return nil
}
