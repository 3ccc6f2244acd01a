// Package main provides meowdiffd, the watcher daemon. It watches one
// project directory, batching filesystem events into records until
// terminated. Run it under a process supervisor (systemd, launchd, or a
// plain shell backgrounding) rather than self-daemonizing.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/ishowshao/meowdiff/internal/config"
	"github.com/ishowshao/meowdiff/internal/logging"
	"github.com/ishowshao/meowdiff/internal/project"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("meowdiffd", flag.ContinueOnError)
	dir := fs.StringP("dir", "d", "", "Project directory to watch (defaults to the current directory)")
	force := fs.Bool("force", false, "Override a stale lock file")
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	workDir := *dir
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			return 1
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, _, err := config.Load(workDir, config.Config{}, false, func(path string, keys []string) {
		fmt.Fprintln(os.Stderr, config.WarnLog(path, keys))
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	proj, err := project.Open(ctx, home, workDir, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	defer proj.DB.Close()

	// Tee this run's logs to stderr too, since meowdiffd is typically run
	// under a supervisor that captures stdout/stderr into its own log.
	stderrLogger, err := logging.New(proj.StateDir, true)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	proj.Logger = logging.WithProject(stderrLogger, proj.ID)

	if err := proj.Start(ctx, *force); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	cancel()

	if err := proj.Stop(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 2
	}

	return 0
}
