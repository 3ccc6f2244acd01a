package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/ishowshao/meowdiff/internal/config"
	"github.com/ishowshao/meowdiff/internal/project"
)

// openProjectFunc opens the project rooted at the resolved working
// directory and returns it alongside a cleanup function that must be
// called once the command is done using it.
type openProjectFunc func() (*project.Project, func(), error)

// newOpenProject builds an openProjectFunc bound to workDir, loading
// configuration the same way the watcher daemon does.
func newOpenProject(ctx context.Context, workDir string) openProjectFunc {
	return func() (*project.Project, func(), error) {
		cfg, _, err := config.Load(workDir, config.Config{}, false, func(path string, keys []string) {
			fmt.Fprintln(os.Stderr, config.WarnLog(path, keys))
		})
		if err != nil {
			return nil, nil, err
		}

		home, err := os.UserHomeDir()
		if err != nil {
			return nil, nil, fmt.Errorf("resolve home directory: %w", err)
		}

		proj, err := project.Open(ctx, home, workDir, cfg)
		if err != nil {
			return nil, nil, err
		}

		return proj, func() { _ = proj.DB.Close() }, nil
	}
}
