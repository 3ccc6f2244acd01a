package fsevents

import (
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// defaultIgnorePatterns are compiled in regardless of any project-specific
// .meowdiffignore (spec.md §6).
var defaultIgnorePatterns = []string{
	".git/",
	".meowdiff/",
	"node_modules/",
	"*.swp",
	"*.tmp",
}

// IgnoreMatcher implements Matcher on top of
// github.com/sabhiram/go-gitignore, compiled from the built-in defaults
// plus an optional project-root .meowdiffignore with "!pattern" negation
// support (the library's native behavior).
type IgnoreMatcher struct {
	compiled *gitignore.GitIgnore
}

// NewIgnoreMatcher compiles the built-in defaults plus extraPatterns (from
// config's default_ignore.extra) and, if present, the project's
// .meowdiffignore file.
func NewIgnoreMatcher(projectRoot string, extraPatterns []string) (*IgnoreMatcher, error) {
	lines := make([]string, 0, len(defaultIgnorePatterns)+len(extraPatterns))
	lines = append(lines, defaultIgnorePatterns...)
	lines = append(lines, extraPatterns...)

	ignoreFile := filepath.Join(projectRoot, ".meowdiffignore")
	if fileLines, err := readLinesIfExists(ignoreFile); err == nil {
		lines = append(lines, fileLines...)
	}

	compiled := gitignore.CompileIgnoreLines(lines...)

	return &IgnoreMatcher{compiled: compiled}, nil
}

// Matches reports whether path should be excluded from tracking.
func (m *IgnoreMatcher) Matches(path string) bool {
	return m.compiled.MatchesPath(path)
}

func readLinesIfExists(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return strings.Split(string(data), "\n"), nil
}
