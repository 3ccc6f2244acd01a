// Package config loads MeowDiff's configuration: window_ms, compression,
// and default_ignore.extra (spec.md §9 "Configuration"), layered
// built-in-defaults -> global -> project -> CLI overrides, the same
// precedence and hujson/JSONC parsing tk's top-level config.go uses for
// its own Config.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"
)

// ConfigFileName is the project-local config file name.
const ConfigFileName = ".meowdiff.json"

// Config holds MeowDiff's known options (spec.md §9).
type Config struct {
	WindowMS      int    `json:"window_ms,omitempty"`
	Compression   string `json:"compression,omitempty"`
	DefaultIgnore struct {
		Extra []string `json:"extra,omitempty"`
	} `json:"default_ignore,omitempty"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		WindowMS:    50,
		Compression: "zstd",
	}
}

// Sources records which files contributed to the loaded config, for
// diagnostics.
type Sources struct {
	Global  string
	Project string
}

// Load resolves configuration with precedence (lowest to highest):
// built-in defaults, global ("~/.config/meowdiff/config.json" or
// $XDG_CONFIG_HOME), project (".meowdiff.json" at workDir), then
// cliOverrides. Unknown keys in either file are logged as warnings via
// warn, matching spec.md §9 "unknown keys are ignored with a warning".
func Load(workDir string, cliOverrides Config, hasWindowMSOverride bool, warn func(path string, keys []string)) (Config, Sources, error) {
	cfg := Default()
	var sources Sources

	globalPath := globalConfigPath()
	if globalPath != "" {
		globalCfg, unknown, loaded, err := loadFile(globalPath, false)
		if err != nil {
			return Config{}, Sources{}, err
		}
		if loaded {
			sources.Global = globalPath
			cfg = merge(cfg, globalCfg)
			if len(unknown) > 0 && warn != nil {
				warn(globalPath, unknown)
			}
		}
	}

	projectPath := filepath.Join(workDir, ConfigFileName)
	projectCfg, unknown, loaded, err := loadFile(projectPath, false)
	if err != nil {
		return Config{}, Sources{}, err
	}
	if loaded {
		sources.Project = projectPath
		cfg = merge(cfg, projectCfg)
		if len(unknown) > 0 && warn != nil {
			warn(projectPath, unknown)
		}
	}

	if hasWindowMSOverride {
		cfg.WindowMS = cliOverrides.WindowMS
	}

	if cfg.WindowMS <= 0 {
		return Config{}, Sources{}, fmt.Errorf("window_ms must be > 0, got %d", cfg.WindowMS)
	}

	return cfg, sources, nil
}

func globalConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "meowdiff", "config.json")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "meowdiff", "config.json")
}

var knownKeys = map[string]bool{
	"window_ms":      true,
	"compression":    true,
	"default_ignore": true,
}

func loadFile(path string, mustExist bool) (Config, []string, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, nil, false, nil
		}
		return Config{}, nil, false, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg, unknown, err := parse(data)
	if err != nil {
		return Config{}, nil, false, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, unknown, true, nil
}

func parse(data []byte) (Config, []string, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, nil, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, nil, fmt.Errorf("invalid JSON: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(standardized, &raw); err != nil {
		return Config{}, nil, fmt.Errorf("invalid JSON: %w", err)
	}

	var unknown []string
	for key := range raw {
		if !knownKeys[key] {
			unknown = append(unknown, key)
		}
	}

	return cfg, unknown, nil
}

func merge(base, overlay Config) Config {
	if overlay.WindowMS > 0 {
		base.WindowMS = overlay.WindowMS
	}
	if overlay.Compression != "" {
		base.Compression = overlay.Compression
	}
	if len(overlay.DefaultIgnore.Extra) > 0 {
		base.DefaultIgnore.Extra = append(append([]string{}, base.DefaultIgnore.Extra...), overlay.DefaultIgnore.Extra...)
	}

	return base
}

// WarnLog formats a default unknown-keys warning line, used by CLI/daemon
// entry points that don't need their own formatting.
func WarnLog(path string, keys []string) string {
	return fmt.Sprintf("config %s: unknown keys ignored: %s", path, strings.Join(keys, ", "))
}
