package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ishowshao/meowdiff/internal/config"
)

func TestLoad_DefaultsWhenNoFilesPresent(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg-empty"))

	cfg, sources, err := config.Load(dir, config.Config{}, false, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WindowMS != 50 {
		t.Fatalf("WindowMS=%d, want 50", cfg.WindowMS)
	}
	if cfg.Compression != "zstd" {
		t.Fatalf("Compression=%q, want zstd", cfg.Compression)
	}
	if sources.Global != "" || sources.Project != "" {
		t.Fatalf("sources=%+v, want none loaded", sources)
	}
}

func TestLoad_ProjectConfigOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg-empty"))

	content := `{"window_ms": 200, "default_ignore": {"extra": ["*.bak"]}}`
	if err := os.WriteFile(filepath.Join(dir, config.ConfigFileName), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, sources, err := config.Load(dir, config.Config{}, false, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WindowMS != 200 {
		t.Fatalf("WindowMS=%d, want 200", cfg.WindowMS)
	}
	if len(cfg.DefaultIgnore.Extra) != 1 || cfg.DefaultIgnore.Extra[0] != "*.bak" {
		t.Fatalf("DefaultIgnore.Extra=%v, want [*.bak]", cfg.DefaultIgnore.Extra)
	}
	if sources.Project == "" {
		t.Fatalf("expected Project source recorded")
	}
}

func TestLoad_CLIOverrideWinsOverProjectConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg-empty"))

	content := `{"window_ms": 200}`
	if err := os.WriteFile(filepath.Join(dir, config.ConfigFileName), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, _, err := config.Load(dir, config.Config{WindowMS: 999}, true, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WindowMS != 999 {
		t.Fatalf("WindowMS=%d, want 999 (CLI override)", cfg.WindowMS)
	}
}

func TestLoad_UnknownKeysReportedViaWarnCallback(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg-empty"))

	content := `{"window_ms": 75, "bogus_key": true}`
	if err := os.WriteFile(filepath.Join(dir, config.ConfigFileName), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	var warnedPath string
	var warnedKeys []string
	warn := func(path string, keys []string) {
		warnedPath = path
		warnedKeys = keys
	}

	_, _, err := config.Load(dir, config.Config{}, false, warn)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if warnedPath == "" {
		t.Fatalf("expected warn callback invoked")
	}
	if len(warnedKeys) != 1 || warnedKeys[0] != "bogus_key" {
		t.Fatalf("warnedKeys=%v, want [bogus_key]", warnedKeys)
	}
}

func TestLoad_RejectsNonPositiveWindowMSFromCLIOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg-empty"))

	_, _, err := config.Load(dir, config.Config{WindowMS: -5}, true, nil)
	if err == nil {
		t.Fatalf("expected error for window_ms=-5")
	}
}
