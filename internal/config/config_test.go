package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, dir, contents string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[gc]
stress = true
log-stats = true
initial-threshold = 4096

[trace]
execution = true

[cache]
enabled = true
path = "cache.db"
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.GC.Stress || !cfg.GC.LogStats {
		t.Error("gc flags not parsed")
	}
	if cfg.GC.InitialThreshold != 4096 {
		t.Errorf("expected threshold 4096, got %d", cfg.GC.InitialThreshold)
	}
	if !cfg.Trace.Execution {
		t.Error("trace.execution not parsed")
	}
	if !cfg.Cache.Enabled || cfg.Cache.Path != "cache.db" {
		t.Error("cache section not parsed")
	}
	if cfg.Dir == "" {
		t.Error("Dir should be set on load")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "[gc\nstress =")
	if _, err := Load(dir); err == nil {
		t.Error("expected a parse error")
	}
}

func TestFindAndLoadWalksUp(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "[trace]\ndisassemble = true\n")

	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	cfg, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if !cfg.Trace.Disassemble {
		t.Error("ancestor config not found")
	}
}

func TestFindAndLoadDefaults(t *testing.T) {
	cfg, err := FindAndLoad(t.TempDir())
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if cfg.GC.Stress || cfg.Cache.Enabled || cfg.Trace.Execution {
		t.Error("expected zero-value defaults without a file")
	}
}
