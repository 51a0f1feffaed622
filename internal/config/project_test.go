package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadProjectMissingFile(t *testing.T) {
	p, err := LoadProject(t.TempDir())
	if err != nil {
		t.Fatalf("missing cmel.yaml should not error: %v", err)
	}
	if len(p.ModulePaths) != 0 || p.GC.InitialThreshold != 0 || p.GC.Stress {
		t.Errorf("missing file should yield zero config: %+v", p)
	}
}

func TestLoadProject(t *testing.T) {
	dir := t.TempDir()
	content := `
module_paths:
  - vendor/cmel
  - /opt/cmel/modules
gc:
  initial_threshold: 2097152
  stress: true
repl:
  prompt: "cmel> "
`
	if err := os.WriteFile(filepath.Join(dir, ProjectFileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadProject(dir)
	if err != nil {
		t.Fatal(err)
	}

	if len(p.ModulePaths) != 2 {
		t.Fatalf("got %d module paths", len(p.ModulePaths))
	}
	if p.ModulePaths[0] != filepath.Join(dir, "vendor/cmel") {
		t.Errorf("relative path not resolved against the config dir: %s", p.ModulePaths[0])
	}
	if p.ModulePaths[1] != "/opt/cmel/modules" {
		t.Errorf("absolute path rewritten: %s", p.ModulePaths[1])
	}
	if p.GC.InitialThreshold != 2097152 || !p.GC.Stress {
		t.Errorf("gc settings not parsed: %+v", p.GC)
	}
	if p.REPL.Prompt != "cmel> " {
		t.Errorf("prompt not parsed: %q", p.REPL.Prompt)
	}
}

func TestLoadProjectMalformed(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ProjectFileName), []byte("module_paths: {not: [valid"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadProject(dir); err == nil {
		t.Errorf("malformed yaml should error")
	}
}
