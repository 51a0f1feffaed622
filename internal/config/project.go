// Package config holds the shared constants of the interpreter and the
// optional per-project configuration file.
//
// A project may place a cmel.yaml next to its entry script to add module
// search paths and tune the virtual machine. The file is entirely optional;
// every field has a working default.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Project represents a parsed cmel.yaml.
type Project struct {
	// ModulePaths lists extra directories searched by `import`, in order,
	// after the directory of the importing script. Relative entries are
	// resolved against the directory containing cmel.yaml.
	ModulePaths []string `yaml:"module_paths,omitempty"`

	// GC tunes the garbage collector.
	GC GCConfig `yaml:"gc,omitempty"`

	// REPL configures the interactive prompt.
	REPL REPLConfig `yaml:"repl,omitempty"`
}

// GCConfig tunes collection behavior.
type GCConfig struct {
	// InitialThreshold is the allocation volume, in bytes, that triggers
	// the first collection. Zero means the built-in default (1 MiB).
	InitialThreshold int `yaml:"initial_threshold,omitempty"`

	// Stress forces a collection on every allocation. Slow; meant for
	// debugging interpreter changes, not for running programs.
	Stress bool `yaml:"stress,omitempty"`
}

// REPLConfig configures the interactive prompt.
type REPLConfig struct {
	// Prompt overrides the default "> " shown when stdin is a terminal.
	Prompt string `yaml:"prompt,omitempty"`
}

// LoadProject reads the cmel.yaml in dir, if present. A missing file
// returns a zero Project and no error; a malformed file is an error.
func LoadProject(dir string) (*Project, error) {
	path := filepath.Join(dir, ProjectFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Project{}, nil
		}
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var p Project
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("cannot parse %s: %w", path, err)
	}

	// Resolve module paths relative to the config file's directory so the
	// project behaves the same regardless of the working directory.
	for i, mp := range p.ModulePaths {
		if !filepath.IsAbs(mp) {
			p.ModulePaths[i] = filepath.Join(dir, mp)
		}
	}

	return &p, nil
}
