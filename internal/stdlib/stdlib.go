// Package stdlib bakes the Cmel standard library into the binary. Each
// .cmel file under modules/ is addressable as "stdlib/<name>"; the module
// loader falls back here when an import is not found on the filesystem.
package stdlib

import (
	"embed"
	"strings"
)

//go:embed modules/*.cmel
var files embed.FS

const prefix = "stdlib/"

// Lookup returns the source of an embedded module by its logical name
// (e.g. "stdlib/test").
func Lookup(name string) (string, bool) {
	if !strings.HasPrefix(name, prefix) {
		return "", false
	}
	data, err := files.ReadFile("modules/" + strings.TrimPrefix(name, prefix) + ".cmel")
	if err != nil {
		return "", false
	}
	return string(data), true
}

// Names lists the logical names of every embedded module.
func Names() []string {
	entries, err := files.ReadDir("modules")
	if err != nil {
		return nil
	}
	var names []string
	for _, entry := range entries {
		names = append(names, prefix+strings.TrimSuffix(entry.Name(), ".cmel"))
	}
	return names
}
