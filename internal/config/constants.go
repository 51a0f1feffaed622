package config

// SourceFileExt is the canonical extension for Cmel source files. Import
// paths are written without it; the module loader appends it.
const SourceFileExt = ".cmel"

// Exit codes for the command-line driver, following the sysexits convention.
const (
	ExitOK           = 0
	ExitUsage        = 64
	ExitCompileError = 65
	ExitRuntimeError = 70
)

// ProjectFileName is the optional per-project configuration file, looked up
// in the directory of the script being run (or the working directory for
// the REPL).
const ProjectFileName = "cmel.yaml"

// MaxInputLine bounds the input() native: at most this many bytes including
// the trailing newline.
const MaxInputLine = 256
