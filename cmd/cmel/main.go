package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cmel-lang/cmel/internal/config"
	"github.com/cmel-lang/cmel/internal/repl"
	"github.com/cmel-lang/cmel/internal/vm"
)

func main() {
	// Surface interpreter bugs as a short message rather than a Go panic
	// trace; CMEL_DEBUG=1 re-panics for development.
	defer func() {
		if r := recover(); r != nil {
			if os.Getenv("CMEL_DEBUG") == "1" {
				panic(r)
			}
			fmt.Fprintf(os.Stderr, "Internal error: %v\n", r)
			fmt.Fprintln(os.Stderr, "This is a bug. Please report it.")
			os.Exit(config.ExitRuntimeError)
		}
	}()

	switch len(os.Args) {
	case 1:
		runREPL()
	case 2:
		runFile(os.Args[1])
	default:
		fmt.Fprintln(os.Stderr, "Usage: cmel [script]")
		os.Exit(config.ExitUsage)
	}
}

// newVM builds a VM configured from the cmel.yaml (if any) in dir.
func newVM(dir string) (*vm.VM, *config.Project) {
	machine := vm.New()
	machine.SetBaseDir(dir)

	project, err := config.LoadProject(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(config.ExitUsage)
	}
	machine.SetModulePaths(project.ModulePaths)
	machine.SetGCThreshold(project.GC.InitialThreshold)
	machine.StressGC = project.GC.Stress
	return machine, project
}

func runFile(path string) {
	source, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Could not open file \"%s\".\n", path)
		os.Exit(config.ExitUsage)
	}

	machine, _ := newVM(filepath.Dir(path))
	defer machine.Close()

	switch machine.Interpret(string(source)) {
	case vm.InterpretCompileError:
		os.Exit(config.ExitCompileError)
	case vm.InterpretRuntimeError:
		os.Exit(config.ExitRuntimeError)
	}
}

func runREPL() {
	dir, err := os.Getwd()
	if err != nil {
		dir = "."
	}

	machine, project := newVM(dir)
	defer machine.Close()

	repl.Run(machine, os.Stdin, os.Stdout, project.REPL.Prompt)
}
