// Package repl implements the interactive line loop. Input is evaluated
// one line at a time against a persistent VM, so definitions accumulate
// across lines. The prompt is only printed when stdin is a terminal, which
// keeps piped input clean.
package repl

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/cmel-lang/cmel/internal/vm"
)

const defaultPrompt = "> "

// Run reads lines from in and interprets each against machine until EOF.
func Run(machine *vm.VM, in *os.File, out io.Writer, prompt string) {
	if prompt == "" {
		prompt = defaultPrompt
	}
	interactive := isatty.IsTerminal(in.Fd()) || isatty.IsCygwinTerminal(in.Fd())

	if interactive {
		fmt.Fprintln(out, "cmel (interactive). Ctrl-D exits.")
	}

	scanner := bufio.NewScanner(in)
	for {
		if interactive {
			fmt.Fprint(out, prompt)
		}
		if !scanner.Scan() {
			if interactive {
				fmt.Fprintln(out)
			}
			return
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		// Errors are already reported on the VM's error writer; the loop
		// just keeps going.
		machine.Interpret(line)
	}
}
