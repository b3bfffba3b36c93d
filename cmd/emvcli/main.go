// Command emvcli is the field client for license verification,
// baseline sealing, and outbox synchronization. Every subcommand
// prints a machine-readable JSON result on stdout and signals
// pass/fail through the process exit code, so the whole surface is
// scriptable.
package main

import (
	"errors"
	"fmt"
	"os"
)

// exitCodeError carries a specific exit code through cobra's error
// path. Verification failures exit 2 to stay distinguishable from
// operational errors (exit 1).
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit code %d", e.code)
	}
	return e.err.Error()
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		var exitErr *exitCodeError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.code)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
