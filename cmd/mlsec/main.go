// File: cmd/mlsec/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/duns-scotus/mlpy-sub002/cmd"
	"github.com/duns-scotus/mlpy-sub002/internal/observability"
)

const panicLogFile = "mlsec-panic.log"

// Exit codes.
const (
	exitOK       = 0
	exitError    = 1
	exitFindings = 2
)

// Function variables for mocking in tests.
var (
	osWriteFile = os.WriteFile
	osExit      = os.Exit
	execute     = cmd.Execute
)

func main() {
	defer handlePanic()

	// Cancel on SIGINT/SIGTERM so watch mode and long analyses stop cleanly.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code := exitCode(execute(ctx))
	stop()
	osExit(code)
}

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return exitOK
	case errors.Is(err, cmd.ErrThreatsFound), errors.Is(err, cmd.ErrNotPermitted):
		return exitFindings
	default:
		fmt.Fprintln(os.Stderr, "Error:", err)
		return exitError
	}
}

// handlePanic writes the panic and its stack to panicLogFile and exits non-zero.
func handlePanic() {
	r := recover()
	if r == nil {
		return
	}
	observability.Sync()

	panicMessage := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
	if err := osWriteFile(panicLogFile, []byte(panicMessage), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL: Failed to write panic log: %v\n", err)
		fmt.Fprintf(os.Stderr, "Panic details:\n%s\n", panicMessage)
		osExit(exitError)
		return
	}
	fmt.Fprintf(os.Stderr, "mlsec crashed. Details logged to %s\n", panicLogFile)
	osExit(exitError)
}
