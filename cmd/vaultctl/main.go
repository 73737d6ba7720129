// Command vaultctl manages an encrypted photo vault from the terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/devnik/vaultcam/internal/errs"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// Exit codes.
const (
	exitOK        = 0
	exitError     = 1
	exitUsage     = 2
	exitLocked    = 3
	exitNotFound  = 4
	exitIntegrity = 5
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errs.ErrLocked), errors.Is(err, errs.ErrRateLimited):
		return exitLocked
	case errors.Is(err, errs.ErrNotFound):
		return exitNotFound
	case errors.Is(err, errs.ErrAuthFailed), errors.Is(err, errs.ErrKeysetCorrupt):
		return exitIntegrity
	case errors.Is(err, errs.ErrInvalidID), errors.Is(err, errUsage):
		return exitUsage
	default:
		return exitError
	}
}
