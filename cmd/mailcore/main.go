// Command mailcore queries a mailcore database and runs its maintenance
// jobs: account deletion, transaction purging and their schedule.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/wesm/mailcore/cmd/mailcore/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := exitCode(ctx, cmd.ExecuteContext(ctx))
	stop()
	os.Exit(code)
}

// exitCode maps a command result to the process status. A run stopped by
// a signal exits 130 so wrappers can resume it instead of alerting.
func exitCode(ctx context.Context, err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return 130
	default:
		return 1
	}
}
