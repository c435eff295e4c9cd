package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/aqasim81/migration-runner/internal/migerr"
)

// signalContext returns a context cancelled by the first SIGINT or SIGTERM
// with a command-abort cause naming the signal. Later signals get the
// default behaviour and terminate the process.
func signalContext(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(parent)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigs:
			signal.Stop(sigs)
			cancel(migerr.CommandAbortFromSignal(sig))
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigs)
		cancel(nil)
	}
}
