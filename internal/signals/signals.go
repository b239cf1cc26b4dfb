// Package signals wires SIGINT/SIGTERM into graceful shutdown of the
// node's root context, generalizing the Ctrl+C handling sprinkled
// across the node's command-line entrypoints into a single reusable
// watcher.
package signals

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"go.uber.org/zap"
)

// forceExitAfter bounds patience: a node stuck in shutdown (a stalled
// peer write, a wedged listener Close) is killed outright rather than
// leaving the operator with no way out short of SIGKILL.
const forceExitAfter = 10

// Watch installs a signal handler for SIGINT and SIGTERM and returns a
// context that is canceled on the first one received. A second signal
// logs a warning instead of being swallowed silently; after
// forceExitAfter signals the process exits immediately via os.Exit(1),
// mirroring the abort-on-repeated-interrupt behavior of the original
// implementation's signal handler.
func Watch(ctx context.Context, logger *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var count atomic.Uint32

	go func() {
		for sig := range sigCh {
			n := count.Add(1)
			switch {
			case n == 1:
				logger.Warn("caught signal, shutting down", zap.String("signal", sig.String()))
				cancel()
			case n < forceExitAfter:
				logger.Warn("already shutting down",
					zap.String("signal", sig.String()),
					zap.Uint32("remaining_to_force_exit", forceExitAfter-n))
			default:
				logger.Error("forcing exit after repeated signal", zap.String("signal", sig.String()))
				os.Exit(1)
			}
		}
	}()

	go func() {
		<-ctx.Done()
		signal.Stop(sigCh)
		close(sigCh)
	}()

	return ctx, cancel
}
