package app

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/relaybench/relaybench/internal/common/benchcontext"
)

// CreateContextWithShutdown returns a context that is cancelled on the first SIGINT or SIGTERM.
// The signal received is logged through the context logger.
func CreateContextWithShutdown() *benchcontext.Context {
	ctx, cancel := benchcontext.WithCancel(benchcontext.Background())
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(c)
		select {
		case sig := <-c:
			ctx.Log.Infof("Received %s, shutting down", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx
}
