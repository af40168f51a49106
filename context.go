package forgepack

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// InterruptibleContext returns a context canceled when the build is
// interrupted (SIGINT or SIGTERM). engine.Run hands it on to request
// resolution and build rules; its worker loop does not watch it, so a run
// already in progress continues to completion after the first signal.
func InterruptibleContext() (context.Context, context.CancelFunc) {
	ctx, canc := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		// Subsequent signals will result in immediate termination, which is
		// useful in case cleanup hangs:
		signal.Stop(sig)
		canc()
	}()
	return ctx, canc
}
