// Package shutdown turns interrupt signals into context cancellation.
package shutdown

import (
	"context"
	"os"

	"voxdrop/log"
)

// Context is cancelled on the first interrupt. A second interrupt exits
// the process immediately.
func Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 2)
	Notify(ch)
	go func() {
		select {
		case sig := <-ch:
			log.Info("signal_received: " + sig.String())
			cancel()
		case <-ctx.Done():
			Stop(ch)
			return
		}
		<-ch
		os.Exit(130)
	}()
	return ctx, cancel
}
