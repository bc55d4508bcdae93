// Package signal ties process shutdown signals to contexts.
package signal

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// NotifyContext returns a context that is cancelled when SIGINT or SIGTERM is received.
// The returned stop function should be called to release resources.
func NotifyContext() (context.Context, context.CancelFunc) {
	return WithShutdown(context.Background())
}

// WithShutdown derives a context from parent that is also cancelled on
// SIGINT or SIGTERM. In-flight backend runs observe the cancellation and
// terminate their process groups.
func WithShutdown(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
