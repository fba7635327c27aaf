package httpapi

import (
	"context"
)

// serverBaseCtx is canceled on shutdown so long-lived streams end with it.
var serverBaseCtx = context.Background()

// SetBaseContext sets the process-level base context used by handlers.
// A nil ctx resets it to Background.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		serverBaseCtx = context.Background()
		return
	}
	serverBaseCtx = ctx
}

// joinContexts returns a context canceled when either a or b is done.
// The returned cancel func must be called when the handler ends.
func joinContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
