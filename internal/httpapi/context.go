package httpapi

import "context"

// serverBaseCtx ends with the process; streaming handlers and long operations
// stop when it does.
var serverBaseCtx = context.Background()

// SetBaseContext installs the process context. nil restores Background.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	serverBaseCtx = ctx
}

// joinContexts derives from req, keeping its values, and additionally ends
// when base does. The cancel func must be called when the handler returns.
func joinContexts(base, req context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(req)
	stop := context.AfterFunc(base, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
