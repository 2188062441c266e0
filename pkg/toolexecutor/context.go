package toolexecutor

import "context"

type callContextKey struct{}

// CallContext carries the per-call facts the dispatcher needs from the
// orchestrator. Tier is read from the session at dispatch time.
type CallContext struct {
	SessionID      string
	Tier           PermissionTier
	OnConfirmation ConfirmationNotifier
}

// ContextWithCallContext attaches the call context for operations that need
// to know which session invoked them.
func ContextWithCallContext(ctx context.Context, cc CallContext) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, callContextKey{}, cc)
}

// CallContextFromContext extracts the call context from a context.Context.
func CallContextFromContext(ctx context.Context) (CallContext, bool) {
	if ctx == nil {
		return CallContext{}, false
	}
	cc, ok := ctx.Value(callContextKey{}).(CallContext)
	return cc, ok
}
