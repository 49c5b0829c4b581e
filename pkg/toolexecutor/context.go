package toolexecutor

import "context"

// Call identifies the tool call a custom handler is serving.
type Call struct {
	SessionID string
	ID        string
	Tool      string
}

type callKey struct{}

// WithCall marks ctx as serving c.
func WithCall(ctx context.Context, c Call) context.Context {
	return context.WithValue(ctx, callKey{}, c)
}

// CallFromContext reports the call ctx serves, if any.
func CallFromContext(ctx context.Context) (Call, bool) {
	c, ok := ctx.Value(callKey{}).(Call)
	return c, ok
}
