package gateway

import "context"

type callerKey struct{}

// withCaller marks ctx as serving a websocket client. HTTP requests carry
// no caller.
func withCaller(ctx context.Context, c *Client) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

func callerFrom(ctx context.Context) (*Client, bool) {
	c, ok := ctx.Value(callerKey{}).(*Client)
	return c, ok && c != nil
}
