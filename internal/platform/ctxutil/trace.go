package ctxutil

import "context"

type traceDataKey struct{}
type clientDataKey struct{}

type TraceData struct {
	TraceID   string
	RequestID string
}

// ClientData is the caller's network identity as seen by the HTTP layer.
type ClientData struct {
	IP        string
	UserAgent string
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	return context.WithValue(ctx, traceDataKey{}, td)
}

func GetTraceData(ctx context.Context) *TraceData {
	val := ctx.Value(traceDataKey{})
	if td, ok := val.(*TraceData); ok {
		return td
	}
	return nil
}

func WithClientData(ctx context.Context, cd *ClientData) context.Context {
	return context.WithValue(ctx, clientDataKey{}, cd)
}

func GetClientData(ctx context.Context) *ClientData {
	if cd, ok := ctx.Value(clientDataKey{}).(*ClientData); ok {
		return cd
	}
	return nil
}

func Default(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
