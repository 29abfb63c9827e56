package transport

import (
	"context"
	"net/http"
)

type headersKey struct{}

// ContextWithHeaders attaches headers to be sent with every subgraph request
// made with the returned context.
func ContextWithHeaders(ctx context.Context, h http.Header) context.Context {
	if len(h) == 0 {
		return ctx
	}
	return context.WithValue(ctx, headersKey{}, h.Clone())
}

// HeadersFromContext returns the headers attached by ContextWithHeaders.
func HeadersFromContext(ctx context.Context) http.Header {
	h, _ := ctx.Value(headersKey{}).(http.Header)
	return h
}
