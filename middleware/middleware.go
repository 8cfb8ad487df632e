// Package middleware implements the onion model middleware chain for the
// client's outbound request path. There's no inbound RPC service being
// invoked here, so the chain wraps Client.Request and Client.Send
// instead: cross-cutting concerns (logging, rate limiting, metrics) sit
// around the outbound call without touching its correlation logic.
//
// Onion model execution order:
//
//	Chain(A, B, C)(handler)  →  A(B(C(handler)))
//
//	Request:   A.before → B.before → C.before → handler
//	Response:  handler → C.after → B.after → A.after
package middleware

import "context"

// RequestFunc is the signature of an outbound call to the gateway:
// send a body under protoID and, for Request, return the correlated
// response body (Send returns a nil body).
type RequestFunc func(ctx context.Context, protoID uint32, body []byte) ([]byte, error)

// Middleware takes a RequestFunc and returns a new one that wraps it.
type Middleware func(next RequestFunc) RequestFunc

// Chain composes multiple middlewares into one. The first middleware in
// the list is the outermost layer: executed first on the way in, last
// on the way out.
func Chain(middlewares ...Middleware) Middleware {
	return func(next RequestFunc) RequestFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
