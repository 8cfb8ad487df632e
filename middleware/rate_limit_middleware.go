package middleware

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"futuopend/ferrors"
)

// RateLimitMiddleware throttles outgoing requests with a token bucket.
// This is a client-side courtesy throttle, not a model of the gateway's
// own per-connection quota — the gateway enforces its own limits and
// returns them as ServerError responses regardless of what this does.
//
// Tokens are added at rate r per second up to burst. Each request
// consumes one token; an empty bucket rejects the request without
// calling next.
//
// The limiter is built once, in the outer closure, and shared across
// every request the returned Middleware wraps.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next RequestFunc) RequestFunc {
		return func(ctx context.Context, protoID uint32, body []byte) ([]byte, error) {
			if !limiter.Allow() {
				return nil, ferrors.New(ferrors.KindSend, errors.New("rate limit exceeded"))
			}
			return next(ctx, protoID, body)
		}
	}
}
