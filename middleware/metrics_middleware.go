package middleware

import (
	"context"
	"time"

	"futuopend/metrics"
)

// MetricsMiddleware observes request latency into the client's
// RequestDuration histogram, regardless of whether the round trip
// succeeded or failed.
func MetricsMiddleware(mc *metrics.Collectors) Middleware {
	return func(next RequestFunc) RequestFunc {
		return func(ctx context.Context, protoID uint32, body []byte) ([]byte, error) {
			start := time.Now()
			resp, err := next(ctx, protoID, body)
			if mc != nil {
				mc.RequestDuration.Observe(time.Since(start).Seconds())
			}
			return resp, err
		}
	}
}
