package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// LoggingMiddleware records proto_id, duration, and any error for each
// request round trip. It captures the start time before calling next,
// and logs once next returns.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next RequestFunc) RequestFunc {
		return func(ctx context.Context, protoID uint32, body []byte) ([]byte, error) {
			start := time.Now()

			resp, err := next(ctx, protoID, body)

			fields := []zap.Field{
				zap.Uint32("proto_id", protoID),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				logger.Warn("request failed", append(fields, zap.Error(err))...)
			} else {
				logger.Debug("request completed", fields...)
			}
			return resp, err
		}
	}
}
