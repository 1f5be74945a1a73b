package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"secure-xmlrpc/message"
)

func Logging(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) *message.Reply {
			start := time.Now()
			reply := next(ctx, call)
			fields := []zap.Field{
				zap.String("method", call.Method),
				zap.String("host", call.Host),
				zap.String("outcome", outcome(reply)),
				zap.Duration("duration", time.Since(start)),
			}
			if reply.Failed() {
				logger.Warn("xmlrpc call failed", append(fields, zap.Int("code", reply.Fault.Code), zap.String("fault", reply.Fault.String))...)
				return reply
			}
			logger.Info("xmlrpc call", fields...)
			return reply
		}
	}
}
