package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"secure-xmlrpc/message"
)

// RateLimit admits calls through a token bucket of r tokens per second and the
// given burst. Refused calls get a system fault and never reach the dispatcher.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) *message.Reply {
			if !limiter.Allow() {
				return &message.Reply{Fault: message.NewFault(message.CodeSystem, "rate limit exceeded")}
			}
			return next(ctx, call)
		}
	}
}
