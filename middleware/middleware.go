// Package middleware wraps the host's dispatch entry point.
//
// A middleware sees every routed call before the dispatcher does and the reply
// after it. Dispatcher rejections ("Unauthorized", "Method not allowed") are
// ordinary replies here; middleware-generated refusals are faults.
package middleware

import (
	"context"

	"secure-xmlrpc/message"
)

type HandlerFunc func(ctx context.Context, call *message.Call) *message.Reply

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares so that the first one runs outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

func outcome(reply *message.Reply) string {
	switch {
	case reply.Failed():
		return "fault"
	case reply.Rejected():
		return "rejected"
	default:
		return "ok"
	}
}
