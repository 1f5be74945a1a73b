package middleware

import (
	"context"
	"time"

	"secure-xmlrpc/message"
)

// Timeout answers with a "request timed out" fault once timeout elapses. The
// handler keeps running in the background with a context that is already done,
// so an operation that does not check ctx may still complete after the fault
// was sent.
func Timeout(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) *message.Reply {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Reply, 1)
			go func() {
				done <- next(ctx, call)
			}()

			select {
			case reply := <-done:
				return reply
			case <-ctx.Done():
				return &message.Reply{Fault: message.NewFault(message.CodeSystem, "request timed out")}
			}
		}
	}
}
