package middleware

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"secure-xmlrpc/message"
)

// Metrics counts calls by method and outcome and observes their latency. The
// collectors are registered on reg; a nil reg leaves them unregistered.
func Metrics(reg prometheus.Registerer) Middleware {
	calls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "xmlrpc",
		Name:      "calls_total",
		Help:      "Dispatched XML-RPC calls by method and outcome.",
	}, []string{"method", "outcome"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "xmlrpc",
		Name:      "call_duration_seconds",
		Help:      "Time spent dispatching XML-RPC calls.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})
	if reg != nil {
		reg.MustRegister(calls, latency)
	}

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) *message.Reply {
			start := time.Now()
			reply := next(ctx, call)
			latency.WithLabelValues(call.Method).Observe(time.Since(start).Seconds())
			calls.WithLabelValues(call.Method, outcome(reply)).Inc()
			return reply
		}
	}
}
