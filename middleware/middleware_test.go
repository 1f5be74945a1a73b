package middleware

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"secure-xmlrpc/message"
)

func echoHandler(ctx context.Context, call *message.Call) *message.Reply {
	return &message.Reply{Value: call.Method}
}

func slowHandler(ctx context.Context, call *message.Call) *message.Reply {
	time.Sleep(200 * time.Millisecond)
	return &message.Reply{Value: "ok"}
}

func rejectHandler(ctx context.Context, call *message.Call) *message.Reply {
	return &message.Reply{Value: message.Unauthorized}
}

func faultHandler(ctx context.Context, call *message.Call) *message.Reply {
	return &message.Reply{Fault: message.NewFault(message.CodeApplication, "boom")}
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	handler := Logging(zap.New(core))(echoHandler)

	reply := handler(context.Background(), &message.Call{Method: "wp.test", Host: "example.org"})
	if reply == nil || reply.Value != "wp.test" {
		t.Fatalf("expect value 'wp.test', got %+v", reply)
	}

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expect 1 log entry, got %d", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["method"] != "wp.test" || ctx["host"] != "example.org" || ctx["outcome"] != "ok" {
		t.Fatalf("unexpected log fields: %v", ctx)
	}
}

func TestLoggingFault(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	handler := Logging(zap.New(core))(faultHandler)

	reply := handler(context.Background(), &message.Call{Method: "wp.ud.add_feature"})
	if !reply.Failed() {
		t.Fatal("expect fault to pass through")
	}
	warn := logs.FilterLevelExact(zapcore.WarnLevel).All()
	if len(warn) != 1 {
		t.Fatalf("expect 1 warning, got %d", len(warn))
	}
	if warn[0].ContextMap()["fault"] != "boom" {
		t.Fatalf("unexpected fault field: %v", warn[0].ContextMap())
	}
}

func TestTimeoutPass(t *testing.T) {
	handler := Timeout(500 * time.Millisecond)(echoHandler)

	reply := handler(context.Background(), &message.Call{Method: "wp.test"})
	if reply.Failed() {
		t.Fatalf("expect no fault, got %v", reply.Fault)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	handler := Timeout(50 * time.Millisecond)(slowHandler)

	reply := handler(context.Background(), &message.Call{Method: "wp.test"})
	if !reply.Failed() || reply.Fault.String != "request timed out" {
		t.Fatalf("expect timeout fault, got %+v", reply)
	}
}

func TestTimeoutCancelsHandlerContext(t *testing.T) {
	seen := make(chan error, 1)
	handler := Timeout(20 * time.Millisecond)(func(ctx context.Context, call *message.Call) *message.Reply {
		<-ctx.Done()
		seen <- ctx.Err()
		return &message.Reply{Value: "late"}
	})

	reply := handler(context.Background(), &message.Call{Method: "wp.acme.add_feature"})
	if !reply.Failed() || reply.Fault.String != "request timed out" {
		t.Fatalf("expect timeout fault, got %+v", reply)
	}
	select {
	case err := <-seen:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expect deadline exceeded, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("handler context was not cancelled")
	}
}

func TestRateLimit(t *testing.T) {
	handler := RateLimit(1, 2)(echoHandler)
	call := &message.Call{Method: "wp.test"}

	for i := 0; i < 2; i++ {
		if reply := handler(context.Background(), call); reply.Failed() {
			t.Fatalf("request %d should pass, got fault: %v", i, reply.Fault)
		}
	}

	reply := handler(context.Background(), call)
	if !reply.Failed() || reply.Fault.String != "rate limit exceeded" {
		t.Fatalf("request 3 should be rate limited, got: %+v", reply)
	}
	if reply.Fault.Code != message.CodeSystem {
		t.Fatalf("expect code %d, got %d", message.CodeSystem, reply.Fault.Code)
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	mw := Metrics(reg)

	mw(echoHandler)(context.Background(), &message.Call{Method: "wp.test"})
	mw(echoHandler)(context.Background(), &message.Call{Method: "wp.test"})
	mw(rejectHandler)(context.Background(), &message.Call{Method: "wp.ud.add_feature"})
	mw(faultHandler)(context.Background(), &message.Call{Method: "wp.ud.add_feature"})

	expected := `
# HELP xmlrpc_calls_total Dispatched XML-RPC calls by method and outcome.
# TYPE xmlrpc_calls_total counter
xmlrpc_calls_total{method="wp.test",outcome="ok"} 2
xmlrpc_calls_total{method="wp.ud.add_feature",outcome="fault"} 1
xmlrpc_calls_total{method="wp.ud.add_feature",outcome="rejected"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "xmlrpc_calls_total"); err != nil {
		t.Fatal(err)
	}
	n, err := testutil.GatherAndCount(reg, "xmlrpc_call_duration_seconds")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expect 2 latency series, got %d", n)
	}
}

func TestChain(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, call *message.Call) *message.Reply {
				order = append(order, name+".before")
				reply := next(ctx, call)
				order = append(order, name+".after")
				return reply
			}
		}
	}

	handler := Chain(mark("a"), Timeout(500*time.Millisecond), mark("b"))(echoHandler)
	reply := handler(context.Background(), &message.Call{Method: "wp.test"})
	if reply.Failed() {
		t.Fatalf("expect no fault, got %v", reply.Fault)
	}

	want := []string{"a.before", "b.before", "b.after", "a.after"}
	if len(order) != len(want) {
		t.Fatalf("expect order %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expect order %v, got %v", want, order)
		}
	}
}
