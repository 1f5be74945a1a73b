package message

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestFaultError(t *testing.T) {
	f := NewFault(-32601, "server error. requested method x does not exist.")
	if f.Error() != "fault -32601: server error. requested method x does not exist." {
		t.Fatalf("unexpected message %q", f.Error())
	}

	tf := TransportFault("transport error - could not open socket", io.ErrUnexpectedEOF)
	if !errors.Is(tf, io.ErrUnexpectedEOF) {
		t.Fatal("transport fault must unwrap to its cause")
	}
	if tf.Error() != "fault -32300: transport error - could not open socket: unexpected EOF" {
		t.Fatalf("unexpected message %q", tf.Error())
	}
}

func TestFaultKinds(t *testing.T) {
	wrapped := fmt.Errorf("call wp.test: %w", TransportFault("transport error - HTTP status code was not 200", nil))
	if !IsTransport(wrapped) || IsParse(wrapped) {
		t.Fatal("expect a wrapped transport fault")
	}

	parse := ParseFault(errors.New("unexpected EOF"))
	if !IsParse(parse) || IsTransport(parse) {
		t.Fatal("expect a parse fault")
	}
	if parse.Code != CodeParse || parse.String != "parse error. not well formed" {
		t.Fatalf("unexpected parse fault %+v", parse)
	}

	if IsTransport(errors.New("plain")) || IsParse(nil) {
		t.Fatal("plain errors are neither transport nor parse faults")
	}
}

func TestAsFault(t *testing.T) {
	if AsFault(nil) != nil {
		t.Fatal("nil error must stay nil")
	}

	f := NewFault(CodeSystem, "rate limit exceeded")
	if got := AsFault(fmt.Errorf("wrapped: %w", f)); got != f {
		t.Fatalf("expect the wrapped fault, got %v", got)
	}

	plain := errors.New("boom")
	got := AsFault(plain)
	if got.Code != CodeApplication || got.String != "boom" || !errors.Is(got, plain) {
		t.Fatalf("unexpected conversion %+v", got)
	}
}

func TestReply(t *testing.T) {
	tests := []struct {
		reply    *Reply
		failed   bool
		rejected bool
	}{
		{nil, false, false},
		{&Reply{Value: "acme"}, false, false},
		{&Reply{Value: Unauthorized}, false, true},
		{&Reply{Value: MethodNotAllowed}, false, true},
		{&Reply{Value: true}, false, false},
		{&Reply{Fault: NewFault(CodeInternal, "x")}, true, false},
	}
	for _, tt := range tests {
		if tt.reply.Failed() != tt.failed || tt.reply.Rejected() != tt.rejected {
			t.Fatalf("%+v: failed=%v rejected=%v", tt.reply, tt.reply.Failed(), tt.reply.Rejected())
		}
	}
}
