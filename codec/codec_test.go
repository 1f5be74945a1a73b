package codec

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"secure-xmlrpc/message"
)

func TestCallRoundTrip(t *testing.T) {
	body, err := EncodeCall("wp.acme.add_feature", []any{"blob=="})
	if err != nil {
		t.Fatal(err)
	}
	call, err := DecodeCall(body)
	if err != nil {
		t.Fatal(err)
	}
	if call.Method != "wp.acme.add_feature" {
		t.Fatalf("expect method wp.acme.add_feature, got %q", call.Method)
	}
	// A single array parameter is flattened.
	if !reflect.DeepEqual(call.Args, []any{"blob=="}) {
		t.Fatalf("expect [blob==], got %#v", call.Args)
	}
}

func TestDecodeCallParams(t *testing.T) {
	body, err := EncodeCall("m", "a", int64(2), true)
	if err != nil {
		t.Fatal(err)
	}
	call, err := DecodeCall(body)
	if err != nil {
		t.Fatal(err)
	}
	want := []any{"a", int64(2), true}
	if !reflect.DeepEqual(call.Args, want) {
		t.Fatalf("expect %#v, got %#v", want, call.Args)
	}
}

func TestDecodeCallUntypedValue(t *testing.T) {
	doc := `<?xml version="1.0"?><methodCall><methodName>wp.test</methodName>` +
		`<params><param><value>plain text</value></param><param><value></value></param></params></methodCall>`
	call, err := DecodeCall([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(call.Args, []any{"plain text", ""}) {
		t.Fatalf("untyped values must decode as strings, got %#v", call.Args)
	}
}

func TestDecodeCallErrors(t *testing.T) {
	_, err := DecodeCall([]byte("<methodCall><methodName>x"))
	if !message.IsParse(err) {
		t.Fatalf("expect parse fault, got %v", err)
	}

	_, err = DecodeCall([]byte("<methodCall><params/></methodCall>"))
	var f *message.Fault
	if !errors.As(err, &f) || f.Code != message.CodeInvalidRequest {
		t.Fatalf("expect invalid request fault, got %v", err)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	values := []any{
		"acme",
		true,
		int64(42),
		3.5,
		[]any{"ping", int64(1)},
		map[string]any{"success": true, "message": []any{"ok"}},
	}
	for _, v := range values {
		body, err := EncodeResponse(v)
		if err != nil {
			t.Fatalf("%v: %v", v, err)
		}
		var got any
		if err := DecodeResponse(body, &got); err != nil {
			t.Fatalf("%v: %v", v, err)
		}
		if !reflect.DeepEqual(got, v) {
			t.Fatalf("expect %#v, got %#v", v, got)
		}
	}
}

func TestDecodeResponseTyped(t *testing.T) {
	body, _ := EncodeResponse([]string{"a", "b"})
	var got []string
	if err := DecodeResponse(body, &got); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("unexpected %v", got)
	}
}

func TestFaultRoundTrip(t *testing.T) {
	body := EncodeFault(message.NewFault(-32601, "server error. requested method x does not exist."))
	var got any
	err := DecodeResponse(body, &got)
	var f *message.Fault
	if !errors.As(err, &f) {
		t.Fatalf("expect fault, got %v", err)
	}
	if f.Code != -32601 || f.String != "server error. requested method x does not exist." {
		t.Fatalf("fault must be kept verbatim, got %+v", f)
	}
}

func TestDecodeResponseMalformed(t *testing.T) {
	bodies := []string{
		"",
		"not xml",
		"<methodResponse><params>",
		"<html><body>oops</body></html>",
		"<methodResponse/><methodResponse/>",
	}
	for _, b := range bodies {
		var got any
		err := DecodeResponse([]byte(b), &got)
		var f *message.Fault
		if !errors.As(err, &f) || f.Code != message.CodeParse || f.String != "parse error. not well formed" {
			t.Fatalf("%q: expect parse fault, got %v", b, err)
		}
	}
}

func TestJSONCodec(t *testing.T) {
	data, err := Default.Encode([]any{"a", 1})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `["a",1]` {
		t.Fatalf("unexpected encoding %s", data)
	}
	var v any
	if err := Default.Decode(data, &v); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(v, []any{"a", float64(1)}) {
		t.Fatalf("unexpected decoding %#v", v)
	}
}

func TestServerCodec(t *testing.T) {
	body, _ := EncodeCall("wp.test", []any{"blob"})
	r := httptest.NewRequest(http.MethodPost, "/xmlrpc", bytes.NewReader(body))
	r.Host = "shop.example"

	req := NewServerCodec("Host.Dispatch").NewRequest(r)
	method, err := req.Method()
	if err != nil || method != "Host.Dispatch" {
		t.Fatalf("expect Host.Dispatch, got %q, %v", method, err)
	}
	var call message.Call
	if err := req.ReadRequest(&call); err != nil {
		t.Fatal(err)
	}
	if call.Method != "wp.test" || call.Host != "shop.example" || !reflect.DeepEqual(call.Args, []any{"blob"}) {
		t.Fatalf("unexpected call %+v", call)
	}

	w := httptest.NewRecorder()
	if err := req.WriteResponse(w, &message.Reply{Value: "Unauthorized"}, nil); err != nil {
		t.Fatal(err)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/xml") {
		t.Fatalf("unexpected content type %q", ct)
	}
	var got any
	if err := DecodeResponse(w.Body.Bytes(), &got); err != nil || got != "Unauthorized" {
		t.Fatalf("expect Unauthorized, got %v, %v", got, err)
	}

	w = httptest.NewRecorder()
	req.WriteResponse(w, &message.Reply{}, errors.New("boom"))
	err = DecodeResponse(w.Body.Bytes(), &got)
	var f *message.Fault
	if !errors.As(err, &f) || f.Code != message.CodeApplication || f.String != "boom" {
		t.Fatalf("expect application fault, got %v", err)
	}
}

func TestServerCodecBadBody(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("garbage"))
	req := NewServerCodec("Host.Dispatch").NewRequest(r)
	if _, err := req.Method(); err == nil {
		t.Fatal("expect error for malformed body")
	}
}
