package transport

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"secure-xmlrpc/message"
	"secure-xmlrpc/protocol"
)

// pipeDial returns a dial function whose peer reads one request and answers
// with response. A nil response makes the peer hang until closed.
func pipeDial(t *testing.T, response *string, got *bytes.Buffer) func(string, string, time.Duration) (net.Conn, error) {
	t.Helper()
	return func(network, addr string, timeout time.Duration) (net.Conn, error) {
		client, peer := net.Pipe()
		go func() {
			defer peer.Close()
			br := bufio.NewReader(peer)
			var length int
			for {
				line, err := br.ReadString('\n')
				if err != nil {
					return
				}
				got.WriteString(line)
				if strings.HasPrefix(line, "Content-Length: ") {
					length, _ = strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "Content-Length: ")))
				}
				if line == "\r\n" {
					break
				}
			}
			body := make([]byte, length)
			if _, err := io.ReadFull(br, body); err != nil {
				return
			}
			got.Write(body)
			if response == nil {
				io.Copy(io.Discard, peer)
				return
			}
			io.WriteString(peer, *response)
		}()
		return client, nil
	}
}

func newRequest() *protocol.Request {
	return protocol.NewRequest("/xmlrpc", "example.org", "test", []byte("<methodCall/>"), nil)
}

func TestRoundTrip(t *testing.T) {
	resp := "HTTP/1.0 200 OK\r\nContent-Type: text/xml\r\n\r\n<methodResponse/>"
	var sent, debug bytes.Buffer
	tr := NewClientTransport(time.Second, &debug, zaptest.NewLogger(t))
	tr.dial = pipeDial(t, &resp, &sent)

	body, err := tr.RoundTrip("example.org:80", newRequest())
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "<methodResponse/>" {
		t.Fatalf("unexpected body %q", body)
	}
	if !strings.HasPrefix(sent.String(), "POST /xmlrpc HTTP/1.0\r\nHost: example.org\r\n") {
		t.Fatalf("unexpected request %q", sent.String())
	}
	if !strings.HasSuffix(sent.String(), "\r\n\r\n<methodCall/>") {
		t.Fatalf("request body missing: %q", sent.String())
	}
	out := debug.String()
	if !strings.Contains(out, "POST /xmlrpc HTTP/1.0") || !strings.Contains(out, resp) {
		t.Fatalf("debug sink must hold request and raw response, got %q", out)
	}
}

func TestRoundTripDialFailure(t *testing.T) {
	tr := NewClientTransport(time.Second, nil, nil)
	tr.dial = func(string, string, time.Duration) (net.Conn, error) {
		return nil, errors.New("connection refused")
	}
	_, err := tr.RoundTrip("example.org:80", newRequest())
	var f *message.Fault
	if !errors.As(err, &f) || f.Code != message.CodeTransport || f.String != "transport error - could not open socket" {
		t.Fatalf("expect socket fault, got %v", err)
	}
}

func TestRoundTripBadStatus(t *testing.T) {
	resp := "HTTP/1.0 403 Forbidden\r\n\r\n<methodResponse/>"
	var sent bytes.Buffer
	tr := NewClientTransport(time.Second, nil, nil)
	tr.dial = pipeDial(t, &resp, &sent)

	_, err := tr.RoundTrip("example.org:80", newRequest())
	var f *message.Fault
	if !errors.As(err, &f) || f.String != "transport error - HTTP status code was not 200" {
		t.Fatalf("expect status fault, got %v", err)
	}
	if !errors.Is(err, protocol.ErrBadStatus) {
		t.Fatal("fault must wrap ErrBadStatus")
	}
}

func TestRoundTripTimeout(t *testing.T) {
	var sent bytes.Buffer
	tr := NewClientTransport(100*time.Millisecond, nil, nil)
	tr.dial = pipeDial(t, nil, &sent)

	start := time.Now()
	_, err := tr.RoundTrip("example.org:80", newRequest())
	if !message.IsTransport(err) {
		t.Fatalf("expect transport fault, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("deadline not applied")
	}
}
