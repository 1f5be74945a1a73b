// Package transport performs one synchronous request/response exchange over a
// raw TCP connection.
//
// Each RoundTrip opens a fresh connection, writes the rendered request, reads
// the response to EOF and closes the connection. There is no pooling and no
// retry: a failure is reported to the caller as a transport fault.
//
//	RoundTrip ──dial──► server
//	          ──POST──►
//	          ◄─status, headers, blank line, body── (connection closed by server)
package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"secure-xmlrpc/message"
	"secure-xmlrpc/protocol"
)

// ClientTransport holds the settings shared by every exchange of a client.
type ClientTransport struct {
	timeout time.Duration // Dial timeout and deadline for the whole exchange; 0 disables both
	debug   io.Writer     // When set, rendered request and raw response are copied here verbatim
	logger  *zap.Logger
	dial    func(network, addr string, timeout time.Duration) (net.Conn, error)
}

// NewClientTransport creates a transport. debug and logger may be nil.
func NewClientTransport(timeout time.Duration, debug io.Writer, logger *zap.Logger) *ClientTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClientTransport{
		timeout: timeout,
		debug:   debug,
		logger:  logger,
		dial:    dialTimeout,
	}
}

func dialTimeout(network, addr string, timeout time.Duration) (net.Conn, error) {
	if timeout > 0 {
		return net.DialTimeout(network, addr, timeout)
	}
	return net.Dial(network, addr)
}

// RoundTrip sends req to addr and returns the response body.
func (t *ClientTransport) RoundTrip(addr string, req *protocol.Request) ([]byte, error) {
	var raw bytes.Buffer
	if err := protocol.Encode(&raw, req); err != nil {
		return nil, message.TransportFault("transport error - could not render request", err)
	}
	if t.debug != nil {
		fmt.Fprintf(t.debug, "%s\n\n", raw.Bytes())
	}

	conn, err := t.dial("tcp", addr, t.timeout)
	if err != nil {
		t.logger.Debug("dial failed", zap.String("addr", addr), zap.Error(err))
		return nil, message.TransportFault("transport error - could not open socket", err)
	}
	defer conn.Close()

	if t.timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(t.timeout)); err != nil {
			return nil, message.TransportFault("transport error - could not set deadline", err)
		}
	}

	if _, err := conn.Write(raw.Bytes()); err != nil {
		return nil, message.TransportFault("transport error - could not write request", err)
	}

	var captured bytes.Buffer
	var capture io.Writer
	if t.debug != nil {
		capture = &captured
	}
	body, err := protocol.DecodeResponse(conn, capture)
	if t.debug != nil {
		fmt.Fprintf(t.debug, "%s\n\n", captured.Bytes())
	}
	if err != nil {
		if errors.Is(err, protocol.ErrBadStatus) {
			return nil, message.TransportFault("transport error - HTTP status code was not 200", err)
		}
		return nil, message.TransportFault("transport error - could not read response", err)
	}

	t.logger.Debug("round trip complete",
		zap.String("addr", addr),
		zap.String("path", req.Path),
		zap.Int("request_bytes", raw.Len()),
		zap.Int("response_bytes", len(body)))
	return body, nil
}
