package codec

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/rpc"

	"secure-xmlrpc/message"
)

// maxRequestSize bounds the methodCall body read by ServerCodec.
const maxRequestSize = 8 << 20

// ServerCodec plugs XML-RPC into a gorilla/rpc server.
//
// Every call is handed to one service method (e.g. "Host.Dispatch") with the
// decoded *message.Call as its args; routing by qualified method name happens
// behind that entry point. The reply must be a *message.Reply.
type ServerCodec struct {
	method string
}

// NewServerCodec returns a codec that routes every call to the gorilla service
// method named method.
func NewServerCodec(method string) *ServerCodec {
	return &ServerCodec{method: method}
}

func (c *ServerCodec) NewRequest(r *http.Request) rpc.CodecRequest {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize))
	if err != nil {
		return &serverRequest{err: err}
	}
	call, err := DecodeCall(body)
	if err != nil {
		return &serverRequest{err: err}
	}
	call.Host = r.Host
	return &serverRequest{method: c.method, call: call}
}

type serverRequest struct {
	method string
	call   *message.Call
	err    error
}

func (r *serverRequest) Method() (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return r.method, nil
}

func (r *serverRequest) ReadRequest(args any) error {
	call, ok := args.(*message.Call)
	if !ok {
		return fmt.Errorf("codec: args must be *message.Call, got %T", args)
	}
	*call = *r.call
	return nil
}

func (r *serverRequest) WriteResponse(w http.ResponseWriter, reply any, methodErr error) error {
	fault := message.AsFault(methodErr)
	rep, _ := reply.(*message.Reply)
	if fault == nil && rep != nil {
		fault = rep.Fault
	}

	var body []byte
	if fault != nil {
		body = EncodeFault(fault)
	} else {
		var value any
		if rep != nil {
			value = rep.Value
		}
		var err error
		if body, err = EncodeResponse(value); err != nil {
			body = EncodeFault(message.NewFault(message.CodeInternal, "server error. could not encode response: "+err.Error()))
		}
	}

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	_, err := w.Write(body)
	return err
}
