package message

import (
	"errors"
	"fmt"
)

// Fault codes, following the XML-RPC interoperability conventions.
const (
	CodeParse          = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInternal       = -32603
	CodeApplication    = -32500
	CodeSystem         = -32400
	CodeTransport      = -32300
)

// ErrMissingCredentials is returned when a client or dispatcher is built
// without both halves of the credential pair.
var ErrMissingCredentials = errors.New("secret key and public key are both required")

// Fault is a structured error: either reported by the remote peer or raised
// locally for transport and parse failures.
type Fault struct {
	Code   int
	String string
	Cause  error
}

// NewFault creates a fault with the given code and message.
func NewFault(code int, msg string) *Fault {
	return &Fault{Code: code, String: msg}
}

// TransportFault reports a connection-level failure.
func TransportFault(msg string, cause error) *Fault {
	return &Fault{Code: CodeTransport, String: msg, Cause: cause}
}

// ParseFault reports a response body that is not well-formed XML-RPC.
func ParseFault(cause error) *Fault {
	return &Fault{Code: CodeParse, String: "parse error. not well formed", Cause: cause}
}

func (f *Fault) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("fault %d: %s: %v", f.Code, f.String, f.Cause)
	}
	return fmt.Sprintf("fault %d: %s", f.Code, f.String)
}

func (f *Fault) Unwrap() error {
	return f.Cause
}

// AsFault converts any error into a fault. Errors that already are faults keep
// their code; everything else becomes an application error.
func AsFault(err error) *Fault {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return &Fault{Code: CodeApplication, String: err.Error(), Cause: err}
}

// IsTransport reports whether err is a transport fault.
func IsTransport(err error) bool {
	return hasCode(err, CodeTransport)
}

// IsParse reports whether err is a protocol parse fault.
func IsParse(err error) bool {
	return hasCode(err, CodeParse)
}

func hasCode(err error, code int) bool {
	var f *Fault
	return errors.As(err, &f) && f.Code == code
}
