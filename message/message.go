// Package message defines the values exchanged between the authenticated
// XML-RPC client, the host server and the dispatchers it routes to.
//
// A Call is what a dispatcher sees for one inbound request; a Reply is what the
// host encodes back onto the wire. Rejections decided by a dispatcher are plain
// string results (Unauthorized, MethodNotAllowed), never faults.
package message

// Result strings returned by a dispatcher as ordinary successful values.
const (
	Unauthorized     = "Unauthorized"
	MethodNotAllowed = "Method not allowed"
)

// Call carries one inbound RPC call.
//
//   - Method is the qualified name the host routed on, e.g. "wp.acme.add_feature".
//   - Args is the inbound argument array. On the wire it holds one base64 ciphertext.
//   - Host is the Host header of the inbound request.
type Call struct {
	Method string
	Args   []any
	Host   string
}

// Reply is the outcome of a call as seen by the host: either a value or a fault.
type Reply struct {
	Value any
	Fault *Fault
}

// Failed reports whether the reply carries a fault.
func (r *Reply) Failed() bool {
	return r != nil && r.Fault != nil
}

// Rejected reports whether the dispatcher refused the call with one of the
// sentinel results.
func (r *Reply) Rejected() bool {
	if r == nil || r.Fault != nil {
		return false
	}
	s, ok := r.Value.(string)
	return ok && (s == Unauthorized || s == MethodNotAllowed)
}
