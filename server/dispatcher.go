package server

import (
	"context"
	"crypto/subtle"

	"secure-xmlrpc/cryptobox"
	"secure-xmlrpc/message"
)

// Defaults for the two namespace levels.
const (
	DefaultRootNamespace = "wp"
	DefaultNamespace     = "ud"
)

// Dispatcher resolves a qualified method name to an operation, opens the
// encrypted arguments and invokes the operation.
//
// A call goes Resolving → Authenticating → Invoking and ends either with the
// operation's result or with one of the rejection strings. Nothing is retried.
// All state is fixed at construction, so a Dispatcher is safe for concurrent use.
type Dispatcher struct {
	root      string
	namespace string
	secretKey string
	publicKey string
	box       cryptobox.Box
	methods   map[string]Method
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithRootNamespace replaces the "wp" root namespace.
func WithRootNamespace(root string) DispatcherOption {
	return func(d *Dispatcher) {
		if root != "" {
			d.root = root
		}
	}
}

// WithBox replaces the Legacy argument cipher. The box must be keyed with the
// same secret as the dispatcher.
func WithBox(box cryptobox.Box) DispatcherOption {
	return func(d *Dispatcher) {
		if box != nil {
			d.box = box
		}
	}
}

// NewDispatcher builds the method table for h under namespace. Both keys are
// required. h may be nil, leaving only the base-level methods.
func NewDispatcher(secretKey, publicKey, namespace string, h Handler, opts ...DispatcherOption) (*Dispatcher, error) {
	if secretKey == "" || publicKey == "" {
		return nil, message.ErrMissingCredentials
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	d := &Dispatcher{
		root:      DefaultRootNamespace,
		namespace: namespace,
		secretKey: secretKey,
		publicKey: publicKey,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.box == nil {
		d.box = cryptobox.NewLegacy(secretKey)
	}

	entries := append(d.baseMethods(), Build(h)...)
	d.methods = Qualify(entries, d.root, d.namespace)
	return d, nil
}

func (d *Dispatcher) baseMethods() []Method {
	return []Method{
		{Name: MethodValidate, Fn: func(ctx context.Context, args []any) (any, error) {
			return d.Validate(CallerHost(ctx), args), nil
		}},
		{Name: MethodTest, Fn: func(ctx context.Context, args []any) (any, error) {
			return d.Test(args), nil
		}},
	}
}

// Root returns the root namespace.
func (d *Dispatcher) Root() string { return d.root }

// Namespace returns the product namespace.
func (d *Dispatcher) Namespace() string { return d.namespace }

// Prefix returns the prefix shared by all namespaced methods, "root.namespace.".
func (d *Dispatcher) Prefix() string { return d.root + "." + d.namespace + "." }

// Methods returns the qualified names of every exposed method, sorted.
func (d *Dispatcher) Methods() []string {
	return sortedNames(d.methods)
}

// has reports whether qualified is in the method table.
func (d *Dispatcher) has(qualified string) bool {
	_, ok := d.methods[qualified]
	return ok
}

// Dispatch runs one call. call.Method must be the qualified name the call was
// routed on and call.Args the inbound argument array whose first element is
// the sealed blob.
//
// Unknown methods return MethodNotAllowed and arguments that do not open return
// Unauthorized; in both cases no operation runs. Otherwise the operation's
// result and error are returned as is.
func (d *Dispatcher) Dispatch(ctx context.Context, call *message.Call) (any, error) {
	m, ok := d.methods[call.Method]
	if !ok {
		return message.MethodNotAllowed, nil
	}

	args := d.open(call.Args)
	if args == nil {
		return message.Unauthorized, nil
	}

	return m.Fn(withCallerHost(ctx, call.Host), args)
}

func (d *Dispatcher) open(raw []any) []any {
	if len(raw) == 0 {
		return nil
	}
	blob, ok := raw[0].(string)
	if !ok {
		return nil
	}
	return d.box.Open(blob)
}

// Token returns the validation token for host: md5(host + public + secret).
func (d *Dispatcher) Token(host string) string {
	return cryptobox.Hash(host, d.publicKey, d.secretKey)
}

// Validate reports whether args[0] is the validation token for host.
func (d *Dispatcher) Validate(host string, args []any) bool {
	if len(args) == 0 {
		return false
	}
	got, ok := args[0].(string)
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(d.Token(host))) == 1
}

// Test echoes the decrypted arguments.
func (d *Dispatcher) Test(args []any) []any {
	return args
}

type callerHostKey struct{}

func withCallerHost(ctx context.Context, host string) context.Context {
	return context.WithValue(ctx, callerHostKey{}, host)
}

// CallerHost returns the Host header of the request being dispatched.
func CallerHost(ctx context.Context) string {
	host, _ := ctx.Value(callerHostKey{}).(string)
	return host
}
