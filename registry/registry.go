package registry

import "context"

// ServiceInstance is one host serving a namespace. Path is the HTTP path the
// host answers XML-RPC on.
type ServiceInstance struct {
	Addr    string
	Path    string
	Weight  int // Weight for load balancing
	Version string
}

// Registry advertises and resolves hosts by service name. Hosts use the
// qualified namespace, e.g. "wp.acme", as the service name.
type Registry interface {
	Register(serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(serviceName string, addr string) error
	Discover(serviceName string) ([]ServiceInstance, error)
	// Watch emits the instance list after each change until ctx ends; the
	// channel is then closed. It may return nil when changes cannot be watched.
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance
}
