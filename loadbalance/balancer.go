// Package loadbalance picks the host a client sends its next call to when
// hosts are discovered through the registry.
//
// Three strategies are implemented:
//   - RoundRobin:      equal-capacity hosts
//   - WeightedRandom:  hosts with different capacity, by ServiceInstance.Weight
//   - ConsistentHash:  pins one client key (e.g. its public key) to one host
package loadbalance

import (
	"fmt"

	"secure-xmlrpc/registry"
)

// Balancer is the interface for load balancing strategies.
type Balancer interface {
	// Pick selects one instance from the available list. It must be
	// goroutine-safe.
	Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error)

	// Name returns the strategy name.
	Name() string
}

// New returns the balancer registered under name. key is only used by the
// consistent-hash strategy.
func New(name, key string) (Balancer, error) {
	switch name {
	case "", "roundrobin":
		return &RoundRobinBalancer{}, nil
	case "weighted":
		return &WeightedRandomBalancer{}, nil
	case "hash":
		return NewConsistentHashBalancer(key), nil
	default:
		return nil, fmt.Errorf("loadbalance: unknown strategy %q", name)
	}
}
