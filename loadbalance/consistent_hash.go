package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"sync"

	"secure-xmlrpc/registry"
)

const defaultReplicas = 100

// ConsistentHashBalancer maps keys onto a hash ring of instances. The same key
// keeps landing on the same instance until the ring changes.
//
// Each instance is placed on the ring as replicas virtual nodes so a handful
// of hosts still spread evenly.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	              ╱       ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	              ╲       ╱
//	                ╲   ╱
type ConsistentHashBalancer struct {
	key      string // Key used by Pick(instances)
	replicas int

	mu    sync.Mutex
	sig   string // Addresses the ring was built from
	ring  []uint32
	nodes map[uint32]*registry.ServiceInstance
}

// NewConsistentHashBalancer creates an empty ring that resolves key when used
// as a Balancer.
func NewConsistentHashBalancer(key string) *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		key:      key,
		replicas: defaultReplicas,
		nodes:    make(map[uint32]*registry.ServiceInstance),
	}
}

// add places an instance onto the ring. Callers hold mu.
func (b *ConsistentHashBalancer) add(instance *registry.ServiceInstance) {
	for i := 0; i < b.replicas; i++ {
		hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", instance.Addr, i)))
		b.ring = append(b.ring, hash)
		b.nodes[hash] = instance
	}
	sort.Slice(b.ring, func(i, j int) bool {
		return b.ring[i] < b.ring[j]
	})
}

// lookup finds the instance responsible for key. Callers hold mu.
func (b *ConsistentHashBalancer) lookup(key string) (*registry.ServiceInstance, error) {
	if len(b.ring) == 0 {
		return nil, fmt.Errorf("no instances available")
	}
	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}
	return b.nodes[b.ring[idx]], nil
}

// Pick rebuilds the ring when the instance set changed and resolves the
// balancer's key on it.
func (b *ConsistentHashBalancer) Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, fmt.Errorf("no instances available")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if sig := signature(instances); sig != b.sig {
		b.ring = b.ring[:0]
		b.nodes = make(map[uint32]*registry.ServiceInstance, len(instances)*b.replicas)
		for i := range instances {
			inst := instances[i]
			b.add(&inst)
		}
		b.sig = sig
	}
	return b.lookup(b.key)
}

func signature(instances []registry.ServiceInstance) string {
	addrs := make([]string, len(instances))
	for i, inst := range instances {
		addrs[i] = inst.Addr + inst.Path
	}
	sort.Strings(addrs)
	return strings.Join(addrs, ",")
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
