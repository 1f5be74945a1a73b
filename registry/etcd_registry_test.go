package registry

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

// newTestRegistry connects to the etcd named by XMLRPC_TEST_ETCD (default
// localhost:2379) and skips the test when it does not answer.
func newTestRegistry(t *testing.T) *EtcdRegistry {
	t.Helper()
	endpoints := []string{"localhost:2379"}
	if env := os.Getenv("XMLRPC_TEST_ETCD"); env != "" {
		endpoints = strings.Split(env, ",")
	}

	reg, err := NewEtcdRegistry(endpoints, zaptest.NewLogger(t))
	if err != nil {
		t.Skipf("etcd unavailable: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := reg.Client().Status(ctx, endpoints[0]); err != nil {
		reg.Close()
		t.Skipf("etcd unavailable: %v", err)
	}
	t.Cleanup(func() { reg.Close() })
	return reg
}

func TestRegisterAndDiscover(t *testing.T) {
	reg := newTestRegistry(t)
	service := "wp.registrytest"

	inst1 := ServiceInstance{Addr: "127.0.0.1:8001", Path: "/xmlrpc", Weight: 10, Version: "1.0"}
	inst2 := ServiceInstance{Addr: "127.0.0.1:8002", Path: "/xmlrpc", Weight: 5, Version: "1.0"}

	if err := reg.Register(service, inst1, 10); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(service, inst2, 10); err != nil {
		t.Fatal(err)
	}
	defer reg.Deregister(service, inst2.Addr)

	instances, err := reg.Discover(service)
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 2 {
		t.Fatalf("expect 2 instances, got %d", len(instances))
	}

	if err := reg.Deregister(service, inst1.Addr); err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)

	instances, err = reg.Discover(service)
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 1 {
		t.Fatalf("expect 1 instance after deregister, got %d", len(instances))
	}
	if instances[0].Addr != inst2.Addr || instances[0].Path != "/xmlrpc" {
		t.Fatalf("expect %s /xmlrpc, got %+v", inst2.Addr, instances[0])
	}
}

func TestWatch(t *testing.T) {
	reg := newTestRegistry(t)
	service := "wp.watchtest"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := reg.Watch(ctx, service)
	time.Sleep(100 * time.Millisecond)

	inst := ServiceInstance{Addr: "127.0.0.1:8101", Path: "/xmlrpc", Weight: 1}
	if err := reg.Register(service, inst, 10); err != nil {
		t.Fatal(err)
	}
	defer reg.Deregister(service, inst.Addr)

	select {
	case instances := <-updates:
		if len(instances) != 1 || instances[0].Addr != inst.Addr {
			t.Fatalf("unexpected watch update: %+v", instances)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no watch update after register")
	}
}

func TestWatchClosesWithContext(t *testing.T) {
	reg := newTestRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	updates := reg.Watch(ctx, "wp.watchclose")
	cancel()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-updates:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("watch channel not closed after cancel")
		}
	}
}

func TestDeregisterRevokesLease(t *testing.T) {
	reg := newTestRegistry(t)
	service := "wp.leasetest"
	inst := ServiceInstance{Addr: "127.0.0.1:8201", Path: "/xmlrpc"}

	if err := reg.Register(service, inst, 30); err != nil {
		t.Fatal(err)
	}
	key := serviceKey(service, inst.Addr)
	reg.mu.Lock()
	l, ok := reg.leases[key]
	reg.mu.Unlock()
	if !ok {
		t.Fatal("expect lease to be tracked after register")
	}

	if err := reg.Deregister(service, inst.Addr); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ttl, err := reg.Client().TimeToLive(ctx, l.id)
	if err != nil {
		t.Fatal(err)
	}
	if ttl.TTL != -1 {
		t.Fatalf("expect revoked lease, got ttl %d", ttl.TTL)
	}
	reg.mu.Lock()
	_, ok = reg.leases[key]
	reg.mu.Unlock()
	if ok {
		t.Fatal("expect lease to be forgotten after deregister")
	}

	instances, err := reg.Discover(service)
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 0 {
		t.Fatalf("expect no instances, got %+v", instances)
	}
}

func TestRegisterAgainRevokesOldLease(t *testing.T) {
	reg := newTestRegistry(t)
	service := "wp.leasereplace"
	inst := ServiceInstance{Addr: "127.0.0.1:8202", Path: "/xmlrpc"}

	if err := reg.Register(service, inst, 30); err != nil {
		t.Fatal(err)
	}
	defer reg.Deregister(service, inst.Addr)
	key := serviceKey(service, inst.Addr)
	reg.mu.Lock()
	first := reg.leases[key]
	reg.mu.Unlock()

	if err := reg.Register(service, inst, 30); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ttl, err := reg.Client().TimeToLive(ctx, first.id)
	if err != nil {
		t.Fatal(err)
	}
	if ttl.TTL != -1 {
		t.Fatalf("expect replaced lease revoked, got ttl %d", ttl.TTL)
	}
	instances, err := reg.Discover(service)
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 1 {
		t.Fatalf("expect the instance to survive re-registration, got %+v", instances)
	}
}
