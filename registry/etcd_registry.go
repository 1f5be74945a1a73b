// Package registry advertises XML-RPC hosts in etcd so clients can locate them
// by namespace instead of a fixed address.
//
//	Key:   /secure-xmlrpc/services/{root.namespace}/{Addr}
//	Value: JSON-encoded ServiceInstance
//
// Entries are attached to a TTL lease that the host keeps alive; a crashed host
// disappears once the lease expires.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// KeyPrefix is the etcd prefix under which hosts are advertised.
const KeyPrefix = "/secure-xmlrpc/services/"

const requestTimeout = 5 * time.Second

// EtcdRegistry implements Registry on etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client
	logger *zap.Logger

	// ctx ends on Close and bounds every keepalive and watch.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	leases map[string]lease // by service key
}

// lease is the etcd lease an advertised instance is attached to.
type lease struct {
	id        clientv3.LeaseID
	keepalive context.CancelFunc
}

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, logger *zap.Logger) (*EtcdRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: requestTimeout,
		Logger:      logger.Named("etcd"),
	})
	if err != nil {
		return nil, fmt.Errorf("registry: connect etcd: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &EtcdRegistry{
		client: c,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		leases: make(map[string]lease),
	}, nil
}

// Client returns the underlying etcd client.
func (r *EtcdRegistry) Client() *clientv3.Client {
	return r.client
}

func serviceKey(serviceName, addr string) string {
	return KeyPrefix + serviceName + "/" + addr
}

// Register advertises instance under serviceName with a TTL lease and keeps the
// lease alive until Deregister or Close. Registering the same address again
// moves it to a fresh lease and revokes the old one.
func (r *EtcdRegistry) Register(serviceName string, instance ServiceInstance, ttl int64) error {
	ctx, cancel := context.WithTimeout(r.ctx, requestTimeout)
	defer cancel()

	grant, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("registry: grant lease: %w", err)
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	key := serviceKey(serviceName, instance.Addr)
	_, err = r.client.Put(ctx, key, string(val), clientv3.WithLease(grant.ID))
	if err != nil {
		return fmt.Errorf("registry: put %s: %w", serviceName, err)
	}

	kaCtx, kaCancel := context.WithCancel(r.ctx)
	ch, err := r.client.KeepAlive(kaCtx, grant.ID)
	if err != nil {
		kaCancel()
		return fmt.Errorf("registry: keepalive: %w", err)
	}
	go func() {
		for range ch {
		}
		r.logger.Debug("lease keepalive stopped", zap.String("service", serviceName), zap.String("addr", instance.Addr))
	}()

	r.mu.Lock()
	old, replaced := r.leases[key]
	r.leases[key] = lease{id: grant.ID, keepalive: kaCancel}
	r.mu.Unlock()

	if replaced {
		old.keepalive()
		if _, err := r.client.Revoke(ctx, old.id); err != nil {
			r.logger.Warn("revoke replaced lease", zap.String("key", key), zap.Error(err))
		}
	}
	return nil
}

// Deregister removes an instance by revoking its lease. Hosts call it before
// they stop listening. An address this registry did not register is deleted
// directly.
func (r *EtcdRegistry) Deregister(serviceName string, addr string) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	key := serviceKey(serviceName, addr)
	r.mu.Lock()
	l, ok := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()

	if ok {
		l.keepalive()
		_, err := r.client.Revoke(ctx, l.id)
		if err == nil {
			return nil
		}
		r.logger.Warn("revoke lease, deleting key instead", zap.String("key", key), zap.Error(err))
	}
	if _, err := r.client.Delete(ctx, key); err != nil {
		return fmt.Errorf("registry: delete %s: %w", serviceName, err)
	}
	return nil
}

// Watch emits the full instance list of serviceName after every change under
// its prefix. Only the latest list is buffered; a slow reader skips
// intermediate ones. The channel is closed once ctx ends or the registry is
// closed.
func (r *EtcdRegistry) Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)
	prefix := KeyPrefix + serviceName + "/"

	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(r.ctx, cancel)

	go func() {
		defer close(ch)
		defer stop()
		defer cancel()

		watchChan := r.client.Watch(clientv3.WithRequireLeader(ctx), prefix, clientv3.WithPrefix())
		for resp := range watchChan {
			if err := resp.Err(); err != nil {
				r.logger.Warn("watch", zap.String("service", serviceName), zap.Error(err))
				continue
			}
			instances, err := r.Discover(serviceName)
			if err != nil {
				r.logger.Warn("discover after watch event", zap.String("service", serviceName), zap.Error(err))
				continue
			}
			select {
			case <-ch:
			default:
			}
			ch <- instances
		}
		r.logger.Debug("watch stopped", zap.String("service", serviceName))
	}()

	return ch
}

// Discover returns the instances currently advertised under serviceName.
func (r *EtcdRegistry) Discover(serviceName string) ([]ServiceInstance, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	resp, err := r.client.Get(ctx, KeyPrefix+serviceName+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("registry: get %s: %w", serviceName, err)
	}

	instances := make([]ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance ServiceInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			r.logger.Warn("skipping malformed instance", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		instances = append(instances, instance)
	}

	return instances, nil
}

// Close stops every keepalive and watch and releases the etcd connection.
// Instances still registered expire with their leases.
func (r *EtcdRegistry) Close() error {
	r.cancel()
	return r.client.Close()
}
