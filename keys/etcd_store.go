package keys

import (
	"context"
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// DefaultEtcdPrefix is the key prefix EtcdStore uses when none is given.
const DefaultEtcdPrefix = "/secure-xmlrpc/options/"

// EtcdStore keeps options as etcd keys under a prefix, so every host of a
// namespace sees the same credentials.
type EtcdStore struct {
	client *clientv3.Client
	prefix string
}

func NewEtcdStore(client *clientv3.Client, prefix string) *EtcdStore {
	if prefix == "" {
		prefix = DefaultEtcdPrefix
	}
	return &EtcdStore{client: client, prefix: prefix}
}

func (s *EtcdStore) Get(ctx context.Context, name string) (string, bool, error) {
	resp, err := s.client.Get(ctx, s.prefix+name)
	if err != nil {
		return "", false, fmt.Errorf("keys: etcd get %s: %w", name, err)
	}
	if len(resp.Kvs) == 0 {
		return "", false, nil
	}
	return string(resp.Kvs[0].Value), true, nil
}

// Set writes value unless the key already holds it. The compare and the write
// happen in one transaction.
func (s *EtcdStore) Set(ctx context.Context, name, value string) (bool, error) {
	key := s.prefix + name
	resp, err := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.Value(key), "=", value)).
		Else(clientv3.OpPut(key, value)).
		Commit()
	if err != nil {
		return false, fmt.Errorf("keys: etcd put %s: %w", name, err)
	}
	return !resp.Succeeded, nil
}
