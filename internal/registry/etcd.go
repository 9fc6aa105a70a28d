package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/miniblog/gateway/internal/observability"
)

// EtcdRegistry implements Registry using etcd v3.
//
// Layout: key = {namespace}/{serviceName}/{address:port}, value = the
// JSON-encoded Instance. Registrations carry a TTL lease with background
// keepalive, so crashed instances disappear automatically.
type EtcdRegistry struct {
	client    *clientv3.Client
	namespace string
	logger    observability.Logger
}

// EtcdOption is a functional option for configuring the etcd registry.
type EtcdOption func(*EtcdRegistry)

// WithEtcdLogger sets the logger for the etcd registry.
func WithEtcdLogger(logger observability.Logger) EtcdOption {
	return func(r *EtcdRegistry) {
		r.logger = logger
	}
}

// NewEtcdRegistry creates a registry connected to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, namespace string, opts ...EtcdOption) (*EtcdRegistry, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("connect etcd registry: %w", err)
	}

	r := &EtcdRegistry{
		client:    client,
		namespace: strings.TrimSuffix(namespace, "/"),
		logger:    observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

func (r *EtcdRegistry) serviceKey(serviceName string, instance Instance) string {
	return r.servicePrefix(serviceName) + instance.HostPort()
}

func (r *EtcdRegistry) servicePrefix(serviceName string) string {
	return r.namespace + "/" + serviceName + "/"
}

// Discover implements Registry using a prefix Get.
func (r *EtcdRegistry) Discover(ctx context.Context, serviceName string) ([]Instance, error) {
	resp, err := r.client.Get(ctx, r.servicePrefix(serviceName), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", serviceName, err)
	}

	instances := make([]Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance Instance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			r.logger.Warn("skipping malformed registry entry",
				observability.String("service", serviceName),
				observability.String("key", string(kv.Key)),
				observability.Error(err),
			)
			continue
		}
		instances = append(instances, instance)
	}

	return instances, nil
}

// Register implements Registry. The lease is renewed in the background until
// the client is closed or the instance is deregistered.
func (r *EtcdRegistry) Register(ctx context.Context, serviceName string, instance Instance, ttlSeconds int64) error {
	lease, err := r.client.Grant(ctx, ttlSeconds)
	if err != nil {
		return fmt.Errorf("grant lease for %s: %w", serviceName, err)
	}

	value, err := json.Marshal(instance)
	if err != nil {
		return fmt.Errorf("encode instance for %s: %w", serviceName, err)
	}

	key := r.serviceKey(serviceName, instance)
	if _, err := r.client.Put(ctx, key, string(value), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("register %s at %s: %w", serviceName, key, err)
	}

	// Keepalive runs for the lifetime of the client connection; responses
	// must be drained or the channel fills up and renewal stops.
	ch, err := r.client.KeepAlive(context.Background(), lease.ID)
	if err != nil {
		return fmt.Errorf("keepalive for %s: %w", serviceName, err)
	}
	go func() {
		for range ch {
		}
	}()

	r.logger.Info("registered with service registry",
		observability.String("service", serviceName),
		observability.String("instance", instance.HostPort()),
		observability.Int64("lease_ttl_seconds", ttlSeconds),
	)
	return nil
}

// Deregister implements Registry.
func (r *EtcdRegistry) Deregister(ctx context.Context, serviceName string, instance Instance) error {
	if _, err := r.client.Delete(ctx, r.serviceKey(serviceName, instance)); err != nil {
		return fmt.Errorf("deregister %s: %w", serviceName, err)
	}
	return nil
}

// Close implements Registry.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}
