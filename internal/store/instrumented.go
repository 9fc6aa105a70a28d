package store

import (
	"context"
	"time"

	"github.com/miniblog/gateway/internal/observability"
)

// InstrumentedStore wraps a Store and counts every operation by outcome.
type InstrumentedStore struct {
	inner   Store
	metrics *observability.Metrics
}

// Instrument wraps the store with per-operation metrics.
func Instrument(inner Store, metrics *observability.Metrics) *InstrumentedStore {
	return &InstrumentedStore{inner: inner, metrics: metrics}
}

// A missing key is a normal outcome, not a store failure.
func (s *InstrumentedStore) record(operation string, err error) {
	if IsKeyNotFound(err) {
		err = nil
	}
	s.metrics.RecordStoreOperation(operation, err)
}

func (s *InstrumentedStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.inner.Get(ctx, key)
	s.record("get", err)
	return value, err
}

func (s *InstrumentedStore) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	err := s.inner.Set(ctx, key, value, expiration)
	s.record("set", err)
	return err
}

func (s *InstrumentedStore) Delete(ctx context.Context, key string) error {
	err := s.inner.Delete(ctx, key)
	s.record("delete", err)
	return err
}

func (s *InstrumentedStore) Exists(ctx context.Context, key string) (bool, error) {
	present, err := s.inner.Exists(ctx, key)
	s.record("exists", err)
	return present, err
}

func (s *InstrumentedStore) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	value, err := s.inner.Increment(ctx, key, delta)
	s.record("increment", err)
	return value, err
}

func (s *InstrumentedStore) IncrementWithExpiry(ctx context.Context, key string, delta int64, expiration time.Duration) (int64, error) {
	value, err := s.inner.IncrementWithExpiry(ctx, key, delta, expiration)
	s.record("increment_with_expiry", err)
	return value, err
}

func (s *InstrumentedStore) Ping(ctx context.Context) error {
	err := s.inner.Ping(ctx)
	s.record("ping", err)
	return err
}

func (s *InstrumentedStore) Close() error {
	return s.inner.Close()
}
